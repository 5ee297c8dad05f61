package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractPlainText(t *testing.T) {
	text, err := Extract("text/plain; charset=utf-8", []byte("  hello world  "))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractMarkdown(t *testing.T) {
	text, err := Extract("text/markdown", []byte("# Heading\n\nbody text"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "body text") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractHTML(t *testing.T) {
	html := `<html><head><title>T</title></head><body><article>
		<p>The quick brown fox jumps over the lazy dog, repeatedly and with enthusiasm.</p>
		<p>A second paragraph keeps the extractor convinced this is a real article.</p>
	</article></body></html>`
	text, err := Extract("text/html", []byte(html))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "quick brown fox") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractDocx(t *testing.T) {
	docXML := `<?xml version="1.0"?>
<document xmlns="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
	<body>
		<p><r><t>First paragraph.</t></r></p>
		<p><r><t>Second </t></r><r><t>paragraph.</t></r></p>
	</body>
</document>`
	text, err := Extract(mimeDocx, buildDocx(t, docXML))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "First paragraph.\nSecond paragraph."
	if text != want {
		t.Fatalf("got %q, want %q", text, want)
	}
}

func TestExtractDocxMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("other.xml")
	f.Write([]byte("<x/>"))
	w.Close()

	if _, err := Extract(mimeDocx, buf.Bytes()); err == nil {
		t.Fatal("expected error for docx without document.xml")
	}
}

func TestExtractUnsupportedMime(t *testing.T) {
	if _, err := Extract("application/pdf", []byte("%PDF-1.4")); err == nil {
		t.Fatal("expected error for unsupported mime type")
	}
}

func TestExtractEmptyPayload(t *testing.T) {
	if _, err := Extract("text/plain", []byte("   \n\t ")); err == nil {
		t.Fatal("expected error for whitespace-only payload")
	}
}

func TestExtractInvalidUTF8(t *testing.T) {
	if _, err := Extract("text/plain", []byte{0xff, 0xfe, 0xfd}); err == nil {
		t.Fatal("expected error for invalid utf-8")
	}
}
