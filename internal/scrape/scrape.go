// Package scrape fetches web pages and extracts readable article text.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

const maxBodyBytes = 10 << 20

// Result is the readable content extracted from a page.
type Result struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads pages over plain HTTP by default. With useChrome
// set it renders pages in headless Chrome first, which handles sites
// that only produce content client-side.
type Fetcher struct {
	client    *http.Client
	useChrome bool
}

func NewFetcher(useChrome bool) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		useChrome: useChrome,
	}
}

// Fetch downloads the page at rawURL and extracts its readable text.
// The result title falls back to the hostname when the page has none.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Result{}, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	var body io.Reader
	if f.useChrome {
		html, err := f.renderWithChrome(ctx, rawURL)
		if err != nil {
			return Result{}, err
		}
		body = strings.NewReader(html)
	} else {
		reader, closeBody, err := f.download(ctx, rawURL)
		if err != nil {
			return Result{}, err
		}
		defer closeBody()
		body = reader
	}

	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return Result{}, fmt.Errorf("extract article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Result{}, fmt.Errorf("no readable text at %s", rawURL)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = parsed.Hostname()
	}

	return Result{URL: rawURL, Title: title, Text: text}, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (io.Reader, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "inkwell-source-fetcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	return io.LimitReader(resp.Body, maxBodyBytes), func() { resp.Body.Close() }, nil
}

// renderWithChrome loads the page in headless Chrome and returns the
// rendered document HTML.
func (f *Fetcher) renderWithChrome(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			root, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}
