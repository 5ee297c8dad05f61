package retrieval

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSources = "inkwell_sources"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sources
// index. The returned value is usable even if the initial connection
// fails; the health loop will reconfigure once Meilisearch comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("retrieval: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSources,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("retrieval: create index %s (may already exist): %v", idxSources, err)
	}

	index := m.client.Index(idxSources)
	filterable := []interface{}{"documentId", "sourceId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("retrieval: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("retrieval: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("retrieval: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the sources index restricted to the query's document.
func (m *Meili) Search(q Query) ([]Hit, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if q.DocumentID == "" {
		return nil, fmt.Errorf("retrieval query requires a document id")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 5
	}

	resp, err := m.client.Index(idxSources).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Filter:                fmt.Sprintf("documentId = %q", q.DocumentID),
		AttributesToCrop:      []string{"text"},
		CropLength:            120,
		AttributesToHighlight: []string{"text"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		hits = append(hits, Hit{
			SourceID: decodeString(hit, "sourceId"),
			Title:    decodeString(hit, "title"),
			Snippet:  firstNonBlank(decodeCroppedString(hit, "text"), decodeString(hit, "text")),
		})
	}
	return hits, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeCroppedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexEntry adds or replaces a source entry in the index.
func (m *Meili) IndexEntry(entry Entry) error {
	_, err := m.client.Index(idxSources).AddDocuments([]Entry{entry}, nil)
	return err
}

// DeleteEntry removes a source entry from the index.
func (m *Meili) DeleteEntry(id string) error {
	_, err := m.client.Index(idxSources).DeleteDocument(id, nil)
	return err
}
