// Package retrieval indexes source material and answers lookups scoped
// to a single document.
package retrieval

// Entry is the indexed form of one source.
type Entry struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

// Query describes a lookup. DocumentID is mandatory so one document's
// sources never leak into another's results.
type Query struct {
	Text       string
	DocumentID string
	Limit      int
}

// Hit is a single match returned to the caller.
type Hit struct {
	SourceID string `json:"sourceId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Searcher can execute a retrieval lookup.
type Searcher interface {
	Search(q Query) ([]Hit, error)
	Healthy() bool
}

// Indexer can push source entries into the retrieval index.
type Indexer interface {
	IndexEntry(entry Entry) error
	DeleteEntry(id string) error
}
