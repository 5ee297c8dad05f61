package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// sources table as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery against indexed sources of one document,
// ranked by ts_rank with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	if q.DocumentID == "" {
		return nil, fmt.Errorf("retrieval query requires a document id")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}

	const query = `
		SELECT id, title,
			ts_headline('english', extracted_text, plainto_tsquery('english', $1), 'MaxFragments=2,MaxWords=60') AS snippet
		FROM sources
		WHERE document_id = $2
			AND status = 'indexed'
			AND fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC
		LIMIT $3`

	rows, err := p.db.QueryContext(context.Background(), query, q.Text, q.DocumentID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.SourceID, &h.Title, &h.Snippet); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
