package retrieval

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS. meili may be nil when Meilisearch is not configured.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) ([]Hit, error) {
	if s.meili != nil && s.meili.Healthy() {
		hits, err := s.meili.Search(q)
		if err == nil {
			return nonNil(hits), nil
		}
		log.Printf("retrieval: meilisearch error, falling back to pgfts: %v", err)
	}

	hits, err := s.pgfts.Search(q)
	if err != nil {
		return nil, err
	}
	return nonNil(hits), nil
}

// IndexEntry pushes a source entry to Meilisearch. PG FTS indexes the
// same text through the sources table, so a Meilisearch miss here is
// not fatal and the error is returned for logging only.
func (s *Service) IndexEntry(entry Entry) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.IndexEntry(entry)
}

// DeleteEntry removes a source entry from Meilisearch.
func (s *Service) DeleteEntry(id string) error {
	if s.meili == nil || !s.meili.Healthy() || id == "" {
		return nil
	}
	return s.meili.DeleteEntry(id)
}

func nonNil(hits []Hit) []Hit {
	if hits == nil {
		return []Hit{}
	}
	return hits
}
