package search

import (
	"context"
	"log"

	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/notify"
)

// Fallback answers a query when Meilisearch is down. The Postgres store
// implements it with a substring match over the stored documents.
type Fallback interface {
	SearchProfileSections(ctx context.Context, userID, query string, limit int) ([]string, error)
}

// SectionLoader reads section documents for indexing.
type SectionLoader interface {
	GetProfileSection(ctx context.Context, userID, sectionID string) (*forms.SectionDocument, error)
	ListProfileSections(ctx context.Context, userID string) ([]*forms.SectionDocument, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres substring search. meili may be nil when search is not configured.
type Service struct {
	meili    *Meili
	fallback Fallback
	catalog  *forms.Catalog
}

func NewService(meili *Meili, fallback Fallback, catalog *forms.Catalog) *Service {
	return &Service{meili: meili, fallback: fallback, catalog: catalog}
}

// Search runs a query scoped to one user.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	sectionIDs, err := s.fallback.SearchProfileSections(ctx, q.UserID, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results := make([]Result, 0, len(sectionIDs))
	for _, id := range sectionIDs {
		r := Result{SectionID: id}
		if def, ok := s.catalog.Section(id); ok {
			r.Label = def.Label
		}
		results = append(results, r)
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexSection re-indexes every answer of one section (fire-and-forget).
func (s *Service) IndexSection(userID string, def forms.SectionDef, doc *forms.SectionDocument) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := FlattenAnswers(userID, def, doc)
	go func() {
		if err := s.meili.IndexAnswers(records); err != nil {
			log.Printf("search: index section %s: %v", def.ID, err)
			return
		}
		// Answers removed since the last flush leave stale records behind;
		// their ids are derivable from the catalog, so delete the leftovers.
		present := make(map[string]bool, len(records))
		for _, r := range records {
			present[r.ID] = true
		}
		for _, q := range def.Questions {
			id := recordID(userID, def.ID, q.ID)
			if present[id] {
				continue
			}
			if err := s.meili.DeleteAnswer(id); err != nil {
				log.Printf("search: delete answer %s: %v", id, err)
			}
		}
	}()
}

// Subscribe attaches the indexer to the change bus: every persisted section
// write is re-indexed from the store.
func (s *Service) Subscribe(bus *notify.Bus, loader SectionLoader) *notify.Subscription {
	return bus.Subscribe(func(u notify.Update) {
		def, ok := s.catalog.Section(u.SectionID)
		if !ok {
			return
		}
		doc, err := loader.GetProfileSection(context.Background(), u.UserID, u.SectionID)
		if err != nil {
			log.Printf("search: load section %s for indexing: %v", u.SectionID, err)
			return
		}
		s.IndexSection(u.UserID, def, doc)
	})
}

// ReindexUser pushes every saved section of one user into the index. Used
// when Meilisearch recovers or a user is first seen.
func (s *Service) ReindexUser(ctx context.Context, userID string, loader SectionLoader) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	docs, err := loader.ListProfileSections(ctx, userID)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	for _, doc := range docs {
		def, ok := s.catalog.Section(doc.ID)
		if !ok {
			continue
		}
		s.IndexSection(userID, def, doc)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
