package matcher

import (
	"context"
	"fmt"

	"reelsync/models"
	"reelsync/services/trakt"
	"reelsync/utils/similarity"
)

// TraktSearch is the slice of the Trakt client the searcher needs.
type TraktSearch interface {
	Search(ctx context.Context, query string, types ...string) ([]trakt.SearchResult, error)
}

// TraktSearcher scores Trakt text-search hits by title similarity.
type TraktSearcher struct {
	client TraktSearch
}

func NewTraktSearcher(client TraktSearch) *TraktSearcher {
	return &TraktSearcher{client: client}
}

func (s *TraktSearcher) Search(ctx context.Context, q Query) ([]models.MatchCandidate, error) {
	results, err := s.client.Search(ctx, q.Title, "movie", "show")
	if err != nil {
		return nil, err
	}
	out := make([]models.MatchCandidate, 0, len(results))
	for _, r := range results {
		var (
			title string
			year  int
			ids   trakt.IDs
		)
		switch {
		case r.Movie != nil:
			title, year, ids = r.Movie.Title, r.Movie.Year, r.Movie.IDs
		case r.Show != nil:
			title, year, ids = r.Show.Title, r.Show.Year, r.Show.IDs
		default:
			continue
		}
		if ids.Trakt == 0 {
			continue
		}
		out = append(out, models.MatchCandidate{
			MediaType:   models.ParseMediaType(r.Type),
			CanonicalID: fmt.Sprintf("trakt:%d", ids.Trakt),
			Title:       title,
			Year:        year,
			Confidence:  similarity.Score(q.Title, title),
		})
	}
	return out, nil
}
