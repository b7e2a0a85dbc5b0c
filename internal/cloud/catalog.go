package cloud

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultPageSize is the catalog page size used by AllPanoramas.
const DefaultPageSize = 50

// ListPanoramas fetches the first page of the user's panorama catalog.
func (s *Session) ListPanoramas(ctx context.Context, username string, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	path := fmt.Sprintf("/u/%s/panoramas?pageSize=%d", url.PathEscape(username), pageSize)

	return s.fetchPage(ctx, path)
}

// fetchPage fetches one catalog page from an API path or a next link.
func (s *Session) fetchPage(ctx context.Context, ref string) (*Page, error) {
	var pr pageResponse
	if err := s.client.doJSON(ctx, s.http, http.MethodGet, ref, nil, &pr, nil); err != nil {
		return nil, fmt.Errorf("cloud: listing panoramas: %w", err)
	}

	page := &Page{
		Items: make([]Panorama, 0, len(pr.Items)),
		Next:  pr.Next,
		Self:  pr.Self,
	}

	for i := range pr.Items {
		page.Items = append(page.Items, pr.Items[i].toPanorama())
	}

	s.client.logger.Debug("fetched catalog page",
		slog.Int("items", len(page.Items)),
		slog.Bool("has_next", page.Next != ""),
	)

	return page, nil
}

// AllPanoramas returns a lazy sequence over every item of the user's catalog,
// following next links until a page has none. Each call starts from page
// one; a partially consumed sequence cannot be resumed. A fetch error is
// yielded once and ends the sequence.
func (s *Session) AllPanoramas(ctx context.Context, username string, pageSize int) iter.Seq2[Panorama, error] {
	return func(yield func(Panorama, error) bool) {
		s.client.logger.Info("listing all panoramas", slog.String("username", username))

		page, err := s.ListPanoramas(ctx, username, pageSize)
		pages := 1

		for {
			if err != nil {
				yield(Panorama{}, err)
				return
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if page.Next == "" {
				s.client.logger.Debug("catalog enumeration complete", slog.Int("pages", pages))
				return
			}

			page, err = s.fetchPage(ctx, page.Next)
			pages++
		}
	}
}

// FetchBySelfLink resolves a panorama's self link to its full detail.
// A missing link or a nil session yields (nil, nil): an absent detail is an
// ordinary skip condition, not an error. Only transport and HTTP failures
// are returned as errors.
func (s *Session) FetchBySelfLink(ctx context.Context, selfURL string) (*PanoramaDetail, error) {
	if s == nil || selfURL == "" {
		return nil, nil //nolint:nilnil // absent detail is a skip, not a failure
	}

	var dr detailResponse
	if err := s.client.doJSON(ctx, s.http, http.MethodGet, selfURL, nil, &dr, nil); err != nil {
		return nil, fmt.Errorf("cloud: resolving self link: %w", err)
	}

	return dr.toDetail(), nil
}
