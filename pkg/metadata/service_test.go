package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomebox/tomebox/internal/testgen"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/ratelimit"
)

type stubSource struct {
	name     string
	kind     string
	calls    int
	searchFn func(ctx context.Context, title, author string) ([]Candidate, error)
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Kind() string { return s.kind }

func (s *stubSource) Search(ctx context.Context, title, author string) ([]Candidate, error) {
	s.calls++
	return s.searchFn(ctx, title, author)
}

func newTestService(t *testing.T, sources ...Source) (*Service, *contents.Service) {
	t.Helper()

	contentService := contents.NewService(testgen.SetupTestDB(t))
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	svc := NewService(Options{
		ContentService: contentService,
		Sources:        sources,
		Limiter:        ratelimit.New(),
		Hub:            hub,
		AssetDir:       t.TempDir(),
	})
	return svc, contentService
}

func createPendingContent(t *testing.T, contentService *contents.Service, kind string) *models.Content {
	t.Helper()

	fileType := models.FileTypeEPUB
	if kind == models.ContentKindComic {
		fileType = models.FileTypeCBZ
	}

	content := &models.Content{
		Filepath:   fmt.Sprintf("/library/%s-fixture.%s", kind, fileType),
		FileType:   fileType,
		Kind:       kind,
		Title:      "Fixture",
		Status:     models.ContentStatusPending,
		Visibility: models.VisibilityPublic,
	}
	require.NoError(t, contentService.CreateContent(context.Background(), content))
	return content
}

func TestEnrich(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies the first usable candidate", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return []Candidate{{
					Source:      "stub_books",
					Title:       "Dune",
					Author:      "Frank Herbert",
					Description: "A desert planet.",
					Genres:      []string{"Science Fiction"},
					Publisher:   "Chilton Books",
				}}, nil
			},
		}
		svc, contentService := newTestService(t, source)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusEnriched, got.Status)
		assert.Equal(t, "Dune", got.Title)
		require.NotNil(t, got.Author)
		assert.Equal(t, "Frank Herbert", *got.Author)
		assert.Equal(t, []string{"Science Fiction"}, got.Genres)
		assert.Nil(t, got.QuarantineReason)
		assert.Equal(t, 1, source.calls)
	})

	t.Run("falls back to the unknown author", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return []Candidate{{Source: "stub_books", Title: "Anonymous Work"}}, nil
			},
		}
		svc, contentService := newTestService(t, source)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		require.NotNil(t, got.Author)
		assert.Equal(t, models.AuthorUnknown, *got.Author)
	})

	t.Run("skips sources of a different kind", func(t *testing.T) {
		t.Parallel()
		comicSource := &stubSource{
			name: "stub_comics",
			kind: models.ContentKindComic,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return []Candidate{{Source: "stub_comics", Title: "Saga"}}, nil
			},
		}
		svc, contentService := newTestService(t, comicSource)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusQuarantine, got.Status)
		require.NotNil(t, got.QuarantineReason)
		assert.Contains(t, *got.QuarantineReason, "no metadata sources configured")
		assert.Equal(t, 0, comicSource.calls)
	})

	t.Run("quarantines with a per-source reason when every catalog fails", func(t *testing.T) {
		t.Parallel()
		noMatch := &stubSource{
			name: "stub_empty",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, nil
			},
		}
		limited := &stubSource{
			name: "stub_limited",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, ErrRateLimited
			},
		}
		forbidden := &stubSource{
			name: "stub_forbidden",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, &StatusError{Code: http.StatusForbidden}
			},
		}
		svc, contentService := newTestService(t, noMatch, limited, forbidden)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusQuarantine, got.Status)
		require.NotNil(t, got.QuarantineReason)
		assert.True(t, strings.HasPrefix(*got.QuarantineReason, "all metadata sources failed: "))
		assert.Contains(t, *got.QuarantineReason, "stub_empty: no match")
		assert.Contains(t, *got.QuarantineReason, "stub_limited: rate-limited")
		assert.Contains(t, *got.QuarantineReason, "stub_forbidden: rejected by source")
	})

	t.Run("classifies an exhausted quota wait as rate limited", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, errors.New("should not be reached")
			},
		}
		svc, _ := newTestService(t, source)
		svc.limiter.SetQuota("stub_books", ratelimit.Quota{Limit: 1, Window: time.Hour})
		require.True(t, svc.limiter.Allow("stub_books"))

		wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		candidate, class := svc.searchSource(wctx, source, "Dune", "")
		assert.Nil(t, candidate)
		assert.Equal(t, failureRateLimited, class)
		assert.Equal(t, 0, source.calls)
	})

	t.Run("does not retry quota rejections or client errors", func(t *testing.T) {
		t.Parallel()
		limited := &stubSource{
			name: "stub_limited",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, ErrRateLimited
			},
		}
		forbidden := &stubSource{
			name: "stub_forbidden",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, &StatusError{Code: http.StatusForbidden}
			},
		}
		svc, contentService := newTestService(t, limited, forbidden)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))
		assert.Equal(t, 1, limited.calls)
		assert.Equal(t, 1, forbidden.calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		t.Parallel()
		flaky := &stubSource{
			name: "stub_flaky",
			kind: models.ContentKindBook,
		}
		flaky.searchFn = func(context.Context, string, string) ([]Candidate, error) {
			if flaky.calls < 3 {
				return nil, errors.New("connection reset")
			}
			return []Candidate{{Source: "stub_flaky", Title: "Dune"}}, nil
		}
		svc, contentService := newTestService(t, flaky)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusEnriched, got.Status)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("is a no-op for already enriched records", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return nil, errors.New("should not be called")
			},
		}
		svc, contentService := newTestService(t, source)
		content := createPendingContent(t, contentService, models.ContentKindBook)
		content.Status = models.ContentStatusEnriched

		require.NoError(t, svc.Enrich(ctx, content))
		assert.Equal(t, 0, source.calls)
	})

	t.Run("never re-enriches a quarantined record", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return []Candidate{{Source: "stub_books", Title: "Dune"}}, nil
			},
		}
		svc, contentService := newTestService(t, source)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		reason := "all metadata sources failed: stub_books: no match"
		content.Status = models.ContentStatusQuarantine
		content.QuarantineReason = &reason
		require.NoError(t, contentService.UpdateContent(ctx, content, contents.UpdateContentOptions{
			Columns: []string{"status", "quarantine_reason"},
		}))

		require.NoError(t, svc.Enrich(ctx, content))
		assert.Equal(t, 0, source.calls)

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusQuarantine, got.Status)
		require.NotNil(t, got.QuarantineReason)
	})

	t.Run("downloads the candidate cover", func(t *testing.T) {
		t.Parallel()
		coverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("\x89PNG\r\n\x1a\nfixture-bytes"))
		}))
		defer coverSrv.Close()

		source := &stubSource{
			name: "stub_books",
			kind: models.ContentKindBook,
			searchFn: func(context.Context, string, string) ([]Candidate, error) {
				return []Candidate{{
					Source:   "stub_books",
					Title:    "Dune",
					CoverURL: coverSrv.URL + "/cover.png",
				}}, nil
			},
		}
		svc, contentService := newTestService(t, source)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		require.NoError(t, svc.Enrich(ctx, content))

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		require.NotNil(t, got.CoverImagePath)
		assert.True(t, testgen.FileExists(*got.CoverImagePath))
	})
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("lifts a quarantined record", func(t *testing.T) {
		t.Parallel()
		svc, contentService := newTestService(t)
		content := createPendingContent(t, contentService, models.ContentKindComic)

		reason := "all metadata sources failed: comic_vine: no match"
		content.Status = models.ContentStatusQuarantine
		content.QuarantineReason = &reason
		require.NoError(t, contentService.UpdateContent(ctx, content, contents.UpdateContentOptions{
			Columns: []string{"status", "quarantine_reason"},
		}))

		result, err := svc.Apply(ctx, content.ID, Candidate{
			Source:     SourceComicVine,
			Title:      "Saga",
			SeriesName: "Saga",
			Publisher:  "Image Comics",
		})
		require.NoError(t, err)
		assert.Contains(t, result.FieldsUpdated, "title")
		assert.False(t, result.CoverDownloaded)

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, models.ContentStatusEnriched, got.Status)
		assert.Nil(t, got.QuarantineReason)
		assert.Equal(t, "Saga", got.Title)
	})

	t.Run("re-applying the same candidate is idempotent", func(t *testing.T) {
		t.Parallel()
		svc, contentService := newTestService(t)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		candidate := Candidate{
			Source: SourceGoogleBooks,
			Title:  "Dune",
			Author: "Frank Herbert",
			Genres: []string{"Science Fiction"},
		}

		_, err := svc.Apply(ctx, content.ID, candidate)
		require.NoError(t, err)
		_, err = svc.Apply(ctx, content.ID, candidate)
		require.NoError(t, err)

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &content.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"Science Fiction"}, got.Genres)
		require.NotNil(t, got.Author)
		assert.Equal(t, "Frank Herbert", *got.Author)
	})

	t.Run("rejects a candidate without a title", func(t *testing.T) {
		t.Parallel()
		svc, contentService := newTestService(t)
		content := createPendingContent(t, contentService, models.ContentKindBook)

		_, err := svc.Apply(ctx, content.ID, Candidate{Source: SourceGoogleBooks})
		require.Error(t, err)
	})

	t.Run("unknown content", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)

		_, err := svc.Apply(ctx, 9999, Candidate{Source: SourceGoogleBooks, Title: "Dune"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errcodes.NotFound("Content")))
	})

	t.Run("broadcasts a content update to subscribers", func(t *testing.T) {
		t.Parallel()
		svc, contentService := newTestService(t)
		conn := testgen.SubscribeHub(t, svc.hub)

		content := createPendingContent(t, contentService, models.ContentKindBook)

		_, err := svc.Apply(ctx, content.ID, Candidate{Source: SourceGoogleBooks, Title: "Dune"})
		require.NoError(t, err)

		seen := testgen.ReadEventsUntil(t, conn, 5*time.Second, events.TypeContentUpdated)
		counts := testgen.CountEventTypes(seen)
		assert.Equal(t, 1, counts[events.TypeContentUpdated])

		payload, ok := seen[len(seen)-1].Payload.(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, content.ID, payload["content_id"])
		assert.Equal(t, SourceGoogleBooks, payload["source"])
	})
}

func TestListSources(t *testing.T) {
	t.Parallel()

	book := &stubSource{name: "stub_books", kind: models.ContentKindBook}
	comic := &stubSource{name: "stub_comics", kind: models.ContentKindComic}
	svc, _ := newTestService(t, book, comic)

	all := svc.ListSources("")
	assert.Len(t, all, 2)

	books := svc.ListSources(models.ContentKindBook)
	require.Len(t, books, 1)
	assert.Equal(t, "stub_books", books[0].Name)
	assert.Equal(t, models.ContentKindBook, books[0].Kind)
}

func TestSearchSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	working := &stubSource{
		name: "stub_books",
		kind: models.ContentKindBook,
		searchFn: func(context.Context, string, string) ([]Candidate, error) {
			return []Candidate{{Source: "stub_books", Title: "Dune"}}, nil
		},
	}
	broken := &stubSource{
		name: "stub_broken",
		kind: models.ContentKindBook,
		searchFn: func(context.Context, string, string) ([]Candidate, error) {
			return nil, errors.New("upstream down")
		},
	}

	t.Run("aggregates across catalogs and skips failures", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, working, broken)

		candidates, err := svc.SearchSources(ctx, "Dune", "", "")
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "Dune", candidates[0].Title)
	})

	t.Run("unknown named source", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, working)

		_, err := svc.SearchSources(ctx, "Dune", "", "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errcodes.NotFound("Metadata source")))
	})
}
