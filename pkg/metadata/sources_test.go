package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleBooksSearch(t *testing.T) {
	t.Parallel()

	t.Run("decodes volumes into candidates", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/volumes", r.URL.Path)
			assert.Equal(t, "intitle:Dune inauthor:Herbert", r.URL.Query().Get("q"))
			assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
			assert.Equal(t, "test-key", r.URL.Query().Get("key"))

			fmt.Fprint(w, `{
				"items": [{
					"id": "abc123",
					"volumeInfo": {
						"title": "Dune",
						"authors": ["Frank Herbert"],
						"description": "A desert planet.",
						"publisher": "Chilton Books",
						"publishedDate": "1965-08-01",
						"categories": ["Fiction", "Science Fiction"],
						"language": "en",
						"industryIdentifiers": [
							{"type": "ISBN_10", "identifier": "0441013597"},
							{"type": "ISBN_13", "identifier": "9780441013593"}
						],
						"imageLinks": {"thumbnail": "https://example.com/cover.jpg"}
					}
				}]
			}`)
		}))
		defer srv.Close()

		source := NewGoogleBooks("test-key", WithGoogleBooksBaseURL(srv.URL))
		candidates, err := source.Search(context.Background(), "Dune", "Herbert")
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		cand := candidates[0]
		assert.Equal(t, SourceGoogleBooks, cand.Source)
		assert.Equal(t, "abc123", cand.ExternalID)
		assert.Equal(t, "Dune", cand.Title)
		assert.Equal(t, "Frank Herbert", cand.Author)
		assert.Equal(t, "Chilton Books", cand.Publisher)
		assert.Equal(t, []string{"Fiction", "Science Fiction"}, cand.Genres)
		assert.Equal(t, "9780441013593", cand.ISBN)
		assert.Equal(t, "https://example.com/cover.jpg", cand.CoverURL)
		assert.True(t, cand.Usable())
	})

	t.Run("prefers ISBN_13 regardless of identifier order", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{
				"items": [{
					"id": "x",
					"volumeInfo": {
						"title": "Dune",
						"industryIdentifiers": [
							{"type": "ISBN_13", "identifier": "9780441013593"},
							{"type": "ISBN_10", "identifier": "0441013597"}
						]
					}
				}]
			}`)
		}))
		defer srv.Close()

		source := NewGoogleBooks("", WithGoogleBooksBaseURL(srv.URL))
		candidates, err := source.Search(context.Background(), "Dune", "")
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "9780441013593", candidates[0].ISBN)
	})

	t.Run("maps 429 to the rate limit sentinel", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		source := NewGoogleBooks("", WithGoogleBooksBaseURL(srv.URL))
		_, err := source.Search(context.Background(), "Dune", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimited))
	})

	t.Run("reports other statuses as status errors", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		source := NewGoogleBooks("", WithGoogleBooksBaseURL(srv.URL))
		_, err := source.Search(context.Background(), "Dune", "")
		require.Error(t, err)
		assert.True(t, IsClientError(err))

		statusErr := &StatusError{}
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusForbidden, statusErr.Code)
	})

	t.Run("returns no candidates for an empty result set", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		source := NewGoogleBooks("", WithGoogleBooksBaseURL(srv.URL))
		candidates, err := source.Search(context.Background(), "Dune", "")
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestOpenLibrarySearch(t *testing.T) {
	t.Parallel()

	t.Run("decodes docs into candidates", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search.json", r.URL.Path)
			assert.Equal(t, "Hyperion", r.URL.Query().Get("title"))
			assert.Equal(t, "Simmons", r.URL.Query().Get("author"))

			fmt.Fprint(w, `{
				"docs": [{
					"key": "/works/OL123W",
					"title": "Hyperion",
					"author_name": ["Dan Simmons"],
					"first_publish_year": 1989,
					"isbn": ["9780553283686"],
					"publisher": ["Doubleday"],
					"language": ["eng"],
					"subject": ["Science fiction", "Pilgrims", "Poets", "Space", "Time", "War"],
					"cover_i": 255
				}]
			}`)
		}))
		defer srv.Close()

		source := NewOpenLibrary(WithOpenLibraryBaseURL(srv.URL))
		candidates, err := source.Search(context.Background(), "Hyperion", "Simmons")
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		cand := candidates[0]
		assert.Equal(t, SourceOpenLibrary, cand.Source)
		assert.Equal(t, "/works/OL123W", cand.ExternalID)
		assert.Equal(t, "Dan Simmons", cand.Author)
		assert.Equal(t, "1989", cand.PublishedAt)
		assert.Equal(t, "9780553283686", cand.ISBN)
		assert.Len(t, cand.Genres, 5)
		assert.Equal(t, srv.URL+"/b/id/255-L.jpg", cand.CoverURL)
	})

	t.Run("maps 429 to the rate limit sentinel", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		source := NewOpenLibrary(WithOpenLibraryBaseURL(srv.URL))
		_, err := source.Search(context.Background(), "Hyperion", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimited))
	})
}

func TestComicVineSearch(t *testing.T) {
	t.Parallel()

	t.Run("decodes volume results into candidates", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search/", r.URL.Path)
			assert.Equal(t, "volume", r.URL.Query().Get("resources"))
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			assert.Equal(t, "cv-key", r.URL.Query().Get("api_key"))
			assert.Equal(t, "Saga", r.URL.Query().Get("query"))

			fmt.Fprint(w, `{
				"status_code": 1,
				"results": [{
					"id": 56789,
					"name": "Saga",
					"start_year": "2012",
					"description": "Two soldiers from opposite sides.",
					"publisher": {"name": "Image Comics"},
					"image": {"medium_url": "https://example.com/saga.jpg"}
				}]
			}`)
		}))
		defer srv.Close()

		source := NewComicVine("cv-key", WithComicVineBaseURL(srv.URL))
		candidates, err := source.Search(context.Background(), "Saga", "")
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		cand := candidates[0]
		assert.Equal(t, SourceComicVine, cand.Source)
		assert.Equal(t, "56789", cand.ExternalID)
		assert.Equal(t, "Saga", cand.Title)
		assert.Equal(t, "Saga", cand.SeriesName)
		assert.Equal(t, "Image Comics", cand.Publisher)
		assert.Equal(t, "2012", cand.PublishedAt)
	})

	t.Run("treats the 420 throttle status as rate limited", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(420)
		}))
		defer srv.Close()

		source := NewComicVine("cv-key", WithComicVineBaseURL(srv.URL))
		_, err := source.Search(context.Background(), "Saga", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimited))
	})

	t.Run("rejects an API-level error status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status_code": 100, "results": []}`)
		}))
		defer srv.Close()

		source := NewComicVine("bad-key", WithComicVineBaseURL(srv.URL))
		_, err := source.Search(context.Background(), "Saga", "")
		require.Error(t, err)
	})
}
