package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/tomebox/tomebox/pkg/models"
)

const openLibraryBaseURL = "https://openlibrary.org"
const openLibraryCoverURL = "https://covers.openlibrary.org"

// SourceOpenLibrary is the registered name of the Open Library catalog.
const SourceOpenLibrary = "open_library"

// OpenLibrary searches the Open Library search API for book records.
// No API key required.
type OpenLibrary struct {
	baseURL    string
	coverURL   string
	httpClient *http.Client
}

type OpenLibraryOption func(*OpenLibrary)

// WithOpenLibraryBaseURL sets a custom base URL (for testing). Covers
// are resolved against the same host.
func WithOpenLibraryBaseURL(url string) OpenLibraryOption {
	return func(o *OpenLibrary) {
		o.baseURL = url
		o.coverURL = url
	}
}

func WithOpenLibraryHTTPClient(hc *http.Client) OpenLibraryOption {
	return func(o *OpenLibrary) {
		o.httpClient = hc
	}
}

func NewOpenLibrary(opts ...OpenLibraryOption) *OpenLibrary {
	o := &OpenLibrary{
		baseURL:  openLibraryBaseURL,
		coverURL: openLibraryCoverURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenLibrary) Name() string { return SourceOpenLibrary }
func (o *OpenLibrary) Kind() string { return models.ContentKindBook }

type openLibraryResponse struct {
	Docs []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		ISBN             []string `json:"isbn"`
		Publisher        []string `json:"publisher"`
		Language         []string `json:"language"`
		Subject          []string `json:"subject"`
		CoverID          int      `json:"cover_i"`
	} `json:"docs"`
}

func (o *OpenLibrary) Search(ctx context.Context, title, author string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", "5")

	reqURL := fmt.Sprintf("%s/search.json?%s", o.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.WithStack(ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&StatusError{Code: resp.StatusCode})
	}

	body := openLibraryResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.WithStack(err)
	}

	candidates := make([]Candidate, 0, len(body.Docs))
	for _, doc := range body.Docs {
		cand := Candidate{
			Source:     SourceOpenLibrary,
			ExternalID: doc.Key,
			Title:      doc.Title,
			Author:     strings.Join(doc.AuthorName, ", "),
		}
		if doc.FirstPublishYear > 0 {
			cand.PublishedAt = strconv.Itoa(doc.FirstPublishYear)
		}
		if len(doc.ISBN) > 0 {
			cand.ISBN = doc.ISBN[0]
		}
		if len(doc.Publisher) > 0 {
			cand.Publisher = doc.Publisher[0]
		}
		if len(doc.Language) > 0 {
			cand.Language = doc.Language[0]
		}
		// Open Library subjects are noisy; cap what we treat as genres.
		if len(doc.Subject) > 0 {
			n := len(doc.Subject)
			if n > 5 {
				n = 5
			}
			cand.Genres = doc.Subject[:n]
		}
		if doc.CoverID > 0 {
			cand.CoverURL = fmt.Sprintf("%s/b/id/%d-L.jpg", o.coverURL, doc.CoverID)
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}
