package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/tomebox/tomebox/pkg/models"
)

const googleBooksBaseURL = "https://www.googleapis.com/books/v1"

// SourceGoogleBooks is the registered name of the Google Books catalog.
const SourceGoogleBooks = "google_books"

// GoogleBooks searches the Google Books volumes API for book records.
type GoogleBooks struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type GoogleBooksOption func(*GoogleBooks)

// WithGoogleBooksBaseURL sets a custom base URL (for testing).
func WithGoogleBooksBaseURL(url string) GoogleBooksOption {
	return func(g *GoogleBooks) {
		g.baseURL = url
	}
}

func WithGoogleBooksHTTPClient(hc *http.Client) GoogleBooksOption {
	return func(g *GoogleBooks) {
		g.httpClient = hc
	}
}

func NewGoogleBooks(apiKey string, opts ...GoogleBooksOption) *GoogleBooks {
	g := &GoogleBooks{
		apiKey:  apiKey,
		baseURL: googleBooksBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GoogleBooks) Name() string { return SourceGoogleBooks }
func (g *GoogleBooks) Kind() string { return models.ContentKindBook }

type googleBooksResponse struct {
	Items []struct {
		ID         string `json:"id"`
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			Description         string   `json:"description"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			Categories          []string `json:"categories"`
			Language            string   `json:"language"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			ImageLinks struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (g *GoogleBooks) Search(ctx context.Context, title, author string) ([]Candidate, error) {
	q := "intitle:" + title
	if author != "" {
		q += " inauthor:" + author
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", "5")
	if g.apiKey != "" {
		params.Set("key", g.apiKey)
	}

	reqURL := fmt.Sprintf("%s/volumes?%s", g.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := g.httpClient.Do(req)
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

	body := googleBooksResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.WithStack(err)
	}

	candidates := make([]Candidate, 0, len(body.Items))
	for _, item := range body.Items {
		info := item.VolumeInfo
		cand := Candidate{
			Source:      SourceGoogleBooks,
			ExternalID:  item.ID,
			Title:       info.Title,
			Author:      strings.Join(info.Authors, ", "),
			Description: info.Description,
			Publisher:   info.Publisher,
			PublishedAt: info.PublishedDate,
			Genres:      info.Categories,
			Language:    info.Language,
			CoverURL:    info.ImageLinks.Thumbnail,
		}
		for _, ident := range info.IndustryIdentifiers {
			if ident.Type == "ISBN_13" {
				cand.ISBN = ident.Identifier
				break
			}
			if ident.Type == "ISBN_10" && cand.ISBN == "" {
				cand.ISBN = ident.Identifier
			}
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}
