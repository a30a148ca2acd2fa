package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/tomebox/tomebox/pkg/models"
)

const comicVineBaseURL = "https://comicvine.gamespot.com/api"

// SourceComicVine is the registered name of the Comic Vine catalog.
const SourceComicVine = "comic_vine"

// comicVineThrottled is the status Comic Vine uses for quota
// rejections.
const comicVineThrottled = 420

// ComicVine searches the Comic Vine volume API for comic records.
type ComicVine struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type ComicVineOption func(*ComicVine)

// WithComicVineBaseURL sets a custom base URL (for testing).
func WithComicVineBaseURL(url string) ComicVineOption {
	return func(c *ComicVine) {
		c.baseURL = url
	}
}

func WithComicVineHTTPClient(hc *http.Client) ComicVineOption {
	return func(c *ComicVine) {
		c.httpClient = hc
	}
}

func NewComicVine(apiKey string, opts ...ComicVineOption) *ComicVine {
	c := &ComicVine{
		apiKey:  apiKey,
		baseURL: comicVineBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ComicVine) Name() string { return SourceComicVine }
func (c *ComicVine) Kind() string { return models.ContentKindComic }

type comicVineResponse struct {
	StatusCode int `json:"status_code"`
	Results    []struct {
		ID          int    `json:"id"`
		Name        string `json:"name"`
		StartYear   string `json:"start_year"`
		Description string `json:"description"`
		Publisher   struct {
			Name string `json:"name"`
		} `json:"publisher"`
		Image struct {
			MediumURL string `json:"medium_url"`
		} `json:"image"`
	} `json:"results"`
}

func (c *ComicVine) Search(ctx context.Context, title, author string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	params.Set("resources", "volume")
	params.Set("query", title)
	params.Set("limit", "5")

	reqURL := fmt.Sprintf("%s/search/?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == comicVineThrottled {
		return nil, errors.WithStack(ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&StatusError{Code: resp.StatusCode})
	}

	body := comicVineResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.WithStack(err)
	}
	if body.StatusCode != 1 {
		return nil, errors.Errorf("comic vine error status %d", body.StatusCode)
	}

	candidates := make([]Candidate, 0, len(body.Results))
	for _, result := range body.Results {
		cand := Candidate{
			Source:      SourceComicVine,
			ExternalID:  strconv.Itoa(result.ID),
			Title:       result.Name,
			Description: result.Description,
			Publisher:   result.Publisher.Name,
			PublishedAt: result.StartYear,
			CoverURL:    result.Image.MediumURL,
			SeriesName:  result.Name,
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}
