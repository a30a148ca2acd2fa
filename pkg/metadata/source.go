// Package metadata enriches content records from external catalogs:
// Google Books and Open Library for books, Comic Vine for comics.
package metadata

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Candidate is a normalized search result from any catalog.
type Candidate struct {
	Source       string   `json:"source"`
	ExternalID   string   `json:"external_id"`
	Title        string   `json:"title"`
	Author       string   `json:"author,omitempty"`
	Description  string   `json:"description,omitempty"`
	CoverURL     string   `json:"cover_url,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	PublishedAt  string   `json:"published_at,omitempty"`
	Publisher    string   `json:"publisher,omitempty"`
	ISBN         string   `json:"isbn,omitempty"`
	Language     string   `json:"language,omitempty"`
	SeriesName   string   `json:"series_name,omitempty"`
	SeriesVolume string   `json:"series_volume,omitempty"`
}

// Usable reports whether the candidate carries enough to enrich a
// record. Title is the floor; everything else is optional.
func (c *Candidate) Usable() bool {
	return c.Title != ""
}

// Source is one external catalog.
type Source interface {
	Name() string
	Kind() string
	Search(ctx context.Context, title, author string) ([]Candidate, error)
}

// ErrRateLimited is returned when the remote catalog rejects the
// request for quota reasons (HTTP 429 or equivalent).
var ErrRateLimited = errors.New("rate limited by source")

// StatusError is a non-2xx catalog response that isn't a quota
// rejection.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d", e.Code)
}

// IsClientError reports whether err is a 4xx catalog response. Client
// errors are never retried; the request won't get better.
func IsClientError(err error) bool {
	se := &StatusError{}
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return false
}
