package metadata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/ratelimit"
)

const (
	searchAttempts = 3
	searchTimeout  = 15 * time.Second
	retryBaseDelay = 500 * time.Millisecond
)

// Failure classes recorded in quarantine reasons.
const (
	failureTimeout     = "timeout"
	failureNoMatch     = "no match"
	failureRateLimited = "rate-limited"
	failureNetwork     = "network error"
	failureRejected    = "rejected by source"
)

// SourceInfo describes one configured catalog for the manual search
// workflow.
type SourceInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ApplyResult reports what a manual candidate application changed.
type ApplyResult struct {
	Content         *models.Content `json:"content"`
	FieldsUpdated   []string        `json:"fields_updated"`
	CoverDownloaded bool            `json:"cover_downloaded"`
}

type Options struct {
	ContentService *contents.Service
	Sources        []Source
	Limiter        *ratelimit.Limiter
	Hub            *events.Hub
	AssetDir       string
}

type Service struct {
	log logger.Logger

	contentService *contents.Service
	sources        []Source
	limiter        *ratelimit.Limiter
	hub            *events.Hub
	assetDir       string
	httpClient     *http.Client
}

func NewService(opts Options) *Service {
	return &Service{
		log:            logger.New(),
		contentService: opts.ContentService,
		sources:        opts.Sources,
		limiter:        opts.Limiter,
		hub:            opts.Hub,
		assetDir:       opts.AssetDir,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListSources returns the configured catalogs, optionally filtered by
// kind.
func (svc *Service) ListSources(kind string) []SourceInfo {
	infos := make([]SourceInfo, 0, len(svc.sources))
	for _, source := range svc.sources {
		if kind != "" && source.Kind() != kind {
			continue
		}
		infos = append(infos, SourceInfo{Name: source.Name(), Kind: source.Kind()})
	}
	return infos
}

// SearchSources runs a manual catalog search. An empty source name
// searches every catalog matching the content kind; failures from one
// catalog don't hide results from another.
func (svc *Service) SearchSources(ctx context.Context, query, author, sourceName string) ([]Candidate, error) {
	var matched []Source
	for _, source := range svc.sources {
		if sourceName == "" || source.Name() == sourceName {
			matched = append(matched, source)
		}
	}
	if sourceName != "" && len(matched) == 0 {
		return nil, errcodes.NotFound("Metadata source")
	}

	candidates := []Candidate{}
	for _, source := range matched {
		if err := svc.limiter.Wait(ctx, source.Name()); err != nil {
			return nil, errors.WithStack(err)
		}

		sctx, cancel := context.WithTimeout(ctx, searchTimeout)
		results, err := source.Search(sctx, query, author)
		cancel()
		if err != nil {
			svc.log.Err(err).Warn("manual search source error", logger.Data{"source": source.Name()})
			continue
		}
		candidates = append(candidates, results...)
	}

	return candidates, nil
}

// Enrich runs the full enrichment loop for one record: for each catalog
// matching the record's kind, gate on the rate limiter, search with
// retries, and apply the first usable candidate. When every catalog
// fails, the record is quarantined with a reason naming each attempted
// source and how it failed. Quarantining is a normal outcome, not an
// error.
func (svc *Service) Enrich(ctx context.Context, content *models.Content) error {
	if content.Status == models.ContentStatusEnriched {
		return nil
	}
	// Quarantined records leave quarantine only through an explicit
	// manual apply, never through another automatic pass.
	if content.Status == models.ContentStatusQuarantine {
		return nil
	}

	log := svc.log.Data(logger.Data{"content_id": content.ID, "title": content.Title})

	svc.hub.Broadcast(events.TypeEnrichmentStarted, map[string]any{
		"content_id": content.ID,
		"title":      content.Title,
	})

	author := ""
	if content.Author != nil {
		author = *content.Author
	}

	var attempts []string
	for _, source := range svc.sources {
		if source.Kind() != content.Kind {
			continue
		}

		svc.hub.Broadcast(events.TypeEnrichmentProgress, map[string]any{
			"content_id": content.ID,
			"source":     source.Name(),
		})

		candidate, class := svc.searchSource(ctx, source, content.Title, author)
		if candidate == nil {
			attempts = append(attempts, fmt.Sprintf("%s: %s", source.Name(), class))
			log.Warn("enrichment source failed", logger.Data{"source": source.Name(), "failure": class})
			continue
		}

		if _, _, err := svc.applyCandidate(ctx, content, *candidate); err != nil {
			return errors.WithStack(err)
		}

		log.Info("enrichment completed", logger.Data{"source": source.Name()})
		svc.hub.Broadcast(events.TypeEnrichmentCompleted, map[string]any{
			"content_id": content.ID,
			"source":     source.Name(),
			"title":      content.Title,
		})
		return nil
	}

	reason := "no metadata sources configured for kind " + content.Kind
	if len(attempts) > 0 {
		reason = "all metadata sources failed: " + strings.Join(attempts, "; ")
	}

	content.Status = models.ContentStatusQuarantine
	content.QuarantineReason = &reason
	err := svc.contentService.UpdateContent(ctx, content, contents.UpdateContentOptions{
		Columns: []string{"status", "quarantine_reason"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	log.Warn("enrichment failed; content quarantined", logger.Data{"reason": reason})
	svc.hub.Broadcast(events.TypeEnrichmentFailed, map[string]any{
		"content_id": content.ID,
		"reason":     reason,
	})
	return nil
}

// searchSource queries one catalog with the retry policy: up to three
// attempts for transient failures, no retry for client errors or quota
// rejections. Returns the first usable candidate, or the failure class
// when the catalog yields nothing.
func (svc *Service) searchSource(ctx context.Context, source Source, title, author string) (*Candidate, string) {
	class := failureNoMatch

	for attempt := 1; attempt <= searchAttempts; attempt++ {
		// Giving up while queued behind the quota is a rate-limit
		// deferral, not a catalog timeout.
		if err := svc.limiter.Wait(ctx, source.Name()); err != nil {
			return nil, failureRateLimited
		}

		sctx, cancel := context.WithTimeout(ctx, searchTimeout)
		candidates, err := source.Search(sctx, title, author)
		cancel()

		if err == nil {
			for i := range candidates {
				if candidates[i].Usable() {
					return &candidates[i], ""
				}
			}
			return nil, failureNoMatch
		}

		switch {
		case errors.Is(err, ErrRateLimited):
			return nil, failureRateLimited
		case IsClientError(err):
			return nil, failureRejected
		case errors.Is(err, context.DeadlineExceeded):
			class = failureTimeout
		default:
			class = failureNetwork
		}

		if attempt < searchAttempts {
			select {
			case <-ctx.Done():
				return nil, class
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}
	}

	return nil, class
}

// applyCandidate merges a candidate into the record and marks it
// enriched. List fields are replaced, not appended, so re-applying the
// same candidate is idempotent. A failed cover download is logged and
// skipped; it never fails the enrichment.
func (svc *Service) applyCandidate(ctx context.Context, content *models.Content, candidate Candidate) ([]string, bool, error) {
	columns := []string{"status", "quarantine_reason"}

	if candidate.Title != "" && candidate.Title != content.Title {
		content.Title = candidate.Title
		columns = append(columns, "title")
	}

	author := candidate.Author
	if author == "" && (content.Author == nil || *content.Author == "") {
		author = models.AuthorUnknown
	}
	if author != "" {
		content.Author = &author
		columns = append(columns, "author")
	}

	if candidate.Description != "" {
		content.Description = &candidate.Description
		columns = append(columns, "description")
	}
	if len(candidate.Genres) > 0 {
		content.Genres = candidate.Genres
		columns = append(columns, "genres")
	}
	if candidate.SeriesName != "" {
		content.SeriesName = &candidate.SeriesName
		columns = append(columns, "series_name")
	}
	if candidate.SeriesVolume != "" {
		content.SeriesVolume = &candidate.SeriesVolume
		columns = append(columns, "series_volume")
	}
	if candidate.ISBN != "" {
		content.ISBN = &candidate.ISBN
		columns = append(columns, "isbn")
	}
	if candidate.Publisher != "" {
		content.Publisher = &candidate.Publisher
		columns = append(columns, "publisher")
	}
	if candidate.Language != "" {
		content.Language = &candidate.Language
		columns = append(columns, "language")
	}
	if candidate.PublishedAt != "" {
		content.PublishedAt = &candidate.PublishedAt
		columns = append(columns, "published_at")
	}

	coverDownloaded := false
	if candidate.CoverURL != "" {
		path, err := downloadCover(ctx, svc.httpClient, candidate.CoverURL, svc.assetDir, content.ID)
		if err != nil {
			svc.log.Err(err).Warn("cover download failed", logger.Data{"content_id": content.ID, "url": candidate.CoverURL})
		} else {
			content.CoverImagePath = &path
			columns = append(columns, "cover_image_path")
			coverDownloaded = true
		}
	}

	content.Status = models.ContentStatusEnriched
	content.QuarantineReason = nil

	err := svc.contentService.UpdateContent(ctx, content, contents.UpdateContentOptions{Columns: columns})
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	return columns, coverDownloaded, nil
}

// Apply merges a manually chosen candidate into a record, lifting it
// out of quarantine when needed. Legal on quarantined and already
// enriched records; pending records can be applied to as well when an
// operator beats the automatic pipeline.
func (svc *Service) Apply(ctx context.Context, contentID int, candidate Candidate) (*ApplyResult, error) {
	content, err := svc.contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &contentID})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if !candidate.Usable() {
		return nil, errcodes.ValidationError("Candidate must have a title.")
	}

	columns, coverDownloaded, err := svc.applyCandidate(ctx, content, candidate)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	svc.hub.Broadcast(events.TypeContentUpdated, map[string]any{
		"content_id": content.ID,
		"source":     candidate.Source,
	})

	return &ApplyResult{
		Content:         content,
		FieldsUpdated:   columns,
		CoverDownloaded: coverDownloaded,
	}, nil
}
