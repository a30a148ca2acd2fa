// Package ingest turns detected files into content records: dedup
// lookup, structural validation, pending-record insert, detection
// broadcast, and the handoff to enrichment.
package ingest

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tomebox/tomebox/pkg/cbz"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/epub"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/metadata"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/watcher"
)

const (
	ActionCreated = "created"
	ActionSkipped = "skipped"
)

// Result reports what ingestion did with one detection.
type Result struct {
	Action  string
	Content *models.Content
}

// Enricher fills in bibliographic metadata for a pending record.
// Satisfied by metadata.Service.
type Enricher interface {
	Enrich(ctx context.Context, content *models.Content) error
}

type Options struct {
	ContentService *contents.Service
	Enricher       Enricher
	Hub            *events.Hub
	AssetDir       string
}

type Ingestor struct {
	log logger.Logger

	contentService *contents.Service
	enricher       Enricher
	hub            *events.Hub
	assetDir       string
}

func New(opts Options) *Ingestor {
	return &Ingestor{
		log:            logger.New(),
		contentService: opts.ContentService,
		enricher:       opts.Enricher,
		hub:            opts.Hub,
		assetDir:       opts.AssetDir,
	}
}

// Process runs the full pipeline for one detection, enriching
// synchronously. Structurally invalid files are logged and dropped
// without a record; duplicates come back as skipped, never as errors.
func (ing *Ingestor) Process(ctx context.Context, event watcher.Event) (*Result, error) {
	result, err := ing.ingest(ctx, event)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if result.Action == ActionCreated {
		// Enrichment failure never rolls back the record; the record is
		// quarantined or left pending instead.
		if err := ing.enricher.Enrich(ctx, result.Content); err != nil {
			ing.log.Err(err).Error("enrichment error", logger.Data{"content_id": result.Content.ID})
		}
	}

	return result, nil
}

// HandleDetection is the watcher callback: the record is created
// inline, enrichment happens in the background so the watch loop isn't
// held up by catalog latency.
func (ing *Ingestor) HandleDetection(ctx context.Context, event watcher.Event) error {
	result, err := ing.ingest(ctx, event)
	if err != nil {
		return errors.WithStack(err)
	}

	if result.Action == ActionCreated {
		go func(content *models.Content) {
			if err := ing.enricher.Enrich(context.Background(), content); err != nil {
				ing.log.Err(err).Error("enrichment error", logger.Data{"content_id": content.ID})
			}
		}(result.Content)
	}

	return nil
}

func (ing *Ingestor) ingest(ctx context.Context, event watcher.Event) (*Result, error) {
	log := ing.log.Data(logger.Data{"path": event.Filepath})

	// Dedup check first; the unique index is the backstop for races.
	existing, err := ing.contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{Filepath: &event.Filepath})
	if err == nil {
		return &Result{Action: ActionSkipped, Content: existing}, nil
	}
	if !errors.Is(err, errcodes.NotFound("Content")) {
		return nil, errors.WithStack(err)
	}

	fileType := models.FileTypeForExtension(event.Extension)
	if fileType == "" {
		log.Warn("unsupported extension; skipping")
		return &Result{Action: ActionSkipped}, nil
	}

	content, coverEntry, invalidReason, err := ing.buildContent(event, fileType)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if invalidReason != "" {
		// Dropped, not quarantined: there is nothing reviewable about a
		// broken archive, and re-dropping a fixed file should start clean.
		log.Warn("structurally invalid file; dropped", logger.Data{"reason": invalidReason})
		return &Result{Action: ActionSkipped}, nil
	}

	if err := ing.contentService.CreateContent(ctx, content); err != nil {
		if errors.Is(err, contents.ErrDuplicateFilepath) {
			existing, rerr := ing.contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{Filepath: &event.Filepath})
			if rerr != nil {
				return nil, errors.WithStack(rerr)
			}
			return &Result{Action: ActionSkipped, Content: existing}, nil
		}
		return nil, errors.WithStack(err)
	}

	ing.seedCover(ctx, content, coverEntry)

	log.Info("content created", logger.Data{"content_id": content.ID, "kind": content.Kind})
	ing.hub.Broadcast(events.TypeFileDetected, map[string]any{
		"content_id": content.ID,
		"filepath":   content.Filepath,
		"kind":       content.Kind,
	})

	return &Result{Action: ActionCreated, Content: content}, nil
}

// buildContent validates the archive and assembles the pending record.
// A non-empty invalidReason means the file is structurally invalid and
// must be dropped. coverEntry is the archive entry to seed the cover
// from, when one exists.
func (ing *Ingestor) buildContent(event watcher.Event, fileType string) (content *models.Content, coverEntry, invalidReason string, err error) {
	content = &models.Content{
		Filepath:   event.Filepath,
		FileType:   fileType,
		Kind:       models.KindForFileType(fileType),
		Title:      models.DeriveTitleFromFilename(event.Filename),
		Status:     models.ContentStatusPending,
		Visibility: models.VisibilityPublic,
	}

	switch fileType {
	case models.FileTypeEPUB:
		validation, verr := epub.Validate(event.Filepath)
		if verr != nil {
			return nil, "", "", errors.WithStack(verr)
		}
		if !validation.Valid {
			return nil, "", validation.Reason, nil
		}
		if validation.Title != "" {
			content.Title = validation.Title
		}
		if validation.Author != "" {
			content.Author = &validation.Author
		}
		if validation.Description != "" {
			content.Description = &validation.Description
		}
		content.HasEmbeddedMetadata = validation.HasMetadata
		coverEntry = validation.CoverEntry

	case models.FileTypeCBZ, models.FileTypeCBR:
		var validation *cbz.Validation
		var verr error
		if fileType == models.FileTypeCBZ {
			validation, verr = cbz.Validate(event.Filepath)
		} else {
			validation, verr = cbz.ValidateCBR(event.Filepath)
		}
		if verr != nil {
			return nil, "", "", errors.WithStack(verr)
		}
		if !validation.Valid {
			return nil, "", validation.Reason, nil
		}
		content.ImageCount = &validation.ImageCount
		content.HasEmbeddedMetadata = validation.HasComicInfo
		if ci := validation.ComicInfo; ci != nil {
			if ci.Title != "" {
				content.Title = ci.Title
			}
			if ci.Writer != "" {
				writer := ci.Writer
				content.Author = &writer
			}
			if ci.Series != "" {
				series := ci.Series
				content.SeriesName = &series
			}
			if ci.Number != "" {
				number := ci.Number
				content.SeriesVolume = &number
			}
			if ci.Publisher != "" {
				publisher := ci.Publisher
				content.Publisher = &publisher
			}
		}
		coverEntry = validation.FirstImage
	}

	return content, coverEntry, "", nil
}

// seedCover extracts the embedded cover candidate and persists it as a
// static asset. Best effort; enrichment can replace it with a catalog
// cover later.
func (ing *Ingestor) seedCover(ctx context.Context, content *models.Content, entry string) {
	if entry == "" {
		return
	}

	var b []byte
	var err error
	switch content.FileType {
	case models.FileTypeEPUB:
		b, err = epub.ExtractEntry(content.Filepath, entry)
	case models.FileTypeCBZ:
		b, err = cbz.ExtractImage(content.Filepath, entry)
	default:
		// CBR cover extraction needs a second sequential pass through the
		// archive; the catalog cover from enrichment covers that case.
		return
	}
	if err != nil {
		ing.log.Err(err).Warn("cover seed extraction failed", logger.Data{"content_id": content.ID})
		return
	}

	path, err := metadata.WriteCoverBytes(ing.assetDir, content.ID, b)
	if err != nil {
		ing.log.Err(err).Warn("cover seed write failed", logger.Data{"content_id": content.ID})
		return
	}

	content.CoverImagePath = &path
	err = ing.contentService.UpdateContent(ctx, content, contents.UpdateContentOptions{Columns: []string{"cover_image_path"}})
	if err != nil {
		ing.log.Err(err).Warn("cover seed update failed", logger.Data{"content_id": content.ID})
	}
}
