// Package contents is the persistence and HTTP layer for content
// records: the library entries the ingestion pipeline creates and the
// enricher fills in.
package contents

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/uptrace/bun"
)

// ErrDuplicateFilepath is returned by CreateContent when the unique
// filepath index rejects the insert. Callers treat it as "already
// ingested", not as a failure.
var ErrDuplicateFilepath = errors.New("content with this filepath already exists")

type RetrieveContentOptions struct {
	ID       *int
	Filepath *string
}

type ListContentsOptions struct {
	Limit      *int
	Offset     *int
	Status     *string
	Kind       *string
	PublicOnly bool
	// NewestFirst orders by updated_at descending instead of title.
	NewestFirst bool

	includeTotal bool
}

type UpdateContentOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateContent(ctx context.Context, content *models.Content) error {
	now := time.Now()
	if content.CreatedAt.IsZero() {
		content.CreatedAt = now
	}
	content.UpdatedAt = content.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(content).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WithStack(ErrDuplicateFilepath)
		}
		return errors.WithStack(err)
	}

	return nil
}

// isUniqueViolation matches the sqlite unique-index error by message.
// sqliteshim picks the driver at build time, so there's no stable typed
// error to check against.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (svc *Service) RetrieveContent(ctx context.Context, opts RetrieveContentOptions) (*models.Content, error) {
	content := &models.Content{}

	q := svc.db.
		NewSelect().
		Model(content).
		Column("c.*")

	if opts.ID != nil {
		q = q.Where("c.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("c.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Content")
		}
		return nil, errors.WithStack(err)
	}

	return content, nil
}

func (svc *Service) ListContents(ctx context.Context, opts ListContentsOptions) ([]*models.Content, error) {
	c, _, err := svc.listContentsWithTotal(ctx, opts)
	return c, errors.WithStack(err)
}

func (svc *Service) ListContentsWithTotal(ctx context.Context, opts ListContentsOptions) ([]*models.Content, int, error) {
	opts.includeTotal = true
	return svc.listContentsWithTotal(ctx, opts)
}

func (svc *Service) listContentsWithTotal(ctx context.Context, opts ListContentsOptions) ([]*models.Content, int, error) {
	contents := []*models.Content{}
	var total int

	q := svc.db.
		NewSelect().
		Model(&contents).
		Column("c.*")

	if opts.Status != nil {
		q = q.Where("c.status = ?", *opts.Status)
	}
	if opts.Kind != nil {
		q = q.Where("c.kind = ?", *opts.Kind)
	}
	if opts.PublicOnly {
		q = q.Where("c.visibility = ?", models.VisibilityPublic)
	}

	if opts.NewestFirst {
		q = q.Order("c.updated_at DESC", "c.id DESC")
	} else {
		q = q.Order("c.title ASC", "c.id ASC")
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	var err error
	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return contents, total, nil
}

// UpdateContent writes the given columns and refreshes updated_at.
func (svc *Service) UpdateContent(ctx context.Context, content *models.Content, opts UpdateContentOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}
	content.UpdatedAt = time.Now()

	columns := append([]string{}, opts.Columns...)
	columns = append(columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(content).
		Column(columns...).
		WherePK().
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ListQuarantine returns quarantined records newest-first with the
// total for the review queue badge.
func (svc *Service) ListQuarantine(ctx context.Context, limit, offset int) ([]*models.Content, int, error) {
	status := models.ContentStatusQuarantine
	return svc.ListContentsWithTotal(ctx, ListContentsOptions{
		Limit:       &limit,
		Offset:      &offset,
		Status:      &status,
		NewestFirst: true,
	})
}

func (svc *Service) CountQuarantine(ctx context.Context) (int, error) {
	count, err := svc.db.
		NewSelect().
		Model((*models.Content)(nil)).
		Where("c.status = ?", models.ContentStatusQuarantine).
		Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}

func (svc *Service) SetVisibility(ctx context.Context, id int, visibility string) (*models.Content, error) {
	content, err := svc.RetrieveContent(ctx, RetrieveContentOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	content.Visibility = visibility
	if err := svc.UpdateContent(ctx, content, UpdateContentOptions{Columns: []string{"visibility"}}); err != nil {
		return nil, errors.WithStack(err)
	}

	return content, nil
}
