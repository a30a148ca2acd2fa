package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomebox/tomebox/internal/testgen"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/watcher"
)

type stubEnricher struct {
	mu       sync.Mutex
	calls    int
	enriched []int
}

func (s *stubEnricher) Enrich(_ context.Context, content *models.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.enriched = append(s.enriched, content.ID)
	return nil
}

func (s *stubEnricher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubEnricher) Enriched() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int{}, s.enriched...)
}

func newTestIngestor(t *testing.T) (*Ingestor, *contents.Service, *stubEnricher) {
	t.Helper()

	contentService := contents.NewService(testgen.SetupTestDB(t))
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	enricher := &stubEnricher{}
	ing := New(Options{
		ContentService: contentService,
		Enricher:       enricher,
		Hub:            hub,
		AssetDir:       t.TempDir(),
	})
	return ing, contentService, enricher
}

func detection(path string) watcher.Event {
	return watcher.Event{
		Filepath:   path,
		Filename:   filepath.Base(path),
		Extension:  filepath.Ext(path),
		DetectedAt: time.Now(),
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates a pending record seeded from EPUB metadata", func(t *testing.T) {
		t.Parallel()
		ing, contentService, enricher := newTestIngestor(t)

		dir := t.TempDir()
		path := testgen.GenerateEPUB(t, dir, "dune.epub", testgen.EPUBOptions{
			Title:  "Dune",
			Author: "Frank Herbert",
		})

		result, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, result.Action)
		require.NotNil(t, result.Content)
		assert.Equal(t, "Dune", result.Content.Title)
		require.NotNil(t, result.Content.Author)
		assert.Equal(t, "Frank Herbert", *result.Content.Author)
		assert.Equal(t, models.ContentKindBook, result.Content.Kind)
		assert.True(t, result.Content.HasEmbeddedMetadata)
		assert.Equal(t, 1, enricher.Calls())

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{Filepath: &path})
		require.NoError(t, err)
		assert.Equal(t, result.Content.ID, got.ID)
	})

	t.Run("seeds CBZ records from ComicInfo", func(t *testing.T) {
		t.Parallel()
		ing, _, _ := newTestIngestor(t)

		dir := t.TempDir()
		path := testgen.GenerateCBZ(t, dir, "saga-01.cbz", testgen.CBZOptions{
			Title:        "Saga #1",
			Series:       "Saga",
			Number:       "1",
			Writer:       "Brian K. Vaughan",
			PageCount:    4,
			HasComicInfo: true,
		})

		result, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, result.Action)
		assert.Equal(t, "Saga #1", result.Content.Title)
		require.NotNil(t, result.Content.SeriesName)
		assert.Equal(t, "Saga", *result.Content.SeriesName)
		require.NotNil(t, result.Content.ImageCount)
		assert.Equal(t, 4, *result.Content.ImageCount)
		assert.Equal(t, models.ContentKindComic, result.Content.Kind)
	})

	t.Run("skips a file that was already ingested", func(t *testing.T) {
		t.Parallel()
		ing, _, enricher := newTestIngestor(t)

		dir := t.TempDir()
		path := testgen.GenerateEPUB(t, dir, "dune.epub", testgen.EPUBOptions{Title: "Dune"})

		first, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		require.Equal(t, ActionCreated, first.Action)

		second, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, second.Action)
		require.NotNil(t, second.Content)
		assert.Equal(t, first.Content.ID, second.Content.ID)

		// Only the original creation triggered enrichment.
		assert.Equal(t, 1, enricher.Calls())
	})

	t.Run("drops structurally invalid files without a record", func(t *testing.T) {
		t.Parallel()
		ing, contentService, enricher := newTestIngestor(t)

		dir := t.TempDir()
		path := testgen.WriteJunkFile(t, dir, "broken.epub")

		result, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, result.Action)
		assert.Nil(t, result.Content)
		assert.Equal(t, 0, enricher.Calls())

		_, _, err = contentService.ListContentsWithTotal(ctx, contents.ListContentsOptions{})
		require.NoError(t, err)
		count, err := contentService.CountQuarantine(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{Filepath: &path})
		require.Error(t, err)
	})

	t.Run("seeds the cover from a declared EPUB cover entry", func(t *testing.T) {
		t.Parallel()
		ing, contentService, _ := newTestIngestor(t)

		dir := t.TempDir()
		path := testgen.GenerateEPUB(t, dir, "covered.epub", testgen.EPUBOptions{
			Title:    "Covered",
			HasCover: true,
		})

		result, err := ing.Process(ctx, detection(path))
		require.NoError(t, err)
		require.Equal(t, ActionCreated, result.Action)

		got, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{ID: &result.Content.ID})
		require.NoError(t, err)
		require.NotNil(t, got.CoverImagePath)
		assert.True(t, testgen.FileExists(*got.CoverImagePath))
	})
}

func TestHandleDetection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ing, contentService, enricher := newTestIngestor(t)

	dir := t.TempDir()
	path := testgen.GenerateEPUB(t, dir, "dune.epub", testgen.EPUBOptions{Title: "Dune"})

	require.NoError(t, ing.HandleDetection(ctx, detection(path)))

	content, err := contentService.RetrieveContent(ctx, contents.RetrieveContentOptions{Filepath: &path})
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusPending, content.Status)

	// Enrichment runs in the background.
	require.Eventually(t, func() bool {
		return enricher.Calls() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{content.ID}, enricher.Enriched())
}
