package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomebox/tomebox/internal/testgen"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/metadata"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/ratelimit"
	"github.com/tomebox/tomebox/pkg/watcher"
)

// startPipeline wires the full chain — watcher, ingestor, enrichment
// against a fake catalog — around one watched directory, with a live
// websocket subscriber on the hub.
func startPipeline(t *testing.T, catalogURL string) (string, *contents.Service, *events.Hub) {
	t.Helper()

	contentService := contents.NewService(testgen.SetupTestDB(t))
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	metadataService := metadata.NewService(metadata.Options{
		ContentService: contentService,
		Sources: []metadata.Source{
			metadata.NewGoogleBooks("", metadata.WithGoogleBooksBaseURL(catalogURL)),
		},
		Limiter:  ratelimit.New(),
		Hub:      hub,
		AssetDir: t.TempDir(),
	})

	ingestor := New(Options{
		ContentService: contentService,
		Enricher:       metadataService,
		Hub:            hub,
		AssetDir:       t.TempDir(),
	})

	dir := t.TempDir()
	w := watcher.New(watcher.Options{
		Root:               dir,
		Extensions:         models.SupportedExtensions(),
		StabilityThreshold: 100 * time.Millisecond,
		PollInterval:       20 * time.Millisecond,
		Handler:            ingestor.HandleDetection,
	})
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)

	return dir, contentService, hub
}

func TestPipelineDropToEnriched(t *testing.T) {
	ctx := context.Background()

	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"items": [{
				"id": "vol1",
				"volumeInfo": {"title": "The Unknown Book", "authors": ["Anonymous"]}
			}]
		}`)
	}))
	defer catalog.Close()

	dir, contentService, hub := startPipeline(t, catalog.URL)
	conn := testgen.SubscribeHub(t, hub)

	path := testgen.GenerateEPUB(t, dir, "unknown.epub", testgen.EPUBOptions{})

	seen := testgen.ReadEventsUntil(t, conn, 10*time.Second,
		events.TypeEnrichmentCompleted, events.TypeEnrichmentFailed)

	counts := testgen.CountEventTypes(seen)
	assert.Equal(t, 1, counts[events.TypeFileDetected])
	assert.Equal(t, 1, counts[events.TypeEnrichmentStarted])
	assert.Equal(t, 1, counts[events.TypeEnrichmentProgress])
	assert.Equal(t, 1, counts[events.TypeEnrichmentCompleted])
	assert.Equal(t, 0, counts[events.TypeEnrichmentFailed])
	assert.Equal(t, events.TypeFileDetected, seen[0].Type)

	list, total, err := contentService.ListContentsWithTotal(ctx, contents.ListContentsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, path, list[0].Filepath)
	assert.Equal(t, models.ContentStatusEnriched, list[0].Status)
	assert.Equal(t, "The Unknown Book", list[0].Title)
	require.NotNil(t, list[0].Author)
	assert.Equal(t, "Anonymous", *list[0].Author)
}

func TestPipelineDropToQuarantine(t *testing.T) {
	ctx := context.Background()

	// The catalog answers but never matches.
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer catalog.Close()

	dir, contentService, hub := startPipeline(t, catalog.URL)
	conn := testgen.SubscribeHub(t, hub)

	testgen.GenerateEPUB(t, dir, "obscure.epub", testgen.EPUBOptions{})

	seen := testgen.ReadEventsUntil(t, conn, 10*time.Second,
		events.TypeEnrichmentCompleted, events.TypeEnrichmentFailed)

	counts := testgen.CountEventTypes(seen)
	assert.Equal(t, 1, counts[events.TypeFileDetected])
	assert.Equal(t, 1, counts[events.TypeEnrichmentStarted])
	assert.Equal(t, 1, counts[events.TypeEnrichmentFailed])
	assert.Equal(t, 0, counts[events.TypeEnrichmentCompleted])

	list, total, err := contentService.ListQuarantine(ctx, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].QuarantineReason)
	assert.Contains(t, *list[0].QuarantineReason, "google_books: no match")
}
