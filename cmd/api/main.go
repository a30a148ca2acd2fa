package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tomebox/tomebox/pkg/config"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/database"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/ingest"
	"github.com/tomebox/tomebox/pkg/metadata"
	"github.com/tomebox/tomebox/pkg/migrations"
	"github.com/tomebox/tomebox/pkg/models"
	"github.com/tomebox/tomebox/pkg/ratelimit"
	"github.com/tomebox/tomebox/pkg/scan"
	"github.com/tomebox/tomebox/pkg/server"
	"github.com/tomebox/tomebox/pkg/version"
	"github.com/tomebox/tomebox/pkg/watcher"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting tomebox", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initAssetDir(cfg.Settings.AssetDirectory); err != nil {
		log.Err(err).Fatal("asset directory error")
	}
	log.Info("asset directory initialized", logger.Data{"path": cfg.Settings.AssetDirectory})

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	hub := events.NewHub()

	limiter, sources := buildSources(cfg.Settings)

	contentService := contents.NewService(db)
	metadataService := metadata.NewService(metadata.Options{
		ContentService: contentService,
		Sources:        sources,
		Limiter:        limiter,
		Hub:            hub,
		AssetDir:       cfg.Settings.AssetDirectory,
	})

	ingestor := ingest.New(ingest.Options{
		ContentService: contentService,
		Enricher:       metadataService,
		Hub:            hub,
		AssetDir:       cfg.Settings.AssetDirectory,
	})

	scanner := scan.NewScanner(cfg.Settings.WatchDirectory, ingestor, hub)

	watch := watcher.New(watcher.Options{
		Root:               cfg.Settings.WatchDirectory,
		Extensions:         models.SupportedExtensions(),
		StabilityThreshold: cfg.Settings.WatchStabilityThreshold,
		PollInterval:       cfg.Settings.WatchPollInterval,
		Handler:            ingestor.HandleDetection,
	})

	srv, err := server.New(cfg, db, hub, metadataService, scanner)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	if err := watch.Start(); err != nil {
		log.Err(err).Fatal("watcher error")
	}

	<-graceful
	log.Info("starting graceful shutdown")

	watch.Close()
	log.Info("watcher closed")

	hub.Close()
	log.Info("event hub closed")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// buildSources turns settings into the enabled catalog list and a
// limiter carrying each catalog's quota. Source order is enrichment
// order within a kind.
func buildSources(settings *config.Settings) (*ratelimit.Limiter, []metadata.Source) {
	limiter := ratelimit.New()
	sources := []metadata.Source{}

	if settings.GoogleBooks.Enabled {
		limiter.SetQuota(metadata.SourceGoogleBooks, ratelimit.Quota{
			Limit:  settings.GoogleBooks.RateLimit,
			Window: settings.GoogleBooks.RateWindow,
		})
		sources = append(sources, metadata.NewGoogleBooks(settings.GoogleBooks.APIKey))
	}
	if settings.OpenLibrary.Enabled {
		limiter.SetQuota(metadata.SourceOpenLibrary, ratelimit.Quota{
			Limit:  settings.OpenLibrary.RateLimit,
			Window: settings.OpenLibrary.RateWindow,
		})
		sources = append(sources, metadata.NewOpenLibrary())
	}
	if settings.ComicVine.Enabled {
		limiter.SetQuota(metadata.SourceComicVine, ratelimit.Quota{
			Limit:  settings.ComicVine.RateLimit,
			Window: settings.ComicVine.RateWindow,
		})
		sources = append(sources, metadata.NewComicVine(settings.ComicVine.APIKey))
	}

	return limiter, sources
}

// initAssetDir creates the asset directory and verifies write
// permissions so cover persistence fails at startup, not mid-pipeline.
func initAssetDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create asset directory: %s", dir)
	}

	testFile := dir + "/.write_test"
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "asset directory is not writable: %s", dir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
