package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Settings are the user-editable knobs: where the library lives, where
// cover assets go, and how each external catalog is throttled. They're
// read from a YAML file in the config directory and can be overridden
// with TOMEBOX_-prefixed environment variables.
type Settings struct {
	WatchDirectory string `koanf:"watch_directory"`
	AssetDirectory string `koanf:"asset_directory"`

	WatchStabilityThreshold time.Duration `koanf:"watch_stability_threshold"`
	WatchPollInterval       time.Duration `koanf:"watch_poll_interval"`

	GoogleBooks SourceSettings `koanf:"google_books"`
	OpenLibrary SourceSettings `koanf:"open_library"`
	ComicVine   SourceSettings `koanf:"comic_vine"`
}

// SourceSettings throttles one external metadata catalog. RateLimit
// requests are allowed per RateWindow.
type SourceSettings struct {
	Enabled    bool          `koanf:"enabled"`
	APIKey     string        `koanf:"api_key"`
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
}

func settingsFilePath() string {
	configDir := os.Getenv("CONFIG_DIRECTORY")
	if configDir == "" {
		configDir = "/config"
	}

	return filepath.Join(configDir, "settings.yaml")
}

func defaultSettings() *Settings {
	return &Settings{
		WatchDirectory:          "/library",
		AssetDirectory:          "/config/covers",
		WatchStabilityThreshold: 2 * time.Second,
		WatchPollInterval:       100 * time.Millisecond,

		// Google Books tolerates only a small per-second burst.
		GoogleBooks: SourceSettings{Enabled: true, RateLimit: 1, RateWindow: time.Second},
		// Open Library asks for no more than a courteous trickle.
		OpenLibrary: SourceSettings{Enabled: true, RateLimit: 60, RateWindow: time.Minute},
		// Comic Vine enforces a budget over a five minute window.
		ComicVine: SourceSettings{Enabled: true, RateLimit: 20, RateWindow: 5 * time.Minute},
	}
}

// LoadSettings reads the settings file, falling back to defaults when
// it doesn't exist, then applies TOMEBOX_-prefixed environment
// overrides (e.g. TOMEBOX_WATCH_DIRECTORY, TOMEBOX_COMIC_VINE_API_KEY).
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.WithStack(err)
	}

	err := k.Load(env.Provider("TOMEBOX_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "TOMEBOX_"))
		// Source settings nest one level deep, e.g.
		// TOMEBOX_GOOGLE_BOOKS_API_KEY -> google_books.api_key.
		for _, prefix := range []string{"google_books_", "open_library_", "comic_vine_"} {
			if strings.HasPrefix(s, prefix) {
				return strings.TrimSuffix(prefix, "_") + "." + strings.TrimPrefix(s, prefix)
			}
		}
		return s
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	settings := defaultSettings()
	if err := k.Unmarshal("", settings); err != nil {
		return nil, errors.WithStack(err)
	}

	return settings, nil
}
