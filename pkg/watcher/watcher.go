// Package watcher turns filesystem notifications on a drop directory
// into detection events for files that have finished being written.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Event is an ephemeral notification that a new, stable file exists in
// the watched directory. Consumed exactly once by the ingestor.
type Event struct {
	Filepath   string
	Filename   string
	Extension  string
	DetectedAt time.Time
}

// Handler consumes one detection event. Errors are logged and do not
// stop the watch loop.
type Handler func(ctx context.Context, event Event) error

// Partial-download suffixes that mark a file still being produced by
// another program.
var partialSuffixes = []string{".part", ".partial", ".crdownload", ".tmp", ".download"}

// maxStabilityWait bounds how long a single candidate is polled before
// being abandoned as never-stable.
const maxStabilityWait = 10 * time.Minute

type Options struct {
	Root               string
	Extensions         []string
	StabilityThreshold time.Duration
	PollInterval       time.Duration
	Handler            Handler
}

type Watcher struct {
	log logger.Logger

	root       string
	extensions map[string]struct{}
	stability  time.Duration
	poll       time.Duration
	handler    Handler

	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	closer   sync.Once
	disabled bool
}

func New(opts Options) *Watcher {
	extensions := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	stability := opts.StabilityThreshold
	if stability <= 0 {
		stability = 2 * time.Second
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	return &Watcher{
		log:        logger.New(),
		root:       opts.Root,
		extensions: extensions,
		stability:  stability,
		poll:       poll,
		handler:    opts.Handler,
		done:       make(chan struct{}),
	}
}

// Start subscribes to filesystem notifications on the watch root. A
// missing or unreadable root disables the watcher instead of failing
// startup; the rest of the process keeps running without automatic
// detection.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.root)
	if err != nil || !info.IsDir() {
		w.disabled = true
		w.log.Warn("watch root missing or unreadable; watcher disabled", logger.Data{"root": w.root})
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}
	if err := fsw.Add(w.root); err != nil {
		_ = fsw.Close()
		w.disabled = true
		w.log.Warn("can't subscribe to watch root; watcher disabled", logger.Data{"root": w.root, "err": err.Error()})
		return nil
	}

	w.fsw = fsw
	w.wg.Add(1)
	go w.loop()

	w.log.Info("watcher started", logger.Data{"root": w.root})
	return nil
}

// Disabled reports whether the watcher gave up at startup.
func (w *Watcher) Disabled() bool {
	return w.disabled
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Only new arrivals trigger automatic detection; files
			// already present at startup are the force scan's job.
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !w.eligible(event.Name) {
				continue
			}
			w.wg.Add(1)
			go w.awaitStable(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Err(err).Error("watch error")
		}
	}
}

// eligible filters out dotfiles, partial-download markers, directories,
// and anything outside the supported extension set.
func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	if _, ok := w.extensions[strings.ToLower(filepath.Ext(base))]; !ok {
		return false
	}
	return true
}

// awaitStable polls the candidate's size until it has been unchanged
// for the stability threshold, then emits a detection event. This keeps
// half-copied files out of the pipeline.
func (w *Watcher) awaitStable(path string) {
	defer w.wg.Done()

	deadline := time.After(maxStabilityWait)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var lastSize int64 = -1
	var stableFor time.Duration

	for {
		select {
		case <-w.done:
			return
		case <-deadline:
			w.log.Warn("file never stabilized; giving up", logger.Data{"path": path})
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				// Removed or unreadable mid-copy; drop the candidate.
				w.log.Warn("candidate disappeared before stabilizing", logger.Data{"path": path})
				return
			}
			if info.IsDir() {
				return
			}
			if info.Size() == lastSize {
				stableFor += w.poll
				if stableFor >= w.stability {
					w.emit(path)
					return
				}
				continue
			}
			lastSize = info.Size()
			stableFor = 0
		}
	}
}

func (w *Watcher) emit(path string) {
	base := filepath.Base(path)
	event := Event{
		Filepath:   path,
		Filename:   base,
		Extension:  strings.ToLower(filepath.Ext(base)),
		DetectedAt: time.Now(),
	}

	log := w.log.Data(logger.Data{"path": path})
	log.Info("file detected")

	if err := w.handler(context.Background(), event); err != nil {
		// Per-file handler errors never stop the watch loop.
		log.Err(err).Error("detection handler error")
	}
}

// Close releases the filesystem subscription and waits for in-flight
// candidates. Safe to call more than once.
func (w *Watcher) Close() {
	w.closer.Do(func() {
		close(w.done)
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
	})
	w.wg.Wait()
}
