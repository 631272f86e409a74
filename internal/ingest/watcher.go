package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/api"
	"github.com/snarg/vad-transcriber/internal/audio"
)

const debounceDelay = 500 * time.Millisecond

// WatcherOptions configures a FileWatcher.
type WatcherOptions struct {
	Dir       string
	Backfill  bool
	QueueSize int
	Handler   Handler
	// Done reports whether path already has a transcript; backfill skips
	// those files.
	Done func(path string) bool
	Log  zerolog.Logger
}

// FileWatcher monitors a directory tree for new WAV files and hands each one
// to the queue once writes have settled.
type FileWatcher struct {
	dir      string
	backfill bool
	done     func(string) bool
	queue    *Queue
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesSkipped atomic.Int64
	status       atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Done == nil {
		opts.Done = func(string) bool { return false }
	}
	log := opts.Log.With().Str("component", "watcher").Logger()
	fw := &FileWatcher{
		dir:            opts.Dir,
		backfill:       opts.Backfill,
		done:           opts.Done,
		queue:          NewQueue(opts.QueueSize, opts.Handler, log),
		log:            log,
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every existing directory to fsnotify, starts the queue worker
// and the event loop, and kicks off backfill if enabled. Everything stops
// when ctx ends or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(fw.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == fw.dir {
				return err
			}
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.dir).
		Msg("file watcher initialized")

	fw.queue.Start(ctx)

	fw.wg.Add(1)
	go fw.watchLoop(ctx)

	if fw.backfill {
		fw.wg.Add(1)
		go fw.runBackfill(ctx)
	} else {
		fw.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher, cancels pending debounces and drains
// the queue.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.watcher != nil {
		fw.watcher.Close()
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.queue.Stop()
	fw.wg.Wait()

	stats := fw.queue.Stats()
	fw.log.Info().
		Int64("files_processed", stats.Completed).
		Int64("files_failed", stats.Failed).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// WatcherStatus returns the current watcher status for the health endpoint.
func (fw *FileWatcher) WatcherStatus() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	stats := fw.queue.Stats()
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.dir,
		Pending:        stats.Pending,
		FilesProcessed: stats.Completed,
		FilesFailed:    stats.Failed,
		FilesSkipped:   fw.filesSkipped.Load(),
	}
}

// Pending, Completed and Failed expose queue counters to the metrics collector.
func (fw *FileWatcher) Pending() int     { return fw.queue.Stats().Pending }
func (fw *FileWatcher) Completed() int64 { return fw.queue.Stats().Completed }
func (fw *FileWatcher) Failed() int64    { return fw.queue.Stats().Failed }

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New directory: add it so files landing in it are seen too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !audio.IsWAV(event.Name) {
				continue
			}

			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing by 500ms. This coalesces rapid
// Create+Write events and ensures the file is fully written before reading.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(debounceDelay)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(debounceDelay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		if !fw.queue.Enqueue(path) {
			fw.log.Warn().Str("path", path).Msg("file queue full or stopped, dropping file")
		}
	})
}

// runBackfill queues existing WAV files that have no transcript yet,
// oldest first.
func (fw *FileWatcher) runBackfill(ctx context.Context) {
	defer fw.wg.Done()
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry

	_ = filepath.WalkDir(fw.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !audio.IsWAV(path) {
			return nil
		}
		if fw.done(path) {
			fw.filesSkipped.Add(1)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().
		Int("files", len(files)).
		Int64("already_transcribed", fw.filesSkipped.Load()).
		Msg("backfill starting")

	for _, f := range files {
		if !fw.queue.EnqueueWait(ctx, f.path) {
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
	}

	if s, _ := fw.status.Load().(string); s == "backfilling" {
		fw.status.Store("watching")
	}
	fw.log.Info().
		Int("queued", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill queued")
}
