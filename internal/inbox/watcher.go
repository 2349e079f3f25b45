// Package inbox ingests captures dropped as text files into a watched
// directory. Each file becomes one capture; the file is removed once the
// capture is durably stored, so a crash can duplicate a capture but
// never lose one.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// Enqueuer is satisfied by the classification dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, captureID string) error
}

// Notifier wakes the runner after an ingest.
type Notifier interface {
	TriggerProcessing()
}

// Watcher turns dropped .txt and .md files into captures.
type Watcher struct {
	dir        string
	db         *store.DB
	dispatcher Enqueuer
	notifier   Notifier
	logger     *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New builds a watcher for the given drop directory. notifier may be nil.
func New(dir string, db *store.DB, dispatcher Enqueuer, notifier Notifier, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dir:        dir,
		db:         db,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		watcher:    fw,
		done:       make(chan struct{}),
	}, nil
}

// Start ingests any files already in the directory, then watches for new
// ones until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("inbox watcher already running")
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", w.dir, err)
	}

	// Files dropped while we weren't running.
	if err := w.sweep(ctx); err != nil {
		w.logger.Warn("initial inbox sweep failed", zap.Error(err))
	}

	w.running = true
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	w.mu.Unlock()

	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !ingestible(event.Name) {
				continue
			}
			// Editors fire write events while the file is still being
			// written; a short settle avoids reading half a file.
			time.Sleep(50 * time.Millisecond)
			if err := w.ingestFile(ctx, event.Name); err != nil {
				w.logger.Warn("failed to ingest dropped file",
					zap.String("path", event.Name), zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// sweep ingests every eligible file currently in the directory.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !ingestible(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.ingestFile(ctx, path); err != nil {
			w.logger.Warn("failed to ingest file during sweep",
				zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// ingestFile stores the file's content as a capture, enqueues it for
// classification, and removes the file. Removal comes last: losing the
// race means a duplicate capture, not a lost one.
func (w *Watcher) ingestFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return os.Remove(path)
	}

	c := model.NewCapture(text, model.SourceShare)
	if err := w.db.SaveCapture(ctx, c); err != nil {
		return err
	}
	if err := w.dispatcher.Enqueue(ctx, c.ID); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		w.logger.Warn("failed to remove ingested file",
			zap.String("path", path), zap.Error(err))
	}

	w.logger.Info("ingested dropped capture",
		zap.String("capture_id", c.ID),
		zap.String("file", filepath.Base(path)))

	if w.notifier != nil {
		w.notifier.TriggerProcessing()
	}
	return nil
}

func ingestible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}
