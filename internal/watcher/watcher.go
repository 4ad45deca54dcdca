// Package watcher observes a project's working directory while an iteration
// is in flight and emits debounced File-Change Events to persistence,
// grounded on internal/api/notifications.go's signals-directory fsnotify
// watch but generalized from a single fixed directory to a recursive tree
// walk, and from two named marker files to arbitrary path mutations.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

// DefaultDebounce is the interval a path's events must stay quiet for before
// a settled File-Change Event is emitted.
const DefaultDebounce = 500 * time.Millisecond

// ignoredDirs are never descended into or attributed a change.
var ignoredDirs = map[string]bool{
	".git":         true,
	".obra":        true,
	"node_modules": true,
	".hg":          true,
	".svn":         true,
}

// Watcher recursively watches a project's working directory and, after each
// path's events settle for the configured debounce interval, persists one
// FileChangeEvent attributed to whichever iteration was active when the
// change settled.
type Watcher struct {
	db       *store.DB
	root     string
	debounce time.Duration

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu          sync.Mutex
	iterationID string
	pending     map[string]*time.Timer
	known       map[string]bool
}

// New creates a Watcher rooted at root. It does not start watching until
// Start is called.
func New(db *store.DB, root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		db:       db,
		root:     root,
		debounce: debounce,
		fs:       fsw,
		done:     make(chan struct{}),
		pending:  map[string]*time.Timer{},
		known:    map[string]bool{},
	}, nil
}

// Start walks root recording every regular file that already exists (so it
// is never mistaken for a later creation), adds root and every subdirectory
// to the underlying watch, and begins the event loop in a background
// goroutine.
func (w *Watcher) Start() error {
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			w.known[path] = true
		}
		return nil
	})
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run()
	return nil
}

// SetIteration changes which iteration subsequent settled changes are
// attributed to. Changes observed before the first call are dropped, since
// there is no iteration to attribute them to.
func (w *Watcher) SetIteration(iterationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.iterationID = iterationID
}

// Close stops the watch loop, flushing any events still inside their
// debounce window before returning.
func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path, timer := range w.pending {
		timer.Stop()
		paths = append(paths, path)
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()

	for _, path := range paths {
		w.emit(path)
	}

	return w.fs.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != filepath.Base(root) && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case <-w.fs.Errors:
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if shouldIgnore(event.Name) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addTree(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.schedule(event.Name)
}

// schedule (re)starts the debounce timer for path, collapsing bursts of
// events into a single settled emission.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(path)
	})
}

// emit classifies path's settled state against the known-paths set, hashes
// its content if present, and persists a FileChangeEvent attributed to the
// currently active iteration.
func (w *Watcher) emit(path string) {
	w.mu.Lock()
	iterationID := w.iterationID
	wasKnown := w.known[path]
	w.mu.Unlock()

	kind, hash, err := classify(path, wasKnown)
	if err != nil {
		return
	}

	w.mu.Lock()
	if kind == models.FileChangeDeleted {
		delete(w.known, path)
	} else {
		w.known[path] = true
	}
	w.mu.Unlock()

	if iterationID == "" {
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	event := &models.FileChangeEvent{
		ID:          uuid.NewString(),
		IterationID: iterationID,
		Path:        rel,
		Kind:        kind,
		ContentHash: hash,
		ObservedAt:  time.Now(),
	}
	_ = w.db.CreateFileChangeEvent(event)
}

// classify reports whether path currently exists (created, if it was not
// already in the known-paths set, or modified otherwise) or has been removed
// (deleted), and the SHA-256 digest of its content when it still exists and
// is a regular file.
func classify(path string, wasKnown bool) (models.FileChangeKind, string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.FileChangeDeleted, "", nil
	}
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("classify: %s is a directory", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(content)
	kind := models.FileChangeModified
	if !wasKnown {
		kind = models.FileChangeCreated
	}
	return kind, hex.EncodeToString(sum[:]), nil
}

func shouldIgnore(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, p := range parts {
		if ignoredDirs[p] {
			return true
		}
	}
	return false
}
