package directive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher ingests directives dropped as files into a project's
// .obra/directives/<task_id>/{to_impl,to_orch}/ directories, grounded on
// internal/api/notifications.go's signals-directory fsnotify watch. Each
// file's contents become one directive body; the filename's extension has
// no meaning, the file is removed once ingested.
type FileWatcher struct {
	inbox     *Inbox
	projectID string
	root      string
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewFileWatcher creates a FileWatcher rooted at <projectDir>/.obra/directives.
func NewFileWatcher(inbox *Inbox, projectID, projectDir string) (*FileWatcher, error) {
	root := filepath.Join(projectDir, ".obra", "directives")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create directive inbox dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create directive watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch directive inbox dir: %w", err)
	}

	fw := &FileWatcher{inbox: inbox, projectID: projectID, root: root, watcher: w, done: make(chan struct{})}
	go fw.run()
	return fw, nil
}

// Root returns the watched directory.
func (fw *FileWatcher) Root() string { return fw.root }

func (fw *FileWatcher) run() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			fw.ingest(event.Name)
		case <-fw.watcher.Errors:
		}
	}
}

// ingest parses <root>/<task_id>__<to_impl|to_orch>.txt and submits its
// contents to the inbox, then removes the file.
func (fw *FileWatcher) ingest(path string) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 {
		return
	}
	taskID, direction := parts[0], parts[1]

	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		os.Remove(path)
		return
	}

	switch direction {
	case string(DirectionToImpl):
		fw.inbox.SubmitToImpl(fw.projectID, taskID, text, false)
	case string(DirectionToOrch):
		fw.inbox.SubmitToOrch(fw.projectID, taskID, text)
	default:
		os.Remove(path)
		return
	}
	os.Remove(path)
}

// Close stops the watcher.
func (fw *FileWatcher) Close() {
	close(fw.done)
	fw.watcher.Close()
}
