package indexer

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// PathMatcher decides whether a repository-relative slash path is indexed.
type PathMatcher interface {
	Match(path string) bool
}

// RepoWatcher reports debounced batches of changed files under a local
// repository. Paths handed to the callback are sorted, slash separated and
// relative to the root.
type RepoWatcher struct {
	root     string
	matcher  PathMatcher
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	changed map[string]struct{}
	timer   *time.Timer
	flush   func([]string)
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRepoWatcher prepares a watcher for root. A nil matcher accepts every path.
func NewRepoWatcher(root string, matcher PathMatcher, debounce time.Duration) (*RepoWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &RepoWatcher{
		root:     root,
		matcher:  matcher,
		debounce: debounce,
		fs:       w,
		changed:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Watch registers every directory under root and starts delivering batches to
// onChange. onChange runs on the debounce timer's goroutine, one batch at a time.
func (rw *RepoWatcher) Watch(onChange func([]string)) error {
	rw.mu.Lock()
	rw.flush = onChange
	rw.mu.Unlock()

	err := filepath.WalkDir(rw.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != rw.root && isVCSDir(d.Name()) {
			return filepath.SkipDir
		}
		rw.add(path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", rw.root, err)
	}

	rw.wg.Add(1)
	go rw.loop()
	return nil
}

// Close stops watching. Pending changes that have not been flushed are dropped.
func (rw *RepoWatcher) Close() error {
	rw.mu.Lock()
	if rw.closed {
		rw.mu.Unlock()
		return nil
	}
	rw.closed = true
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.mu.Unlock()

	close(rw.done)
	rw.wg.Wait()
	return rw.fs.Close()
}

func isVCSDir(name string) bool {
	return name == ".git" || name == ".hg" || name == ".svn"
}

func (rw *RepoWatcher) add(dir string) {
	if err := rw.fs.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch %s: %v", dir, err)
	}
}

func (rw *RepoWatcher) loop() {
	defer rw.wg.Done()
	for {
		select {
		case <-rw.done:
			return
		case ev, ok := <-rw.fs.Events:
			if !ok {
				return
			}
			rw.record(ev)
		case err, ok := <-rw.fs.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

func (rw *RepoWatcher) record(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !isVCSDir(info.Name()) {
				rw.add(ev.Name)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(rw.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rw.matcher != nil && !rw.matcher.Match(rel) {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.closed {
		return
	}
	rw.changed[rel] = struct{}{}
	if rw.timer == nil {
		rw.timer = time.AfterFunc(rw.debounce, rw.fire)
	} else {
		rw.timer.Reset(rw.debounce)
	}
}

func (rw *RepoWatcher) fire() {
	rw.mu.Lock()
	if rw.closed || len(rw.changed) == 0 {
		rw.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(rw.changed))
	for p := range rw.changed {
		batch = append(batch, p)
	}
	rw.changed = make(map[string]struct{})
	flush := rw.flush
	rw.mu.Unlock()

	sort.Strings(batch)
	if flush != nil {
		flush(batch)
	}
}
