package admission

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// AllowList is the newline-delimited hex-SHA1 file described in spec §6:
// created empty if missing, hot-reloaded on change via a snapshot swap
// (never a partial read) so concurrent Contains calls never need a lock.
type AllowList struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	closed  chan struct{}

	snapshot atomic.Pointer[map[string]struct{}]
}

// Load reads path (creating it empty if absent) and starts watching it
// for changes.
func Load(path string, log *zap.Logger) (*AllowList, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
			return nil, err
		}
		if f, ferr := os.Create(path); ferr != nil {
			return nil, ferr
		} else {
			f.Close()
		}
	}

	al := &AllowList{path: path, log: log, closed: make(chan struct{})}
	if err := al.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	al.watcher = watcher
	go al.watchLoop()
	return al, nil
}

func (a *AllowList) watchLoop() {
	for {
		select {
		case <-a.closed:
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(a.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := a.reload(); err != nil {
				a.log.Warn("failed to reload allow-list", zap.Error(err))
			} else {
				a.log.Info("allow-list reloaded", zap.String("path", a.path))
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.Warn("allow-list watcher error", zap.Error(err))
		}
	}
}

func (a *AllowList) reload() error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()

	next := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		next[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	a.snapshot.Store(&next)
	return nil
}

// Contains reports whether hash is present in the current snapshot.
// Lock-free: reload swaps in each new snapshot pointer atomically and
// readers load whichever pointer is current.
func (a *AllowList) Contains(hash string) bool {
	snap := a.snapshot.Load()
	if snap == nil {
		return false
	}
	_, ok := (*snap)[strings.ToLower(hash)]
	return ok
}

// Close stops the background watcher.
func (a *AllowList) Close() error {
	select {
	case <-a.closed:
		return nil
	default:
		close(a.closed)
	}
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}
