package diskcache

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 2 * time.Second

// PolicyWatcher hot-reloads the cache policy file when it changes on disk.
// Reload failures keep the last good policy.
type PolicyWatcher struct {
	path    string
	holder  *PolicyHolder
	watcher *fsnotify.Watcher
	log     *logrus.Logger

	mu      sync.Mutex
	pending *time.Timer
	stop    chan struct{}
}

// WatchPolicy starts watching the directory containing path. Editors replace
// files by rename, so the parent directory is watched rather than the file.
func WatchPolicy(path string, holder *PolicyHolder, log *logrus.Logger) (*PolicyWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &PolicyWatcher{
		path:    path,
		holder:  holder,
		watcher: fw,
		log:     log,
		stop:    make(chan struct{}),
	}
	go w.eventLoop()
	log.WithField("path", path).Info("Cache: policy watcher started")
	return w, nil
}

func (w *PolicyWatcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

func (w *PolicyWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Cache: policy watcher error")
		case <-w.stop:
			return
		}
	}
}

func (w *PolicyWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.log.WithError(err).Error("Cache: policy reload failed, keeping previous policy")
		return
	}
	w.holder.Swap(policy)
	w.log.WithField("rules", len(policy.rules)).Info("Cache: policy reloaded")
}
