package file

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/logger"
)

// debounceWindow coalesces the write bursts editors produce when saving.
const debounceWindow = 200 * time.Millisecond

// Watcher observes the config file and invokes a callback when the model
// configuration changes. Used to trigger a model switch in a running process
// when the user edits the config externally.
type Watcher struct {
	store    *ConfigStore
	fw       *fsnotify.Watcher
	onChange func(domain.ModelConfig)
	done     chan struct{}
}

// NewWatcher starts watching the store's config file. onChange fires with the
// new model config whenever the model.* keys change value on disk.
func NewWatcher(store *ConfigStore, onChange func(domain.ModelConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which would drop
	// a watch bound to the file itself.
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		store:    store,
		fw:       fw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	last := w.store.ModelConfig()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Name != w.store.Path() {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := w.store.Load(); err != nil {
				logger.Warn("config watcher: reload: %v", err)
				continue
			}
			current := w.store.ModelConfig()
			if current == last {
				continue
			}
			logger.Info("config watcher: model changed to %s (dim %d)", current.Preset, current.Dimension)
			last = current
			w.onChange(current)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher: %v", err)

		case <-w.done:
			return
		}
	}
}

// Close stops watching. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
