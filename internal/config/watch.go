package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	logx "pulsebot/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// Watch reloads the config whenever its file is written, created or renamed
// into place, until ctx ends. The parent directory is watched so editors
// that replace the file are seen. Bursts of events collapse into one reload.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir))

	d := &debouncer{delay: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		w, err := openWatcher(dir)
		if err != nil {
			log.Warn("config watcher unavailable", logx.Err(err), logx.Duration("retry_in", retry))
		} else {
			retry = watchRetryMin
			log.Debug("watching config", logx.String("file", name))
			broke := m.drain(ctx, w, name, d.trigger)
			_ = w.Close()
			if !broke {
				return nil
			}
			log.Warn("config watcher closed, reopening")
		}

		jitter := time.Duration(rand.Int64N(int64(retry/2) + 1))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry + jitter):
		}
		retry = min(retry*2, watchRetryMax)
	}
	return nil
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// drain feeds matching events to trigger. It reports true when the watcher
// broke and false when ctx ended.
func (m *ConfigManager) drain(ctx context.Context, w *fsnotify.Watcher, name string, trigger func()) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if filepath.Base(ev.Name) == name && ev.Op&relevant != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return true
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow, reloading")
				trigger()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once delay has passed without another trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Reset(d.delay)
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
