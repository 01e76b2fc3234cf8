package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oribridge/oribridge/internal/oribridge"
)

// Watcher re-reads the backend connection file when it changes on
// disk and hands validated specs to a callback. The watch is on the
// parent directory, not the file itself, so editors that replace the
// file via rename keep triggering.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until Close is called. onChange receives each
// successfully reloaded spec set; an invalid edit is logged and the
// previous config stays in effect. Bursts of writes (editors tend to
// produce several) collapse into one reload per debounce window.
func (w *Watcher) Run(onChange func([]oribridge.BackendSpec)) {
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher: %v", err)
		case <-reload:
			specs, err := Load(w.path)
			if err != nil {
				log.Printf("config reload rejected, keeping previous config: %v", err)
				continue
			}
			log.Printf("config reloaded: %d backends", len(specs))
			onChange(specs)
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
