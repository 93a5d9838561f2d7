package library

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher registers audio files that appear in a directory. Files are never
// unregistered: the library is append-only, so removals are ignored.
type Watcher struct {
	lib        *Library
	dir        string
	allowed    map[string]struct{}
	defaultBPM float64
	probe      ProbeFunc
	watcher    *fsnotify.Watcher
	logger     *log.Logger
	delay      time.Duration

	mu     sync.Mutex
	seen   map[string]int
	timers map[string]*time.Timer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// WatcherOptions tunes a Watcher. Zero values pick defaults.
type WatcherOptions struct {
	DefaultBPM float64       // used for files without a tempo tag; 0 skips them
	Debounce   time.Duration // wait after the last write before importing
	Probe      ProbeFunc
	Logger     *log.Logger
}

// NewWatcher imports every audio file already in dir and then keeps watching it.
func NewWatcher(lib *Library, dir string, opts WatcherOptions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	probe := opts.Probe
	if probe == nil {
		probe = Probe
	}
	delay := opts.Debounce
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	w := &Watcher{
		lib:        lib,
		dir:        dir,
		allowed:    make(map[string]struct{}, len(allowedExtensions)),
		defaultBPM: opts.DefaultBPM,
		probe:      probe,
		watcher:    fw,
		logger:     logger,
		delay:      delay,
		seen:       make(map[string]int),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, ext := range allowedExtensions {
		w.allowed[ext] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.importFile(filepath.Join(dir, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		w.closeErr = w.watcher.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

// SongID returns the id a file was registered under.
func (w *Watcher) SongID(path string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.seen[path]
	return id, ok && id >= 0
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && w.isAllowed(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.seen[path]; ok && id >= 0 {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.importFile(path)
	})
}

func (w *Watcher) isAllowed(path string) bool {
	_, ok := w.allowed[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (w *Watcher) importFile(path string) {
	if !w.isAllowed(path) {
		return
	}
	w.mu.Lock()
	if _, dup := w.seen[path]; dup {
		w.mu.Unlock()
		return
	}
	w.seen[path] = -1
	w.mu.Unlock()

	id := w.register(path)

	w.mu.Lock()
	if id < 0 {
		delete(w.seen, path)
	} else {
		w.seen[path] = id
	}
	w.mu.Unlock()
}

func (w *Watcher) register(path string) int {
	info, err := w.probe(path)
	if err != nil {
		w.logger.Printf("import %s: %v", path, err)
		return -1
	}
	bpm := info.BPM
	if bpm <= 0 {
		bpm = w.defaultBPM
	}
	if bpm <= 0 || info.SampleRate <= 0 {
		w.logger.Printf("import %s: skipped, no tempo tag or sample rate", filepath.Base(path))
		return -1
	}

	id := w.lib.AddSong(Song{
		Filename:   path,
		Title:      info.Title,
		SampleRate: info.SampleRate,
		BPM:        bpm,
		Duration:   info.Duration,
	})
	if id >= 0 {
		w.logger.Printf("imported song %d: %s (%.2f bpm, %.0f Hz)", id, filepath.Base(path), bpm, info.SampleRate)
	}
	return id
}
