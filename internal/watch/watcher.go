package watch

import (
	"fmt"
	"os"
	"sync"
	"time"

	"downsort/internal/log"
	"downsort/internal/organize"

	"github.com/fsnotify/fsnotify"
)

const eventBuffer = 64

// Watcher monitors directories for arriving files using fsnotify. A file
// is reported once it has received no Create or Write events for the
// settle period, so partially downloaded files are not handed out.
type Watcher struct {
	// Directories being watched
	directories []string

	// Channel delivering settled files
	events chan organize.FileEvent

	// Channel to signal stop
	stopChan chan struct{}

	// fsnotify watcher instance
	fsWatcher *fsnotify.Watcher

	settle time.Duration

	// Lock for running state and the directories list
	mutex sync.RWMutex

	// Whether the watcher is running
	running bool

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
	stopped   bool

	sends    sync.WaitGroup
	loopDone chan struct{}
}

// New creates a directory watcher that reports files after they have been
// quiet for settle.
func New(settle time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		directories: []string{},
		events:      make(chan organize.FileEvent, eventBuffer),
		stopChan:    make(chan struct{}),
		fsWatcher:   fsWatcher,
		settle:      settle,
		pending:     make(map[string]*time.Timer),
		loopDone:    make(chan struct{}),
	}, nil
}

// AddDirectory adds a directory to watch. Subdirectories are not watched.
func (w *Watcher) AddDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("error accessing directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to add directory %s to watcher: %w", dir, err)
	}

	w.mutex.Lock()
	found := false
	for _, existing := range w.directories {
		if existing == dir {
			found = true
			break
		}
	}
	if !found {
		w.directories = append(w.directories, dir)
	}
	w.mutex.Unlock()
	log.LogWithFields(log.F("directory", dir)).Info("Watching directory")
	return nil
}

// Events returns the channel that delivers settled files. It is closed
// after Stop returns.
func (w *Watcher) Events() <-chan organize.FileEvent {
	return w.events
}

// Start begins the event loop.
func (w *Watcher) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	select {
	case <-w.stopChan:
		return fmt.Errorf("watcher cannot be restarted")
	default:
	}
	w.running = true

	go w.loop()

	log.Debugf("Watcher started (settle %s)", w.settle)
	return nil
}

func (w *Watcher) loop() {
	defer close(w.loopDone)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Renames into the directory arrive as Create.
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.arm(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.LogWithFields(log.F("error", err)).Error("fsnotify watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// arm (re)starts the settle timer for path.
func (w *Watcher) arm(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.settle, func() {
		w.pendingMu.Lock()
		if w.stopped || w.pending[path] != timer {
			w.pendingMu.Unlock()
			return
		}
		delete(w.pending, path)
		w.sends.Add(1)
		w.pendingMu.Unlock()

		defer w.sends.Done()
		w.emit(path)
	})
	w.pending[path] = timer
}

func (w *Watcher) emit(path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogWithFields(log.F("file", path), log.F("error", err)).Error("Error stating file")
		}
		return
	}
	if info.IsDir() {
		return
	}

	select {
	case w.events <- organize.FileEvent{Path: path}:
	case <-w.stopChan:
	}
}

// Pending returns the number of files waiting for their settle period.
func (w *Watcher) Pending() int {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return len(w.pending)
}

// Stop halts the watcher, discards files that have not settled yet and
// closes the Events channel. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.running {
		return
	}
	w.running = false

	w.pendingMu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	close(w.stopChan)
	if err := w.fsWatcher.Close(); err != nil {
		log.LogWithFields(log.F("error", err)).Error("Error closing fsnotify watcher")
	}
	<-w.loopDone
	w.sends.Wait()
	close(w.events)

	log.Debug("Watcher stopped")
}

// IsRunning returns whether the watcher is currently active
func (w *Watcher) IsRunning() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.running
}

// GetDirectories returns the list of directories being watched
func (w *Watcher) GetDirectories() []string {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	dirs := make([]string, len(w.directories))
	copy(dirs, w.directories)
	return dirs
}
