package watch

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"downsort/internal/log"
	"downsort/internal/metrics"
	"downsort/internal/organize"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const queueDepth = 16

// DaemonStatus represents the current status of the daemon
type DaemonStatus struct {
	Running          bool      // Whether the daemon is currently active
	WatchDirectories []string  // Directories being watched
	LastActivity     time.Time // Time of last file activity
	FilesProcessed   int       // Events that matched a rule
	FilesFailed      int       // Events whose rule failed
	FilesUnhandled   int       // Events no rule matched
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) DaemonOption {
	return func(d *Daemon) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p RetryPolicy) DaemonOption {
	return func(d *Daemon) {
		d.retry = p
	}
}

// WithRecorder records every outcome in r.
func WithRecorder(r *metrics.Recorder) DaemonOption {
	return func(d *Daemon) {
		d.recorder = r
	}
}

// WithCallback sets a function called after each event has been handled.
// It runs on a worker goroutine.
func WithCallback(cb func(organize.FileEvent, organize.Outcome)) DaemonOption {
	return func(d *Daemon) {
		d.callback = cb
	}
}

// Daemon feeds settled files from a Watcher to a Handler. Events are
// sharded across workers by path, so two events for the same file are
// never handled at the same time while unrelated files run in parallel.
type Daemon struct {
	handler  organize.Handler
	rules    []organize.Rule
	watcher  *Watcher
	workers  int
	retry    RetryPolicy
	recorder *metrics.Recorder
	callback func(organize.FileEvent, organize.Outcome)

	// Statistics
	mutex        sync.RWMutex
	running      bool
	processed    int
	failed       int
	unhandled    int
	lastActivity time.Time
}

// NewDaemon creates a daemon that applies rules to files arriving in the
// handler's watch directory.
func NewDaemon(handler organize.Handler, rules []organize.Rule, watcher *Watcher, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		handler: handler,
		rules:   rules,
		watcher: watcher,
		workers: 1,
		retry:   NoRetry,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run watches until ctx is cancelled. Events already queued are handled
// before Run returns; files still settling are dropped.
func (d *Daemon) Run(ctx context.Context) error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mutex.Unlock()
	defer func() {
		d.mutex.Lock()
		d.running = false
		d.mutex.Unlock()
	}()

	dir := d.handler.Target().WatchPath()
	if err := d.watcher.AddDirectory(dir); err != nil {
		return fmt.Errorf("error adding watch directory %s: %w", dir, err)
	}
	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("error starting watcher: %w", err)
	}
	defer d.watcher.Stop()

	if d.recorder != nil {
		d.recorder.SetRulesLoaded(len(d.rules))
	}
	log.LogWithFields(
		log.F("directory", dir),
		log.F("rules", len(d.rules)),
		log.F("workers", d.workers),
		log.F("dry_run", d.handler.IsDryRun()),
	).Info("Daemon started")

	queues := make([]chan organize.FileEvent, d.workers)
	for i := range queues {
		queues[i] = make(chan organize.FileEvent, queueDepth)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error {
			for ev := range q {
				d.process(gCtx, ev)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		events := d.watcher.Events()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				select {
				case queues[shard(ev.Path, len(queues))] <- ev:
				case <-gCtx.Done():
					return nil
				}
			}
		}
	})

	err := g.Wait()
	log.Info("Daemon stopped")
	return err
}

func shard(path string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int(h.Sum32() % uint32(n))
}

// process handles one event, retrying transient failures of the first
// action according to the retry policy.
func (d *Daemon) process(ctx context.Context, ev organize.FileEvent) organize.Outcome {
	id := uuid.NewString()
	logger := log.LogWithFields(log.F("event_id", id), log.F("file", ev.Path))
	logger.Debug("Handling event")

	start := time.Now()
	var out organize.Outcome
	attempts := 0
	op := func() error {
		attempts++
		out = d.handler.Handle(ev, d.rules)
		if Retryable(out) {
			return out.Err
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if d.recorder != nil {
			d.recorder.IncRetries()
		}
		logger.WithError(err).Warnf("Transient failure, retrying in %s", wait)
	}
	// A non-nil result means the retries ran out or ctx was cancelled;
	// out already holds the last failure either way.
	_ = backoff.RetryNotify(op, backoff.WithContext(d.retry.newBackOff(), ctx), notify)

	elapsed := time.Since(start)
	d.record(out)
	if d.recorder != nil {
		var actions []organize.Action
		if out.RuleIndex >= 0 && out.RuleIndex < len(d.rules) {
			actions = d.rules[out.RuleIndex].Actions
		}
		d.recorder.ObserveOutcome(out, actions, elapsed)
	}
	if out.State == organize.Failed && attempts > 1 {
		logger.WithError(out.Err).Errorf("Giving up after %d attempts", attempts)
	}

	if d.callback != nil {
		d.callback(ev, out)
	}
	return out
}

func (d *Daemon) record(out organize.Outcome) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.lastActivity = time.Now()
	switch out.State {
	case organize.Completed:
		d.processed++
	case organize.Failed:
		d.failed++
	default:
		d.unhandled++
	}
}

// Status returns the current status of the daemon
func (d *Daemon) Status() DaemonStatus {
	var dirs []string
	if d.watcher != nil {
		dirs = d.watcher.GetDirectories()
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	return DaemonStatus{
		Running:          d.running,
		WatchDirectories: dirs,
		LastActivity:     d.lastActivity,
		FilesProcessed:   d.processed,
		FilesFailed:      d.failed,
		FilesUnhandled:   d.unhandled,
	}
}
