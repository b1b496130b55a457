package organize

import (
	"fmt"
	"path/filepath"
	"time"

	"downsort/internal/errors"
	"downsort/internal/log"

	"github.com/spf13/afero"
)

// FileEvent reports a file that has arrived at Path.
type FileEvent struct {
	Path string
}

// State is the terminal state of handling one event.
type State int

const (
	// Unhandled means no rule matched and nothing was touched.
	Unhandled State = iota
	// Completed means every action of the matching rule succeeded.
	Completed
	// Failed means an action failed. Earlier actions stay in effect.
	Failed
)

func (s State) String() string {
	switch s {
	case Unhandled:
		return "unhandled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome describes what happened to one event.
type Outcome struct {
	State State
	// Rule is the name of the matching rule, empty when unhandled.
	Rule string
	// RuleIndex is the position of the matching rule, or -1.
	RuleIndex int
	// ActionIndex is the position of the failing action, or -1.
	ActionIndex int
	// Path is the file's final path on success, or the path the failing
	// action was given. Empty after a successful Delete.
	Path string
	Err  error
}

func (o Outcome) String() string {
	switch o.State {
	case Completed:
		return fmt.Sprintf("completed by rule %q: %s", o.Rule, o.Path)
	case Failed:
		return fmt.Sprintf("failed in rule %q at action %d: %v", o.Rule, o.ActionIndex, o.Err)
	}
	return "unhandled"
}

// Option configures an Engine.
type Option func(*Engine)

// WithFs sets the filesystem the engine operates on. Defaults to the OS
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) {
		e.fs = fs
	}
}

// WithClock sets the clock used for date-suffixed names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithDryRun makes the engine log what it would do without touching the
// filesystem.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) {
		e.dryRun = dryRun
	}
}

// WithMaxExtractSize caps the uncompressed bytes written per archive.
func WithMaxExtractSize(n int64) Option {
	return func(e *Engine) {
		e.maxExtract = n
	}
}

// Engine matches file events against rules and runs the matching rule's
// actions. It holds no mutable state, so one Engine can handle events
// for different paths concurrently. Two events for the same path must
// not be handled at the same time.
type Engine struct {
	target     WatchTarget
	fs         afero.Fs
	now        func() time.Time
	dryRun     bool
	maxExtract int64

	resolver  *Resolver
	mover     *Mover
	extractor *Extractor
	deleter   *Deleter
}

// New creates an engine whose relative destinations resolve against
// target.BaseDir.
func New(target WatchTarget, opts ...Option) *Engine {
	e := &Engine{
		target: target,
		fs:     afero.NewOsFs(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(e.fs, e.now)
	e.mover = NewMover(e.fs, e.resolver)
	e.extractor = NewExtractor(e.fs, e.maxExtract)
	e.deleter = NewDeleter(e.fs)
	return e
}

// Target returns the watch target the engine resolves against.
func (e *Engine) Target() WatchTarget {
	return e.target
}

// IsDryRun returns whether the engine is in dry run mode
func (e *Engine) IsDryRun() bool {
	return e.dryRun
}

// Handle runs the first rule matching the event's file name. Actions run
// in order; each one receives the path produced by the one before it. The
// first failure stops the rule and nothing is rolled back.
func (e *Engine) Handle(event FileEvent, rules []Rule) Outcome {
	idx := Match(rules, filepath.Base(event.Path))
	if idx < 0 {
		log.Debugf("No rule matches %s", event.Path)
		return Outcome{State: Unhandled, RuleIndex: -1, ActionIndex: -1, Path: event.Path}
	}
	rule := rules[idx]

	current := event.Path
	for i, action := range rule.Actions {
		next, err := e.apply(action, current)
		if err != nil {
			log.LogWithError(err).With(
				log.F("rule", rule.Name),
				log.F("action_index", i),
			).Errorf("Rule %q failed on %s", rule.Name, current)
			return Outcome{
				State:       Failed,
				Rule:        rule.Name,
				RuleIndex:   idx,
				ActionIndex: i,
				Path:        current,
				Err:         err,
			}
		}
		current = next
	}

	log.LogWithFields(
		log.F("rule", rule.Name),
		log.F("path", event.Path),
		log.F("dry_run", e.dryRun),
	).Infof("Handled %s", filepath.Base(event.Path))
	return Outcome{State: Completed, Rule: rule.Name, RuleIndex: idx, ActionIndex: -1, Path: current}
}

func (e *Engine) apply(action Action, current string) (string, error) {
	if current == "" {
		return "", errors.NewActionError(action.Name(), "no file left to act on", "", errors.FileNotFound, nil)
	}

	switch a := action.(type) {
	case Move:
		dest := e.target.Resolve(a.Dest)
		if e.dryRun {
			return e.planMove(current, dest, a.Duplicate)
		}
		return e.mover.Move(current, dest, a.Duplicate)
	case Unzip:
		dest := e.target.Resolve(a.Dest)
		if e.dryRun {
			log.Infof("Would extract %s into %s", current, dest)
			return current, nil
		}
		if err := e.extractor.Extract(current, dest); err != nil {
			return "", err
		}
		// The archive stays where it is, so a following action acts on it.
		return current, nil
	case Delete:
		if e.dryRun {
			log.Infof("Would delete %s", current)
			return "", nil
		}
		if err := e.deleter.Delete(current); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", errors.NewActionError(action.Name(), "unsupported action", current, errors.InvalidOperation, nil)
}

// planMove resolves where a move would put the file without moving it.
func (e *Engine) planMove(current, destDir string, policy DuplicatePolicy) (string, error) {
	candidate := filepath.Join(destDir, filepath.Base(current))
	if candidate == filepath.Clean(current) {
		return current, nil
	}
	res, err := e.resolver.Resolve(candidate, policy)
	if err != nil {
		return "", err
	}
	log.Infof("Would move %s -> %s (%s)", current, res.Path, res.Kind)
	return res.Path, nil
}
