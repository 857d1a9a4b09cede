// Package driver runs the end-to-end build state machine: detection,
// configure, build, test, install, with failure diagnosis and
// user-decided remediation between phases.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tarbuild/tarbuild/internal/buildsys"
	"github.com/tarbuild/tarbuild/internal/deps"
	"github.com/tarbuild/tarbuild/internal/env"
	"github.com/tarbuild/tarbuild/internal/executor"
	"github.com/tarbuild/tarbuild/internal/gitfix"
	"github.com/tarbuild/tarbuild/internal/pkgmgr"
	"github.com/tarbuild/tarbuild/internal/tracker"
)

// State is the session's position in the build sequence.
type State string

const (
	StateIdle             State = "idle"
	StateDetecting        State = "detecting"
	StateConfiguring      State = "configuring"
	StateBuilding         State = "building"
	StateTesting          State = "testing"
	StateInstalling       State = "installing"
	StateAwaitingDecision State = "awaiting-decision"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

// Event is a phase-by-phase status notification for the presentation
// layer. Events are delivered in phase-completion order; no particular
// UI threading model is assumed.
type Event struct {
	State   State
	Phase   buildsys.Phase
	Message string

	// Failure payload, set on AwaitingDecision events.
	Result *executor.Result
	Deps   []deps.Resolved
	GitFix *gitfix.Plan
}

// DecisionKind is the user's choice at an AwaitingDecision event.
// DecisionSkip is only honored for a failed configure; skipping later
// phases is refused and another decision is requested.
type DecisionKind string

const (
	DecisionAbort           DecisionKind = "abort"
	DecisionRetry           DecisionKind = "retry"
	DecisionSkip            DecisionKind = "skip"
	DecisionInstallPackages DecisionKind = "install-packages"
	DecisionApplyGitFix     DecisionKind = "apply-git-fix"
)

// Decision answers an AwaitingDecision event.
type Decision struct {
	Kind     DecisionKind
	Packages []string // for DecisionInstallPackages; empty means all suggested
}

// Project is a resolved source tree. Variant is filled in by detection
// and never changes afterwards.
type Project struct {
	Name        string
	SourceDir   string
	ArchiveName string
	Version     string
	Prefix      string
	Variant     buildsys.Variant
}

// Config controls a session.
type Config struct {
	Prefix       string
	SystemWide   bool
	Jobs         int // 0 means detected core count
	RunTests     bool
	Extra        []string // extra configure/setup flags, pass-through
	PhaseTimeout time.Duration
}

var (
	// ErrAborted reports that the user declined remediation or the
	// failure had no recovery path.
	ErrAborted = errors.New("build aborted")
	// ErrCancelled reports cooperative cancellation.
	ErrCancelled = errors.New("build cancelled")
)

// PhaseError is a phase failure carried out of an aborted session.
type PhaseError struct {
	Phase  buildsys.Phase
	Result executor.Result
	Deps   []deps.Resolved
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Phase, e.Result.ExitCode)
}

func (e *PhaseError) Unwrap() error { return ErrAborted }

// GitFixer abstracts git metadata synthesis so tests can substitute a
// fake; the default applies the real fix.
type GitFixer interface {
	Detect(output string) bool
	Synthesize(dir, archiveName, version string) gitfix.Plan
	Apply(ctx context.Context, plan gitfix.Plan) error
}

type realFixer struct{}

func (realFixer) Detect(output string) bool { return gitfix.Detect(output) }
func (realFixer) Synthesize(dir, archiveName, version string) gitfix.Plan {
	return gitfix.Synthesize(dir, archiveName, version)
}
func (realFixer) Apply(ctx context.Context, plan gitfix.Plan) error {
	return gitfix.Apply(ctx, plan)
}

// Session drives one build from detection to install record. A Session
// is single use: Run may be called once, and closes the event channel
// when it returns.
type Session struct {
	cfg       Config
	runner    executor.Runner
	rules     *deps.RuleSet
	installer pkgmgr.Installer
	store     *tracker.Store
	fixer     GitFixer
	onLine    func(stream, line string)

	events    chan Event
	decisions chan Decision

	stdout, stderr []byte // full captured output for log persistence
	extra          []string
	gitFixApplied  bool
}

// Option configures a Session.
type Option func(*Session)

func WithRunner(r executor.Runner) Option        { return func(s *Session) { s.runner = r } }
func WithRules(rs *deps.RuleSet) Option          { return func(s *Session) { s.rules = rs } }
func WithInstaller(i pkgmgr.Installer) Option    { return func(s *Session) { s.installer = i } }
func WithStore(st *tracker.Store) Option         { return func(s *Session) { s.store = st } }
func WithGitFixer(f GitFixer) Option             { return func(s *Session) { s.fixer = f } }
func WithOutput(fn func(stream, line string)) Option {
	return func(s *Session) { s.onLine = fn }
}

// New creates a session. Unless overridden by options, it runs real
// processes, uses the embedded rule table, the detected host package
// manager and the default record store.
func New(cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		fixer:     realFixer{},
		events:    make(chan Event, 128),
		decisions: make(chan Decision),
		extra:     append([]string(nil), cfg.Extra...),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = executor.NewLocal()
	}
	if s.rules == nil {
		rules, err := deps.Default()
		if err != nil {
			return nil, err
		}
		s.rules = rules
	}
	if s.store == nil {
		dir, err := env.RecordsDir()
		if err != nil {
			return nil, err
		}
		s.store = tracker.NewStore(dir)
	}
	if s.installer == nil {
		// Missing package manager is not fatal: suggestions are still
		// surfaced, installing them is just unavailable.
		if sys, err := pkgmgr.DetectSystem(s.runner); err == nil {
			s.installer = sys
		}
	}
	return s, nil
}

// Events returns the notification channel. It is closed when Run
// returns.
func (s *Session) Events() <-chan Event { return s.events }

// Decide answers the pending AwaitingDecision event.
func (s *Session) Decide(d Decision) { s.decisions <- d }

// CapturedOutput returns everything the build wrote so far, for log
// persistence.
func (s *Session) CapturedOutput() (stdout, stderr string) {
	return string(s.stdout), string(s.stderr)
}

func (s *Session) emit(ev Event) {
	s.events <- ev
}

func stateFor(phase buildsys.Phase) State {
	switch phase {
	case buildsys.PhaseConfigure:
		return StateConfiguring
	case buildsys.PhaseBuild:
		return StateBuilding
	case buildsys.PhaseTest:
		return StateTesting
	case buildsys.PhaseInstall:
		return StateInstalling
	}
	return StateIdle
}
