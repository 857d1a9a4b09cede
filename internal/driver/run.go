package driver

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/qiniu/x/log"

	"github.com/tarbuild/tarbuild/internal/buildsys"
	"github.com/tarbuild/tarbuild/internal/executor"
	"github.com/tarbuild/tarbuild/internal/gitfix"
	"github.com/tarbuild/tarbuild/internal/tracker"
)

// errSkipPhase flows from remediate to runPhase when the user elects to
// continue past a failed phase.
var errSkipPhase = errors.New("skip phase")

// Run executes the full build sequence for proj and returns the saved
// install record on success. It blocks until the build finishes, is
// aborted by a Decision, or ctx is cancelled. Run closes the event
// channel before returning.
func (s *Session) Run(ctx context.Context, proj *Project) (*tracker.Record, error) {
	defer close(s.events)

	if proj.Prefix == "" {
		proj.Prefix = s.cfg.Prefix
	}

	s.emit(Event{State: StateDetecting, Message: "detecting build system in " + proj.SourceDir})
	proj.Variant = buildsys.Detect(proj.SourceDir)
	if proj.Variant == buildsys.Unknown {
		s.emit(Event{State: StateAborted, Message: "no recognizable build system in " + proj.SourceDir})
		return nil, buildsys.ErrUnknownBuildSystem
	}
	s.emit(Event{State: StateDetecting, Message: "detected " + proj.Variant.Name()})

	if err := s.runPhase(ctx, proj, buildsys.PhaseConfigure); err != nil {
		return nil, err
	}
	if err := s.runPhase(ctx, proj, buildsys.PhaseBuild); err != nil {
		return nil, err
	}
	if s.cfg.RunTests {
		if err := s.testPhase(ctx, proj); err != nil {
			return nil, err
		}
	}

	snap := tracker.TakeSnapshot(proj.Prefix)
	if err := s.runPhase(ctx, proj, buildsys.PhaseInstall); err != nil {
		return nil, err
	}

	files := snap.NewFiles(proj.Prefix)
	rec := &tracker.Record{
		Name:           proj.Name,
		Version:        proj.Version,
		Prefix:         proj.Prefix,
		BuildSystem:    proj.Variant.Name(),
		MainExecutable: tracker.FindMainExecutable(proj.Prefix, proj.Name, files),
		Files:          files,
	}
	if err := s.store.Save(rec); err != nil {
		s.emit(Event{State: StateAborted, Message: "cannot save install record: " + err.Error()})
		return nil, err
	}
	s.emit(Event{State: StateDone, Message: "installed " + proj.Name + " " + proj.Version + " to " + proj.Prefix})
	return rec, nil
}

func (s *Session) options(proj *Project, jobs int) buildsys.Options {
	if jobs == 0 {
		jobs = s.cfg.Jobs
	}
	return buildsys.Options{
		SourceDir:  proj.SourceDir,
		Prefix:     proj.Prefix,
		Jobs:       jobs,
		SystemWide: s.cfg.SystemWide,
		RunTests:   s.cfg.RunTests,
		Extra:      s.extra,
	}
}

// runPhase runs one phase with the remediation loop: on failure the
// output is diagnosed, an AwaitingDecision event is emitted, and the
// phase reruns or the session aborts per the answer. A parallel build
// failure is retried serially once before any decision is requested.
func (s *Session) runPhase(ctx context.Context, proj *Project, phase buildsys.Phase) error {
	jobs := 0
	triedSerial := false
	for {
		cmd, ok := buildsys.CommandFor(proj.Variant, phase, s.options(proj, jobs))
		if !ok {
			return nil
		}
		res, err := s.runCommand(ctx, proj, phase, cmd)
		if err != nil {
			return err
		}
		if res.Ok() {
			return nil
		}

		if phase == buildsys.PhaseBuild && !triedSerial && s.options(proj, jobs).EffectiveJobs() > 1 {
			triedSerial = true
			jobs = 1
			s.emit(Event{
				State:   StateBuilding,
				Phase:   phase,
				Message: "parallel build failed, retrying with a single job",
			})
			continue
		}

		err = s.remediate(ctx, proj, phase, res)
		if errors.Is(err, errSkipPhase) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// testPhase runs the test suite if the build system has one. Test
// failures are reported but never block installation.
func (s *Session) testPhase(ctx context.Context, proj *Project) error {
	cmd, ok := buildsys.CommandFor(proj.Variant, buildsys.PhaseTest, s.options(proj, 0))
	if !ok {
		s.emit(Event{State: StateTesting, Phase: buildsys.PhaseTest, Message: "no test target, skipping"})
		return nil
	}
	res, err := s.runCommand(ctx, proj, buildsys.PhaseTest, cmd)
	if err != nil {
		return err
	}
	if !res.Ok() {
		s.emit(Event{
			State:   StateTesting,
			Phase:   buildsys.PhaseTest,
			Message: "tests failed, continuing to install",
			Result:  &res,
		})
	}
	return nil
}

func (s *Session) runCommand(ctx context.Context, proj *Project, phase buildsys.Phase, cmd buildsys.Command) (executor.Result, error) {
	s.emit(Event{
		State:   stateFor(phase),
		Phase:   phase,
		Message: strings.Join(cmd.Argv, " "),
	})
	res, err := s.runner.Run(ctx, executor.Spec{
		Argv:    cmd.Argv,
		Dir:     cmd.Dir,
		Timeout: s.cfg.PhaseTimeout,
		OnLine:  s.onLine,
	})
	s.stdout = append(s.stdout, res.Stdout...)
	s.stderr = append(s.stderr, res.Stderr...)
	if err != nil {
		s.emit(Event{State: StateAborted, Phase: phase, Message: err.Error()})
		return res, err
	}
	if res.Cancelled {
		s.emit(Event{State: StateAborted, Phase: phase, Message: "cancelled during " + string(phase)})
		return res, ErrCancelled
	}
	return res, nil
}

// remediate diagnoses a failed phase and blocks on the user's answer.
// It returns nil when the phase should rerun.
func (s *Session) remediate(ctx context.Context, proj *Project, phase buildsys.Phase, res executor.Result) error {
	output := res.Output()
	resolved := s.rules.Resolve(output)

	var plan *gitfix.Plan
	if !s.gitFixApplied && s.fixer.Detect(output) {
		p := s.fixer.Synthesize(proj.SourceDir, proj.ArchiveName, proj.Version)
		plan = &p
	}

	msg := string(phase) + " failed with exit code " + strconv.Itoa(res.ExitCode)
	if res.TimedOut {
		msg = string(phase) + " timed out"
	}
	s.emit(Event{
		State:   StateAwaitingDecision,
		Phase:   phase,
		Message: msg,
		Result:  &res,
		Deps:    resolved,
		GitFix:  plan,
	})

	for {
		var d Decision
		select {
		case d = <-s.decisions:
		case <-ctx.Done():
			s.emit(Event{State: StateAborted, Phase: phase, Message: "cancelled while awaiting decision"})
			return ErrCancelled
		}

		switch d.Kind {
		case DecisionAbort:
			s.emit(Event{State: StateAborted, Phase: phase, Message: "aborted by user"})
			return &PhaseError{Phase: phase, Result: res, Deps: resolved}
		case DecisionRetry:
			return nil
		case DecisionSkip:
			// Later phases depend on their predecessors having
			// succeeded, so only a failed configure may be skipped.
			if phase != buildsys.PhaseConfigure {
				s.emit(Event{
					State:   StateAwaitingDecision,
					Phase:   phase,
					Message: string(phase) + " failure cannot be skipped",
					Result:  &res,
					Deps:    resolved,
					GitFix:  plan,
				})
				continue
			}
			s.emit(Event{State: stateFor(phase), Phase: phase, Message: "skipping " + string(phase) + " despite failure"})
			return errSkipPhase
		case DecisionInstallPackages:
			pkgs := d.Packages
			if len(pkgs) == 0 {
				for _, r := range resolved {
					pkgs = append(pkgs, r.Packages...)
				}
			}
			return s.installPackages(ctx, phase, pkgs)
		case DecisionApplyGitFix:
			return s.applyGitFix(ctx, proj, phase, plan)
		}
		s.emit(Event{State: StateAborted, Phase: phase, Message: "unrecognized decision"})
		return &PhaseError{Phase: phase, Result: res, Deps: resolved}
	}
}

func (s *Session) installPackages(ctx context.Context, phase buildsys.Phase, pkgs []string) error {
	if len(pkgs) == 0 {
		s.emit(Event{State: stateFor(phase), Phase: phase, Message: "no packages to install, retrying"})
		return nil
	}
	if s.installer == nil {
		s.emit(Event{State: stateFor(phase), Phase: phase, Message: "no package manager available, retrying without installing"})
		return nil
	}
	s.emit(Event{State: stateFor(phase), Phase: phase, Message: "installing " + strings.Join(pkgs, " ")})
	res, err := s.installer.Install(ctx, pkgs)
	if err != nil {
		s.emit(Event{State: StateAborted, Phase: phase, Message: err.Error()})
		return err
	}
	if res.Cancelled {
		s.emit(Event{State: StateAborted, Phase: phase, Message: "cancelled during package install"})
		return ErrCancelled
	}
	if !res.Ok() {
		log.Warnf("package install exited %d", res.ExitCode)
		s.emit(Event{State: stateFor(phase), Phase: phase, Message: "package install failed, retrying build anyway"})
	}
	return nil
}

func (s *Session) applyGitFix(ctx context.Context, proj *Project, phase buildsys.Phase, plan *gitfix.Plan) error {
	if plan == nil {
		s.emit(Event{State: stateFor(phase), Phase: phase, Message: "no git fix available, retrying"})
		return nil
	}
	if err := s.fixer.Apply(ctx, *plan); err != nil {
		// The fix is best effort: report and retry without it.
		s.emit(Event{State: stateFor(phase), Phase: phase, Message: "git fix failed: " + err.Error() + ", retrying without it"})
		return nil
	}
	s.gitFixApplied = true
	if proj.Variant == buildsys.CMake {
		s.extra = append(s.extra, gitfix.ExtraCMakeArgs(*plan)...)
	}
	if _, err := gitfix.WriteVersionFiles(*plan); err != nil {
		log.Warnf("version files: %v", err)
	}
	s.emit(Event{State: stateFor(phase), Phase: phase, Message: "applied git metadata fix, retrying"})
	return nil
}
