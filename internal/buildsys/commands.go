package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
)

// Phase is one discrete step in the build sequence. Phases execute in
// the fixed order Configure, Build, Test, Install; Test is optional.
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhaseBuild     Phase = "build"
	PhaseTest      Phase = "test"
	PhaseInstall   Phase = "install"
)

// Phases lists all phases in execution order.
var Phases = []Phase{PhaseConfigure, PhaseBuild, PhaseTest, PhaseInstall}

// Command is a single invocation of an external build tool.
type Command struct {
	Phase Phase
	Argv  []string
	Dir   string
}

// Options controls command synthesis. Extra flags are appended to the
// configure/setup invocation verbatim; no validation is attempted.
type Options struct {
	SourceDir  string
	Prefix     string
	Jobs       int  // parallel build jobs; 0 means NumCPU
	SystemWide bool // prefix install commands with sudo
	RunTests   bool
	Extra      []string
}

// EffectiveJobs resolves the job count, defaulting to the core count.
func (o Options) EffectiveJobs() int {
	if o.Jobs > 0 {
		return o.Jobs
	}
	return runtime.NumCPU()
}

// BuildDir returns the out-of-source build directory for variants that
// use one, or the source directory itself.
func BuildDir(v Variant, sourceDir string) string {
	switch v {
	case CMake:
		return filepath.Join(sourceDir, "build")
	case Meson:
		return filepath.Join(sourceDir, "builddir")
	}
	return sourceDir
}

// CommandFor synthesizes the command for a single phase. It returns
// false when the variant has no such phase (PlainMakefile configure,
// or a test phase with no advertised target).
func CommandFor(v Variant, phase Phase, opts Options) (Command, bool) {
	src := opts.SourceDir
	buildDir := BuildDir(v, src)
	jobs := strconv.Itoa(opts.EffectiveJobs())

	cmd := Command{Phase: phase, Dir: src}
	switch v {
	case Autotools:
		switch phase {
		case PhaseConfigure:
			cmd.Argv = append([]string{"./configure", "--prefix=" + opts.Prefix}, opts.Extra...)
		case PhaseBuild:
			cmd.Argv = []string{"make", "-j" + jobs}
		case PhaseTest:
			target, ok := makeTestTarget(src, "check", "test")
			if !ok || !opts.RunTests {
				return Command{}, false
			}
			cmd.Argv = []string{"make", target}
		case PhaseInstall:
			cmd.Argv = sudo(opts, "make", "install")
		}
	case CMake:
		switch phase {
		case PhaseConfigure:
			cmd.Argv = append([]string{
				"cmake", "-DCMAKE_INSTALL_PREFIX=" + opts.Prefix, "-S", src, "-B", buildDir,
			}, opts.Extra...)
		case PhaseBuild:
			cmd.Argv = []string{"cmake", "--build", buildDir, "-j", jobs}
		case PhaseTest:
			if !opts.RunTests || !isFile(filepath.Join(buildDir, "CTestTestfile.cmake")) {
				return Command{}, false
			}
			cmd.Argv = []string{"ctest", "--test-dir", buildDir}
		case PhaseInstall:
			cmd.Argv = sudo(opts, "cmake", "--install", buildDir)
		}
	case Meson:
		switch phase {
		case PhaseConfigure:
			cmd.Argv = append([]string{
				"meson", "setup", "--prefix=" + opts.Prefix, buildDir, src,
			}, opts.Extra...)
		case PhaseBuild:
			cmd.Argv = []string{"ninja", "-C", buildDir, "-j" + jobs}
		case PhaseTest:
			if !opts.RunTests {
				return Command{}, false
			}
			cmd.Argv = []string{"meson", "test", "-C", buildDir}
		case PhaseInstall:
			cmd.Argv = sudo(opts, "ninja", "-C", buildDir, "install")
		}
	case PlainMakefile:
		prefix := "PREFIX=" + opts.Prefix
		switch phase {
		case PhaseConfigure:
			return Command{}, false
		case PhaseBuild:
			cmd.Argv = []string{"make", "-j" + jobs, prefix}
		case PhaseTest:
			target, ok := makeTestTarget(src, "test")
			if !ok || !opts.RunTests {
				return Command{}, false
			}
			cmd.Argv = []string{"make", target}
		case PhaseInstall:
			cmd.Argv = sudo(opts, "make", "install", prefix)
		}
	default:
		return Command{}, false
	}
	return cmd, true
}

// Commands synthesizes the full phase sequence for a variant, in the
// fixed Configure, Build, Test, Install order. Phases the variant does
// not have are omitted.
func Commands(v Variant, opts Options) ([]Command, error) {
	if v == Unknown {
		return nil, ErrUnknownBuildSystem
	}
	var cmds []Command
	for _, phase := range Phases {
		if cmd, ok := CommandFor(v, phase, opts); ok {
			cmds = append(cmds, cmd)
		}
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("no commands for build system %q", v)
	}
	return cmds, nil
}

func sudo(opts Options, argv ...string) []string {
	if opts.SystemWide {
		return append([]string{"sudo"}, argv...)
	}
	return argv
}

var makeTargetRe = regexp.MustCompile(`(?m)^([A-Za-z_-]+)\s*:`)

// makeTestTarget scans the Makefile for the first advertised target
// among the given candidates.
func makeTestTarget(dir string, candidates ...string) (string, bool) {
	for _, name := range makefileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		targets := make(map[string]bool)
		for _, m := range makeTargetRe.FindAllStringSubmatch(string(data), -1) {
			targets[m[1]] = true
		}
		for _, want := range candidates {
			if targets[want] {
				return want, true
			}
		}
		return "", false
	}
	return "", false
}
