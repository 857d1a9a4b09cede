package internal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"

	"github.com/tarbuild/tarbuild/internal/archive"
	"github.com/tarbuild/tarbuild/internal/buildsys"
	"github.com/tarbuild/tarbuild/internal/driver"
	"github.com/tarbuild/tarbuild/internal/env"
)

var installFlags struct {
	prefix     string
	systemWide bool
	jobs       int
	runTests   bool
	extra      []string
	timeout    time.Duration
	assumeYes  bool
	keepSource bool
}

var installCmd = &cobra.Command{
	Use:   "install <tarball|source-dir>",
	Short: "Build a source tarball and install it",
	Long: `Install extracts the tarball (or uses an already extracted source
directory), detects its build system, runs configure, build, optional
tests and install, and records what was installed.

When a step fails, install shows the diagnosis and asks what to do:
install suggested packages, apply a git metadata fix, retry, or abort.
With --yes the first suggested remedy is taken automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.StringVar(&installFlags.prefix, "prefix", "", "Install prefix (default ~/.local, or /usr/local with --system)")
	f.BoolVar(&installFlags.systemWide, "system", false, "Install system wide using sudo")
	f.IntVarP(&installFlags.jobs, "jobs", "j", 0, "Parallel build jobs (default: core count)")
	f.BoolVar(&installFlags.runTests, "tests", false, "Run the project's test suite before installing")
	f.StringArrayVar(&installFlags.extra, "configure-arg", nil, "Extra argument passed to configure/cmake/meson (repeatable)")
	f.DurationVar(&installFlags.timeout, "timeout", 0, "Per-phase timeout (0 disables)")
	f.BoolVarP(&installFlags.assumeYes, "yes", "y", false, "Take the first suggested remedy without asking")
	f.BoolVar(&installFlags.keepSource, "keep-source", false, "Keep the extracted source tree after the build")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proj, cleanup, err := prepareSource(args[0])
	if err != nil {
		return err
	}
	if cleanup != nil && !installFlags.keepSource {
		defer cleanup()
	}

	prefix := installFlags.prefix
	if prefix == "" {
		if installFlags.systemWide {
			prefix = "/usr/local"
		} else {
			prefix, err = env.DefaultPrefix()
			if err != nil {
				return err
			}
		}
	}
	proj.Prefix = prefix

	sess, err := driver.New(driver.Config{
		Prefix:       prefix,
		SystemWide:   installFlags.systemWide,
		Jobs:         installFlags.jobs,
		RunTests:     installFlags.runTests,
		Extra:        installFlags.extra,
		PhaseTimeout: installFlags.timeout,
	}, driver.WithOutput(printLine))
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		answerEvents(sess, installFlags.assumeYes)
	}()

	rec, runErr := sess.Run(ctx, proj)
	<-done
	persistLogs(proj, sess)

	if runErr != nil {
		return fmt.Errorf("install %s: %w", proj.Name, runErr)
	}
	color.Green("installed %s %s (%d files, record %s)", rec.Name, rec.Version, len(rec.Files), rec.ID)
	if rec.MainExecutable != "" {
		fmt.Println("main executable:", rec.MainExecutable)
	}
	return nil
}

// prepareSource turns the argument into a ready source directory. A
// tarball is extracted next to a cleanup func; a directory is used in
// place.
func prepareSource(arg string) (*driver.Project, func(), error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, nil, err
	}
	base := filepath.Base(arg)
	proj := &driver.Project{
		ArchiveName: base,
		Name:        archive.ProjectFromName(base),
		Version:     archive.VersionFromName(base),
	}
	if info.IsDir() {
		proj.SourceDir = arg
		return proj, nil, nil
	}

	dest, err := os.MkdirTemp("", "tarbuild-*")
	if err != nil {
		return nil, nil, err
	}
	src, err := archive.Extract(arg, dest)
	if err != nil {
		os.RemoveAll(dest)
		return nil, nil, fmt.Errorf("extract %s: %w", arg, err)
	}
	proj.SourceDir = src
	return proj, func() { os.RemoveAll(dest) }, nil
}

func printLine(stream, line string) {
	if stream == "stderr" {
		fmt.Fprintln(os.Stderr, line)
		return
	}
	fmt.Println(line)
}

// answerEvents consumes the session's event stream, printing progress
// and prompting at decision points. It returns when the stream closes.
func answerEvents(sess *driver.Session, assumeYes bool) {
	stdin := bufio.NewScanner(os.Stdin)
	for ev := range sess.Events() {
		switch ev.State {
		case driver.StateAwaitingDecision:
			color.Red("%s", ev.Message)
			sess.Decide(promptDecision(stdin, ev, assumeYes))
		case driver.StateAborted:
			color.Red("%s", ev.Message)
		case driver.StateDone:
			// Summary is printed by runInstall.
		default:
			color.Cyan("[%s] %s", ev.State, ev.Message)
		}
	}
}

func promptDecision(stdin *bufio.Scanner, ev driver.Event, assumeYes bool) driver.Decision {
	var pkgs []string
	for _, r := range ev.Deps {
		pkgs = append(pkgs, r.Packages...)
		mark := ""
		if r.Guess {
			mark = " (guess)"
		}
		fmt.Printf("  missing %s -> %s%s\n", r.Name, strings.Join(r.Packages, " "), mark)
	}
	if ev.GitFix != nil {
		fmt.Printf("  git metadata missing; can synthesize commit %s, tag %s\n",
			ev.GitFix.ShortHash, ev.GitFix.Tag)
	}

	if assumeYes {
		switch {
		case len(pkgs) > 0:
			return driver.Decision{Kind: driver.DecisionInstallPackages}
		case ev.GitFix != nil:
			return driver.Decision{Kind: driver.DecisionApplyGitFix}
		}
		return driver.Decision{Kind: driver.DecisionAbort}
	}

	canSkip := ev.Phase == buildsys.PhaseConfigure
	for {
		choices := "[r]etry / [a]bort"
		if canSkip {
			choices = "[r]etry / [s]kip / [a]bort"
		}
		if ev.GitFix != nil {
			choices = "[g]it fix / " + choices
		}
		if len(pkgs) > 0 {
			choices = "[i]nstall packages / " + choices
		}
		fmt.Printf("%s? ", choices)
		if !stdin.Scan() {
			return driver.Decision{Kind: driver.DecisionAbort}
		}
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "i":
			if len(pkgs) > 0 {
				return driver.Decision{Kind: driver.DecisionInstallPackages}
			}
		case "g":
			if ev.GitFix != nil {
				return driver.Decision{Kind: driver.DecisionApplyGitFix}
			}
		case "r":
			return driver.Decision{Kind: driver.DecisionRetry}
		case "s":
			if canSkip {
				return driver.Decision{Kind: driver.DecisionSkip}
			}
		case "a", "q":
			return driver.Decision{Kind: driver.DecisionAbort}
		}
	}
}

func persistLogs(proj *driver.Project, sess *driver.Session) {
	dir, err := env.LogsDir()
	if err != nil {
		log.Warnf("logs dir: %v", err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warnf("logs dir: %v", err)
		return
	}
	stdout, stderr := sess.CapturedOutput()
	if stdout == "" && stderr == "" {
		return
	}
	name := fmt.Sprintf("%s-%s-%s.log", proj.Name, proj.Version, time.Now().Format("20060102-150405"))
	body := stdout
	if stderr != "" {
		body += "\n--- stderr ---\n" + stderr
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		log.Warnf("write log: %v", err)
	}
}
