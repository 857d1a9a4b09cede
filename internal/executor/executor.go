// Package executor runs external build tools with captured output,
// timeout and process-group cancellation.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/qiniu/x/log"
	"golang.org/x/sys/unix"
)

// Spec describes a single command invocation.
type Spec struct {
	Argv    []string
	Dir     string
	Env     map[string]string // overrides merged over the process environment
	Timeout time.Duration     // zero means no timeout
	OnLine  func(stream, line string)
}

// Result captures how a command run ended. It is immutable once
// produced; callers inspect it and discard it (or persist it to a log).
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Cancelled bool
}

// Ok reports whether the command completed normally with exit code 0.
func (r Result) Ok() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Cancelled
}

// Output returns stdout and stderr joined, stderr last, for diagnostics
// that do not care which stream a line arrived on.
func (r Result) Output() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner runs external commands. The local implementation is Local;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Local runs commands as child processes on the local machine. Each
// child is placed in its own process group so that cancellation reaches
// the subprocesses build tools spawn.
type Local struct {
	// Grace is how long a process group is given to exit after SIGTERM
	// before it is SIGKILLed.
	Grace time.Duration
}

// NewLocal returns a Local runner with a 2 second termination grace.
func NewLocal() *Local {
	return &Local{Grace: 2 * time.Second}
}

func (l *Local) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Argv) == 0 {
		return Result{}, errors.New("executor: empty argv")
	}
	start := time.Now()

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(spec.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), spec.Env)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	log.Debugf("exec: %s", strings.Join(spec.Argv, " "))
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			msg := fmt.Sprintf("command not found: %s", spec.Argv[0])
			emit(spec.OnLine, "stderr", msg)
			return Result{ExitCode: 127, Stderr: msg, Duration: time.Since(start)}, nil
		}
		return Result{}, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}

	var mu sync.Mutex
	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go collect(&wg, &mu, stdoutPipe, &stdout, "stdout", spec.OnLine)
	go collect(&wg, &mu, stderrPipe, &stderr, "stderr", spec.OnLine)

	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		t := time.NewTimer(spec.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	res := Result{ExitCode: -1}
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		res.Cancelled = true
		l.killGroup(cmd, waitCh)
	case <-timeout:
		res.TimedOut = true
		l.killGroup(cmd, waitCh)
	}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)
	return res, nil
}

// killGroup terminates the whole process group, escalating from SIGTERM
// to SIGKILL after the grace period, and waits for the reaper.
func (l *Local) killGroup(cmd *exec.Cmd, waitCh <-chan error) {
	pgid := cmd.Process.Pid // Setpgid makes the child its own group leader
	_ = unix.Kill(-pgid, unix.SIGTERM)
	select {
	case <-waitCh:
		return
	case <-time.After(l.Grace):
		log.Warnf("process group %d did not exit after SIGTERM, killing", pgid)
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	<-waitCh
}

func collect(wg *sync.WaitGroup, mu *sync.Mutex, r interface{ Read([]byte) (int, error) }, buf *strings.Builder, stream string, onLine func(string, string)) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		mu.Lock()
		buf.WriteString(line)
		buf.WriteByte('\n')
		mu.Unlock()
		emit(onLine, stream, line)
	}
}

func emit(onLine func(string, string), stream, line string) {
	if onLine != nil {
		onLine(stream, line)
	}
}

// mergeEnv returns base with every key in overrides replaced or
// appended, sorted for stable command environments.
func mergeEnv(base []string, overrides map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range overrides {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
