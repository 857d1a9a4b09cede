// Package pkgmgr runs the host package manager's install command for a
// package list and reports success or failure. Nothing more: repository
// configuration, version solving and the like stay with the OS tool.
package pkgmgr

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/tarbuild/tarbuild/internal/executor"
)

// Installer installs system packages.
type Installer interface {
	// Command returns the argv that Install would run, for display and
	// manual copy-paste.
	Command(packages []string) []string

	Install(ctx context.Context, packages []string) (executor.Result, error)
}

// ErrNoPackageManager is returned when no supported package manager is
// on PATH.
var ErrNoPackageManager = errors.New("no supported package manager found")

// install argv templates, probed in order.
var managers = []struct {
	tool string
	args []string
}{
	{"dnf", []string{"install", "-y"}},
	{"apt-get", []string{"install", "-y"}},
	{"zypper", []string{"install", "-y"}},
	{"pacman", []string{"-S", "--noconfirm"}},
	{"apk", []string{"add"}},
}

// System invokes the detected host package manager, with sudo when not
// running as root.
type System struct {
	runner executor.Runner
	tool   string
	args   []string
}

// DetectSystem probes PATH for a supported package manager.
func DetectSystem(runner executor.Runner) (*System, error) {
	for _, m := range managers {
		if _, err := exec.LookPath(m.tool); err == nil {
			return &System{runner: runner, tool: m.tool, args: m.args}, nil
		}
	}
	return nil, ErrNoPackageManager
}

func (s *System) Command(packages []string) []string {
	argv := append([]string{s.tool}, s.args...)
	if os.Geteuid() != 0 {
		argv = append([]string{"sudo"}, argv...)
	}
	return append(argv, packages...)
}

func (s *System) Install(ctx context.Context, packages []string) (executor.Result, error) {
	return s.runner.Run(ctx, executor.Spec{Argv: s.Command(packages)})
}
