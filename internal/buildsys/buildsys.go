// Package buildsys detects the build system convention a source tree
// follows and synthesizes the configure/build/test/install command
// sequence for it.
package buildsys

import (
	"errors"
	"os"
	"path/filepath"
)

// Variant identifies the build system convention of a source tree.
type Variant string

const (
	Autotools     Variant = "autotools"
	CMake         Variant = "cmake"
	Meson         Variant = "meson"
	PlainMakefile Variant = "makefile"
	Unknown       Variant = ""
)

// ErrUnknownBuildSystem is returned when no recognizable build system
// indicator file is present. Callers are expected to offer manual
// command entry instead of treating this as fatal.
var ErrUnknownBuildSystem = errors.New("no recognizable build system found")

// Name returns the human-readable build system name.
func (v Variant) Name() string {
	switch v {
	case Autotools:
		return "GNU Autotools"
	case CMake:
		return "CMake"
	case Meson:
		return "Meson"
	case PlainMakefile:
		return "Plain Makefile"
	}
	return "Unknown"
}

var makefileNames = []string{"Makefile", "makefile", "GNUmakefile"}

// Detect inspects top-level indicator files and returns the build system
// variant. When several indicators coexist the precedence is fixed:
// Autotools > CMake > Meson > PlainMakefile. A missing or unreadable
// directory yields Unknown, never an error.
func Detect(dir string) Variant {
	if isExecutable(filepath.Join(dir, "configure")) {
		return Autotools
	}
	if isFile(filepath.Join(dir, "CMakeLists.txt")) {
		return CMake
	}
	if isFile(filepath.Join(dir, "meson.build")) {
		return Meson
	}
	for _, name := range makefileNames {
		if isFile(filepath.Join(dir, name)) {
			return PlainMakefile
		}
	}
	return Unknown
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
