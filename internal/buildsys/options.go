package buildsys

import (
	"regexp"
	"strings"
)

// ConfigOption is a configurable flag discovered from a build system's
// own help output. Options are presented to the user verbatim; their
// semantics are never interpreted.
type ConfigOption struct {
	Flag        string
	Description string
	Default     string
}

const maxDescription = 200

var (
	enableRe = regexp.MustCompile(`(?s)--enable-(\S+)\s+(.*?)(?:\n\s*--|$)`)
	withRe   = regexp.MustCompile(`(?s)--with-(\S+)\s+(.*?)(?:\n\s*--|$)`)
	cacheRe  = regexp.MustCompile(`^(\w+):(\w+)=(.*)$`)
)

// ParseConfigureOptions extracts --enable-X and --with-X flags from
// "./configure --help" output.
func ParseConfigureOptions(helpText string) []ConfigOption {
	var opts []ConfigOption
	seen := make(map[string]bool)

	collect := func(re *regexp.Regexp, prefix string) {
		for _, m := range re.FindAllStringSubmatch(helpText, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			desc := strings.Join(strings.Fields(m[2]), " ")
			if len(desc) > maxDescription {
				desc = desc[:maxDescription]
			}
			opts = append(opts, ConfigOption{Flag: prefix + name, Description: desc})
		}
	}
	collect(enableRe, "--enable-")
	collect(withRe, "--with-")
	return opts
}

// ParseCMakeCacheOptions extracts user-settable cache variables from
// "cmake -L" output. CMake's internal variables are skipped except for
// the build type and install prefix.
func ParseCMakeCacheOptions(cacheText string) []ConfigOption {
	var opts []ConfigOption
	for _, line := range strings.Split(cacheText, "\n") {
		m := cacheRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name, typ, def := m[1], m[2], m[3]
		if strings.HasPrefix(name, "CMAKE_") &&
			name != "CMAKE_BUILD_TYPE" && name != "CMAKE_INSTALL_PREFIX" {
			continue
		}
		opts = append(opts, ConfigOption{
			Flag:        "-D" + name,
			Description: "Type: " + typ,
			Default:     def,
		})
	}
	return opts
}
