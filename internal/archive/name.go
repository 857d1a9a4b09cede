package archive

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var versionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-v?(\d+\.\d+\.\d+(?:-\w+)?)`), // project-1.2.3, project-v1.2.3
	regexp.MustCompile(`(?i)-v?(\d+\.\d+)`),               // project-1.2
	regexp.MustCompile(`(?i)_v?(\d+\.\d+\.\d+)`),          // project_1.2.3
	regexp.MustCompile(`(?i)\.v?(\d+\.\d+\.\d+)`),         // project.1.2.3
}

var archiveSuffixes = []string{
	".tar.gz", ".tgz", ".tar.xz", ".txz", ".tar.bz2", ".tbz2", ".tar", ".zip",
}

// VersionFromName extracts the release version from an archive
// filename, falling back to "0.0.0" when none is recognizable.
func VersionFromName(name string) string {
	base := filepath.Base(name)
	for _, re := range versionRes {
		if m := re.FindStringSubmatch(base); m != nil {
			v := m[1]
			if semver.IsValid("v" + v) {
				return v
			}
			// Two-component versions like 1.2 are accepted as is.
			return v
		}
	}
	return "0.0.0"
}

// ProjectFromName derives a project name from an archive filename by
// stripping the archive suffix and any trailing version component.
func ProjectFromName(name string) string {
	base := filepath.Base(name)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	for _, re := range versionRes {
		if loc := re.FindStringIndex(base); loc != nil && loc[0] > 0 {
			base = base[:loc[0]]
			break
		}
	}
	return base
}
