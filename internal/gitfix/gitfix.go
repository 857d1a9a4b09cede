// Package gitfix fabricates minimal version-control state so that
// version-introspecting build steps (git describe and friends) succeed
// when building from a tarball that ships without history.
package gitfix

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/qiniu/x/log"
)

// Plan holds the synthesis parameters derived from the source directory
// and the release version. It is computed once per failure and discarded
// after the fix is applied or declined.
type Plan struct {
	Dir           string
	Version       string // release version, e.g. "1.2.3"
	Tag           string // lightweight tag to create, "v" + Version
	CommitMessage string
	AuthorName    string
	AuthorEmail   string
	ShortHash     string // synthetic commit id for version cache files
}

// git versioning failure signatures in configure output.
var (
	gitKeywords = []string{
		"git commit", "git describe", "commit id", "gather commit",
		"git rev-parse", "git log", "git version", "git hash",
		"git tag", ".git directory", "git repository",
	}
	errorKeywords = []string{
		"not found", "failed", "could not find", "not available",
		"error", "cannot", "unable to", "missing",
	}
	explicitRes = []*regexp.Regexp{
		regexp.MustCompile(`not\s+a\s+git\s+repository`),
		regexp.MustCompile(`fatal:\s+not\s+a\s+git`),
		regexp.MustCompile(`cache\s+file.*not\s+found`),
		regexp.MustCompile(`version.*file.*not\s+found`),
	}
)

// Detect reports whether failure output carries a version-control
// metadata error signature.
func Detect(output string) bool {
	lower := strings.ToLower(output)
	for _, re := range explicitRes {
		if re.MatchString(lower) {
			return true
		}
	}
	hasGit := false
	for _, kw := range gitKeywords {
		if strings.Contains(lower, kw) {
			hasGit = true
			break
		}
	}
	if !hasGit {
		return false
	}
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Synthesize computes the fix plan for a source directory. archiveName
// seeds the synthetic commit id so repeated runs over the same tarball
// produce the same hash.
func Synthesize(dir, archiveName, version string) Plan {
	if version == "" {
		version = "0.0.0"
	}
	sum := sha1.Sum([]byte(archiveName + "-" + version))
	return Plan{
		Dir:           dir,
		Version:       version,
		Tag:           "v" + version,
		CommitMessage: fmt.Sprintf("Tarball build v%s", version),
		AuthorName:    "Build System",
		AuthorEmail:   "build@localhost",
		ShortHash:     hex.EncodeToString(sum[:])[:7],
	}
}

// Apply initializes a repository at plan.Dir, stages everything, creates
// one synthetic commit and one lightweight tag. Re-applying to an
// already synthesized directory is a no-op success.
func Apply(ctx context.Context, plan Plan) error {
	g := gitRunner{dir: plan.Dir}

	if _, err := os.Stat(filepath.Join(plan.Dir, ".git")); os.IsNotExist(err) {
		if err := g.run(ctx, "init"); err != nil {
			return fmt.Errorf("git init: %w", err)
		}
	}
	if err := g.run(ctx, "config", "user.email", plan.AuthorEmail); err != nil {
		return fmt.Errorf("git config: %w", err)
	}
	if err := g.run(ctx, "config", "user.name", plan.AuthorName); err != nil {
		return fmt.Errorf("git config: %w", err)
	}

	if !g.hasCommit(ctx) {
		if err := g.run(ctx, "add", "-A"); err != nil {
			return fmt.Errorf("git add: %w", err)
		}
		if err := g.run(ctx, "commit", "-m", plan.CommitMessage, "--allow-empty"); err != nil {
			return fmt.Errorf("git commit: %w", err)
		}
	}

	if g.hasTag(ctx, plan.Tag) {
		log.Debugf("gitfix: tag %s already present in %s", plan.Tag, plan.Dir)
		return nil
	}
	if err := g.run(ctx, "tag", plan.Tag); err != nil {
		return fmt.Errorf("git tag %s: %w", plan.Tag, err)
	}
	return nil
}

// ExtraCMakeArgs returns cache definitions that satisfy common CMake
// git version variables without rerunning git.
func ExtraCMakeArgs(plan Plan) []string {
	return []string{
		"-DGIT_COMMIT_ID=" + plan.ShortHash,
		"-DGIT_COMMIT_HASH=" + plan.ShortHash,
		"-DGIT_VERSION=" + plan.Version,
		"-DGIT_TAG=" + plan.Tag,
		"-DGIT_DESCRIBE=" + plan.Tag,
	}
}

// WriteVersionFiles creates the version cache files projects commonly
// read when git is unavailable. Existing files are left alone. The
// created relative paths are returned.
func WriteVersionFiles(plan Plan) ([]string, error) {
	files := []struct{ name, content string }{
		{"VERSION", plan.Version},
		{".version", plan.Version},
		{"version.txt", plan.Version},
		{".git-commit-id", plan.ShortHash},
		{"GIT_COMMIT_ID", plan.ShortHash},
	}
	var created []string
	for _, f := range files {
		path := filepath.Join(plan.Dir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(f.content+"\n"), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", f.name, err)
		}
		created = append(created, f.name)
	}
	return created, nil
}

// gitRunner invokes git inside a fixed directory.
type gitRunner struct {
	dir string
}

func (g gitRunner) run(ctx context.Context, args ...string) error {
	_, err := g.output(ctx, args...)
	return err
}

func (g gitRunner) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

func (g gitRunner) hasCommit(ctx context.Context) bool {
	return g.run(ctx, "rev-parse", "--verify", "HEAD") == nil
}

func (g gitRunner) hasTag(ctx context.Context, tag string) bool {
	out, err := g.output(ctx, "tag", "--list", tag)
	return err == nil && strings.TrimSpace(out) != ""
}
