// Package deps classifies build failure output into missing-dependency
// suggestions using a static rule table.
package deps

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// Resolved is a single remediation suggestion: the dependency name as
// it appeared in the failure output, the system packages that provide
// it, and the evidence line that implicated it.
type Resolved struct {
	Name     string
	Packages []string
	Evidence string
	Rank     int
	Guess    bool // packages were guessed from the name, not mapped by a rule
}

type evidenceRule struct {
	Pattern string `yaml:"pattern"`
	Rank    int    `yaml:"rank"`
	Kind    string `yaml:"kind"`

	re *regexp.Regexp
}

type ruleFile struct {
	Evidence []evidenceRule      `yaml:"evidence"`
	Packages map[string][]string `yaml:"packages"`
}

// RuleSet is the loaded rule table. It is immutable after Load and safe
// to share across sessions.
type RuleSet struct {
	evidence []evidenceRule
	packages map[string][]string
}

// Load parses and compiles the embedded rule table.
func Load() (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(rulesYAML, &f); err != nil {
		return nil, fmt.Errorf("parse dependency rules: %w", err)
	}
	for i := range f.Evidence {
		re, err := regexp.Compile(f.Evidence[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", f.Evidence[i].Pattern, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("rule %q must capture exactly one name", f.Evidence[i].Pattern)
		}
		f.Evidence[i].re = re
	}
	return &RuleSet{evidence: f.Evidence, packages: f.Packages}, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *RuleSet
	defaultErr  error
)

// Default returns the process-wide rule table, loaded once.
func Default() (*RuleSet, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load()
	})
	return defaultSet, defaultErr
}

// Lines in failure output that look like dependency errors but are not.
var skipLineRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)git (commit|command|describe)`),
	regexp.MustCompile(`(?i)gather commit`),
	regexp.MustCompile(`(?i)versioning`),
	regexp.MustCompile(`Call Stack`),
	regexp.MustCompile(`cmake_minimum_required`),
	regexp.MustCompile(`Compatibility with CMake`),
	regexp.MustCompile(`Update the VERSION`),
}

// Captured names that are sentence fragments, not dependencies.
var falsePositives = map[string]bool{
	"yes": true, "no": true, "found": true, "the": true, "a": true, "an": true,
	"is": true, "are": true, "was": true, "were": true, "not": true,
	"command": true, "error": true, "warning": true, "file": true,
	"directory": true, "to": true, "for": true, "in": true, "on": true,
	"at": true, "by": true, "or": true, "and": true, "if": true, "it": true,
	"this": true, "that": true, "with": true, "from": true, "but": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "can": true, "cache": true, "commit": true,
	"version": true, "id": true, "via": true, "required": true,
	"packages": true, "following": true, "stack": true, "call": true,
	"program": true, "system": true,
}

// CMake internal variable shapes that must not be treated as packages.
var internalNameRes = []*regexp.Regexp{
	regexp.MustCompile(`_LIBRARY$`),
	regexp.MustCompile(`_INCLUDE`),
	regexp.MustCompile(`_DIR$`),
	regexp.MustCompile(`_PATH$`),
	regexp.MustCompile(`_ROOT$`),
	regexp.MustCompile(`^[A-Z_]+$`),
}

// Resolve applies every rule against the failure text and returns all
// matches ranked highest-confidence first. The same input always yields
// the same list; an empty result means the caller should surface the
// raw output for manual diagnosis.
func (rs *RuleSet) Resolve(text string) []Resolved {
	var out []Resolved
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		if skipLine(line) {
			continue
		}
		for i := range rs.evidence {
			rule := &rs.evidence[i]
			for _, m := range rule.re.FindAllStringSubmatch(line, -1) {
				name := cleanName(m[1])
				if name == "" {
					continue
				}
				pkgs, guess, ok := rs.packagesFor(name)
				if !ok {
					continue // built in, nothing to install
				}
				key := strings.ToLower(pkgs[0])
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Resolved{
					Name:     name,
					Packages: pkgs,
					Evidence: strings.TrimSpace(line),
					Rank:     rule.Rank,
					Guess:    guess,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank > out[j].Rank })
	return out
}

// packagesFor maps a dependency name to packages, trying the name as
// is, without a "lib" prefix, and with one, before guessing
// "<name>-devel". ok is false for names explicitly marked built in.
func (rs *RuleSet) packagesFor(name string) (pkgs []string, guess, ok bool) {
	lower := strings.ToLower(name)
	for _, key := range []string{lower, strings.TrimPrefix(lower, "lib"), "lib" + lower} {
		if p, found := rs.packages[key]; found {
			if len(p) == 0 {
				return nil, false, false
			}
			return p, false, true
		}
	}
	return []string{name + "-devel"}, true, true
}

func skipLine(line string) bool {
	for _, re := range skipLineRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func cleanName(raw string) string {
	name := strings.Trim(strings.TrimSpace(raw), `'".,;:`)
	// Header paths like argagg/argagg.hpp implicate the leading component.
	if i := strings.IndexByte(name, '/'); i > 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".hpp"), ".h")
	if len(name) < 2 {
		return ""
	}
	if falsePositives[strings.ToLower(name)] {
		return ""
	}
	if strings.ContainsAny(name, "()[]{}") {
		return ""
	}
	for _, re := range internalNameRes {
		if re.MatchString(name) {
			return ""
		}
	}
	return name
}
