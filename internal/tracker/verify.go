package tracker

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot records every regular file and symlink currently under dir.
// A missing dir yields an empty snapshot.
type Snapshot map[string]struct{}

// TakeSnapshot walks dir and records existing paths. It is taken before
// an Install phase so the files the install wrote can be diffed out.
func TakeSnapshot(dir string) Snapshot {
	snap := make(Snapshot)
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtrees are simply not snapshotted
		}
		if !info.IsDir() {
			snap[path] = struct{}{}
		}
		return nil
	})
	return snap
}

// NewFiles walks dir again and returns the paths that exist now but
// were absent from the snapshot, sorted. Only paths observed to exist
// are returned; nothing is speculative.
func (s Snapshot) NewFiles(dir string) []string {
	var added []string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := s[path]; !ok {
			added = append(added, path)
		}
		return nil
	})
	sort.Strings(added)
	return added
}

// FindMainExecutable guesses the application's primary binary: an
// executable under prefix/bin whose name contains projectName, else the
// first executable found there.
func FindMainExecutable(prefix, projectName string, files []string) string {
	binDir := filepath.Join(prefix, "bin") + string(filepath.Separator)
	lower := strings.ToLower(projectName)
	first := ""
	for _, path := range files {
		if !strings.HasPrefix(path, binDir) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		if first == "" {
			first = path
		}
		if lower != "" && strings.Contains(strings.ToLower(filepath.Base(path)), lower) {
			return path
		}
	}
	return first
}
