package env

import (
	"os"
	"path/filepath"
)

// DataDir returns the directory holding persistent tarbuild state
// (install records, logs). XDG_DATA_HOME is honored when set.
func DataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tarbuild"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "tarbuild"), nil
}

// RecordsDir returns the install record store directory.
func RecordsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "installs"), nil
}

// LogsDir returns the directory for persisted build logs.
func LogsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// DefaultPrefix returns the per-user installation prefix (~/.local).
func DefaultPrefix() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local"), nil
}
