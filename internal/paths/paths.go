// Package paths provides centralized path resolution for reportbot.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the config file searched for in the working
// directory and in the base directory.
const ConfigFileName = "reportbot.json"

// BaseDir returns the reportbot base directory (~/.reportbot).
// REPORTBOT_HOME overrides it, which is how deployments and tests relocate state.
func BaseDir() (string, error) {
	if dir := os.Getenv("REPORTBOT_HOME"); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".reportbot"), nil
}

// DataPath returns a path within the data directory (~/.reportbot/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config path.
// Priority: ./reportbot.{json,yaml,yml} > ~/.reportbot/reportbot.{json,yaml,yml}
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	for _, name := range candidateNames() {
		if _, err := os.Stat(name); err == nil {
			absPath, err := filepath.Abs(name)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return absPath, nil
		}
	}

	for _, name := range candidateNames() {
		globalPath, err := DataPath(name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(globalPath); err == nil {
			return globalPath, nil
		}
	}

	return "", nil
}

func candidateNames() []string {
	return []string{ConfigFileName, "reportbot.yaml", "reportbot.yml"}
}

// DefaultConfigPath returns the default location for new configs.
func DefaultConfigPath() (string, error) {
	return DataPath(ConfigFileName)
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// Resolve expands a tilde and makes relative paths relative to the data directory.
func Resolve(path string) (string, error) {
	expanded, err := ExpandTilde(path)
	if err != nil {
		return "", err
	}
	if expanded == "" || filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return DataPath(expanded)
}
