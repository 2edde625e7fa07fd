package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the stacks home directory.
	DefaultDirName = ".stacks"

	// DataDirName is the subdirectory holding the badger databases.
	DataDirName = "data"

	// ReportsDirName is the subdirectory session reports are written to.
	ReportsDirName = "reports"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the stacks home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.stacks).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// CheckpointDBPath returns the badger directory for phase checkpoints.
func (d *Dir) CheckpointDBPath() string {
	return filepath.Join(d.DataPath(), "checkpoints")
}

// SegmentDBPath returns the badger directory for persisted segments.
func (d *Dir) SegmentDBPath() string {
	return filepath.Join(d.DataPath(), "segments")
}

// SessionDBPath returns the badger directory for session records.
func (d *Dir) SessionDBPath() string {
	return filepath.Join(d.DataPath(), "sessions")
}

// ReportsPath returns the path to the reports directory.
func (d *Dir) ReportsPath() string {
	return filepath.Join(d.path, ReportsDirName)
}

// ReportPath returns the path a session report is written to.
func (d *Dir) ReportPath(sessionID, ext string) string {
	return filepath.Join(d.ReportsPath(), fmt.Sprintf("session_%s.%s", sessionID, ext))
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DataPath(), d.ReportsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
