// Package config handles launcher paths and persisted settings.
package config

import (
	"os"
	"path/filepath"
)

// ClientID is the OAuth consumer application identifier used for the
// device-code grant. It can be overridden in settings for development.
const ClientID = "000000004C12AE6F"

// Paths resolves the launcher's on-disk layout under a single root.
type Paths struct {
	Root string
}

// DefaultPaths returns the platform-appropriate launcher root.
func DefaultPaths() Paths {
	// Portable mode: a data directory next to the executable wins.
	if exe, err := os.Executable(); err == nil {
		portable := filepath.Join(filepath.Dir(exe), "data")
		if _, err := os.Stat(portable); err == nil {
			return Paths{Root: portable}
		}
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return Paths{Root: filepath.Join(xdg, "cleanlaunch")}
	}

	if appData := os.Getenv("APPDATA"); appData != "" {
		return Paths{Root: filepath.Join(appData, "cleanlaunch")}
	}

	home, _ := os.UserHomeDir()
	return Paths{Root: filepath.Join(home, ".local", "share", "cleanlaunch")}
}

func (p Paths) VersionsDir() string  { return filepath.Join(p.Root, "versions") }
func (p Paths) LibrariesDir() string { return filepath.Join(p.Root, "libraries") }
func (p Paths) AssetsDir() string    { return filepath.Join(p.Root, "assets") }
func (p Paths) RuntimeDir() string   { return filepath.Join(p.Root, "runtime") }
func (p Paths) InstancesDir() string { return filepath.Join(p.Root, "instances") }
func (p Paths) LogsDir() string      { return filepath.Join(p.Root, "logs") }

// VersionDir is the directory holding a version's jar and natives.
func (p Paths) VersionDir(versionID string) string {
	return filepath.Join(p.VersionsDir(), versionID)
}

// VersionJar is the path of the client jar for a version.
func (p Paths) VersionJar(versionID string) string {
	return filepath.Join(p.VersionDir(versionID), versionID+".jar")
}

// NativesDir is where a version's native libraries are staged and extracted.
func (p Paths) NativesDir(versionID string) string {
	return filepath.Join(p.VersionDir(versionID), "natives")
}

// EnsureDirs creates the standard directory tree.
func (p Paths) EnsureDirs() error {
	dirs := []string{
		p.Root,
		p.VersionsDir(),
		p.LibrariesDir(),
		p.AssetsDir(),
		p.RuntimeDir(),
		p.InstancesDir(),
		p.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
