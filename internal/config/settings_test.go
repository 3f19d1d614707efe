package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsStore_DefaultsOnMissingFile(t *testing.T) {
	store := NewSettingsStore(t.TempDir())

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Theme != "dark" {
		t.Errorf("Theme default: got %s", settings.Theme)
	}
	if settings.DownloadThreads != 4 {
		t.Errorf("Threads default: got %d", settings.DownloadThreads)
	}
	if settings.ClientID != ClientID {
		t.Errorf("Client id default: got %s", settings.ClientID)
	}
}

func TestSettingsStore_RoundTrip(t *testing.T) {
	root := t.TempDir()

	store := NewSettingsStore(root)
	if err := store.Save(Settings{
		Theme:              "light",
		DownloadThreads:    8,
		OnboardingComplete: true,
		Proxy:              "http://proxy:8080",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewSettingsStore(root).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Theme != "light" {
		t.Errorf("Theme: got %s", reloaded.Theme)
	}
	if reloaded.DownloadThreads != 8 {
		t.Errorf("Threads: got %d", reloaded.DownloadThreads)
	}
	if !reloaded.OnboardingComplete {
		t.Error("Onboarding flag lost")
	}
	if reloaded.Proxy != "http://proxy:8080" {
		t.Errorf("Proxy: got %s", reloaded.Proxy)
	}
}

func TestSettingsStore_ClampsOutOfRange(t *testing.T) {
	store := NewSettingsStore(t.TempDir())

	if err := store.Save(Settings{Theme: "neon", DownloadThreads: 64}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Theme != "dark" {
		t.Errorf("Unknown theme should clamp to dark, got %s", settings.Theme)
	}
	if settings.DownloadThreads != 16 {
		t.Errorf("Thread count should clamp to 16, got %d", settings.DownloadThreads)
	}
}

func TestSettingsStore_MalformedFileFallsBack(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "settings.json"), []byte("{nope"), 0644)

	settings, err := NewSettingsStore(root).Load()
	if err != nil {
		t.Fatalf("Load of malformed file should recover, got %v", err)
	}
	if settings.Theme != "dark" || settings.DownloadThreads != 4 {
		t.Errorf("Expected defaults, got %+v", settings)
	}
}

func TestPaths_Layout(t *testing.T) {
	p := Paths{Root: "/data"}

	if got := p.VersionJar("1.21.1"); got != filepath.Join("/data", "versions", "1.21.1", "1.21.1.jar") {
		t.Errorf("VersionJar: got %s", got)
	}
	if got := p.NativesDir("1.21.1"); got != filepath.Join("/data", "versions", "1.21.1", "natives") {
		t.Errorf("NativesDir: got %s", got)
	}
	if got := p.LibrariesDir(); got != filepath.Join("/data", "libraries") {
		t.Errorf("LibrariesDir: got %s", got)
	}
}

func TestPaths_EnsureDirs(t *testing.T) {
	p := Paths{Root: t.TempDir()}
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{p.VersionsDir(), p.LibrariesDir(), p.AssetsDir(), p.RuntimeDir(), p.InstancesDir(), p.LogsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Directory %s missing: %v", dir, err)
		}
	}
}
