package launch

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/quasar/cleanlaunch/internal/config"
	"github.com/quasar/cleanlaunch/internal/core"
)

func TestLaunch_RejectsConcurrent(t *testing.T) {
	o := NewOrchestrator(config.Paths{Root: t.TempDir()}, nil, 1, nil)

	// Simulate an in-flight launch holding the slot.
	o.mu.Lock()
	o.active = &LaunchResult{}
	o.mu.Unlock()

	_, err := o.Launch(context.Background(), core.InstanceConfig{}, &core.Account{}, nil)
	if !errors.Is(err, ErrLaunchInFlight) {
		t.Fatalf("Expected ErrLaunchInFlight, got %v", err)
	}
}

func TestActive(t *testing.T) {
	o := NewOrchestrator(config.Paths{Root: t.TempDir()}, nil, 1, nil)
	if o.Active() {
		t.Error("Fresh orchestrator should not be active")
	}

	o.mu.Lock()
	o.active = &LaunchResult{}
	o.mu.Unlock()
	if !o.Active() {
		t.Error("Orchestrator with claimed slot should be active")
	}

	o.clearActive(o.active)
	if o.Active() {
		t.Error("Cleared orchestrator should not be active")
	}
}

func TestSupervise_DeliversExitEventWhenChannelFull(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}

	o := NewOrchestrator(config.Paths{Root: t.TempDir()}, nil, 1, nil)

	cmd := exec.Command("sh", "-c", "exit 3")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	result := &LaunchResult{Cmd: cmd}
	o.mu.Lock()
	o.active = result
	o.mu.Unlock()

	// A consumer one event behind: the channel is full of a log line
	// when the process exits.
	statusChan := make(chan Status, 1)
	statusChan <- Status{Step: "running", Log: &LogLine{Text: "stale", Stream: "stdout"}}

	go o.supervise(result, statusChan)

	var exit *Status
	for i := 0; i < 2; i++ {
		select {
		case s := <-statusChan:
			if s.ExitCode != nil {
				exit = &s
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for status events")
		}
	}

	if exit == nil {
		t.Fatal("Exit event was never delivered")
	}
	if *exit.ExitCode != 3 {
		t.Errorf("Exit code: got %d, want 3", *exit.ExitCode)
	}
	if o.Active() {
		t.Error("Slot must be freed after exit")
	}
}

func writeNativeJar(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestExtractNatives(t *testing.T) {
	dir := t.TempDir()
	writeNativeJar(t, filepath.Join(dir, "lwjgl-natives.jar"), map[string]string{
		"liblwjgl.so":      "binary",
		"META-INF/MANIFEST": "manifest",
	})

	if err := extractNatives(dir); err != nil {
		t.Fatalf("extractNatives: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "liblwjgl.so"))
	if err != nil {
		t.Fatalf("Extracted file missing: %v", err)
	}
	if string(data) != "binary" {
		t.Errorf("Got %q, want binary", data)
	}

	// Re-running overwrites in place without error.
	if err := extractNatives(dir); err != nil {
		t.Fatalf("Second extractNatives: %v", err)
	}
}

func TestExtractNatives_MissingDir(t *testing.T) {
	if err := extractNatives(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("Missing natives dir should be a no-op, got %v", err)
	}
}

func TestExtractArchive_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "evil.jar")
	writeNativeJar(t, jar, map[string]string{"../escape.txt": "nope"})

	if err := extractArchive(jar, dir); err == nil {
		t.Fatal("Expected error for entry escaping the destination")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); !os.IsNotExist(err) {
		t.Error("Escaping entry must not be written")
	}
}

func TestBuildArtifactTasks(t *testing.T) {
	paths := config.Paths{Root: t.TempDir()}
	o := NewOrchestrator(paths, nil, 1, nil)
	nativesDir := paths.NativesDir("1.21.1")

	version := &core.VersionDetails{
		ID: "1.21.1",
		Downloads: core.Downloads{
			Client: &core.Artifact{URL: "http://x/client.jar", SHA1: "aa", Size: 10},
		},
		Libraries: []core.Library{
			{
				Name: "org.lwjgl:lwjgl:3.3.3",
				Downloads: &core.LibraryDownloads{
					Artifact: &core.Artifact{Path: "org/lwjgl/lwjgl.jar", URL: "http://x/lwjgl.jar"},
					Classifiers: map[string]*core.Artifact{
						nativeClassifierKey(): {Path: "org/lwjgl/lwjgl-natives.jar", URL: "http://x/natives.jar"},
					},
				},
			},
			{
				Name:      "com.example:other-os:1.0",
				Rules:     []core.Rule{{Action: core.RuleAllow, OS: &core.OSRule{Name: "never"}}},
				Downloads: &core.LibraryDownloads{Artifact: &core.Artifact{Path: "com/example/other.jar", URL: "http://x/other.jar"}},
			},
		},
	}

	tasks := o.buildArtifactTasks(version, nativesDir)

	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks (client, artifact, classifier), got %d", len(tasks))
	}
	if tasks[0].Path != paths.VersionJar("1.21.1") {
		t.Errorf("Client jar path: got %s", tasks[0].Path)
	}
	if want := filepath.Join(nativesDir, "lwjgl-natives.jar"); tasks[2].Path != want {
		t.Errorf("Classifier path: got %s, want %s", tasks[2].Path, want)
	}
	for _, task := range tasks {
		if strings.Contains(task.Path, "other") {
			t.Error("Rule-excluded library must not be scheduled")
		}
	}
}

func writeAssetIndex(t *testing.T, paths config.Paths, id, body string) {
	t.Helper()
	dir := filepath.Join(paths.AssetsDir(), "indexes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildAssetTasks(t *testing.T) {
	paths := config.Paths{Root: t.TempDir()}
	o := NewOrchestrator(paths, nil, 1, nil)
	hash := "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34"
	writeAssetIndex(t, paths, "17", `{"objects":{"minecraft/sounds/click.ogg":{"hash":"`+hash+`","size":42}}}`)

	version := &core.VersionDetails{AssetIndex: core.AssetIndexRef{ID: "17"}}
	tasks, err := o.buildAssetTasks(context.Background(), version)
	if err != nil {
		t.Fatalf("buildAssetTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	if want := filepath.Join(paths.AssetsDir(), "objects", "ab", hash); tasks[0].Path != want {
		t.Errorf("Object path: got %s, want %s", tasks[0].Path, want)
	}
	if !strings.HasSuffix(tasks[0].URL, "/ab/"+hash) {
		t.Errorf("Object URL must be content-addressed, got %s", tasks[0].URL)
	}
}

func TestBuildAssetTasks_MalformedHash(t *testing.T) {
	paths := config.Paths{Root: t.TempDir()}
	o := NewOrchestrator(paths, nil, 1, nil)
	writeAssetIndex(t, paths, "17", `{"objects":{"minecraft/broken.png":{"hash":"a","size":1}}}`)

	version := &core.VersionDetails{AssetIndex: core.AssetIndexRef{ID: "17"}}
	if _, err := o.buildAssetTasks(context.Background(), version); err == nil {
		t.Fatal("Expected error for a hash too short to address")
	}
}

func TestBuildClasspath(t *testing.T) {
	paths := config.Paths{Root: t.TempDir()}
	o := NewOrchestrator(paths, nil, 1, nil)

	version := &core.VersionDetails{
		ID: "1.21.1",
		Libraries: []core.Library{
			{Downloads: &core.LibraryDownloads{Artifact: &core.Artifact{Path: "a/a.jar"}}},
			{
				Rules:     []core.Rule{{Action: core.RuleDisallow, OS: &core.OSRule{Name: osTagForTest()}}},
				Downloads: &core.LibraryDownloads{Artifact: &core.Artifact{Path: "b/excluded.jar"}},
			},
		},
	}

	cp := o.buildClasspath(version)
	if len(cp) != 2 {
		t.Fatalf("Expected library + version jar, got %v", cp)
	}
	if cp[len(cp)-1] != paths.VersionJar("1.21.1") {
		t.Errorf("Version jar must close the classpath, got %s", cp[len(cp)-1])
	}
}

func osTagForTest() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}
