// Package launch sequences a full game launch: version resolution,
// artifact download, native extraction, argument construction and process
// spawn. At most one launch is in flight at any time.
package launch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/quasar/cleanlaunch/internal/api"
	"github.com/quasar/cleanlaunch/internal/config"
	"github.com/quasar/cleanlaunch/internal/core"
	"github.com/quasar/cleanlaunch/internal/download"
	"github.com/quasar/cleanlaunch/internal/java"
)

// ErrLaunchInFlight is returned when a launch is requested while another
// one is active. Launches are rejected, never queued.
var ErrLaunchInFlight = errors.New("a launch is already in flight")

const assetBaseURL = "https://resources.download.minecraft.net"

// Status is one event of the launch pipeline: a step transition, a
// progress update, a streamed game log line, or the terminal exit event.
type Status struct {
	Step     string
	Progress float64
	Message  string
	Log      *LogLine
	ExitCode *int
}

// LogLine is one line of the child process's output.
type LogLine struct {
	Text   string
	Stream string // "stdout" or "stderr"
}

// LaunchResult is the live process handle with the exact invocation used.
type LaunchResult struct {
	Cmd     *exec.Cmd
	Command string
	Args    []string
}

// Orchestrator composes the resolver, downloader and argument builder
// into a single launch operation and owns the single active-launch slot.
type Orchestrator struct {
	paths       config.Paths
	mojang      *api.MojangClient
	runtimes    *java.Provisioner
	workerCount int
	log         *slog.Logger

	mu     sync.Mutex
	active *LaunchResult
}

// NewOrchestrator wires an orchestrator. workerCount feeds the downloader
// pool; a nil logger discards.
func NewOrchestrator(paths config.Paths, mojang *api.MojangClient, workerCount int, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		paths:       paths,
		mojang:      mojang,
		runtimes:    java.NewProvisioner(),
		workerCount: workerCount,
		log:         log,
	}
}

// Active reports whether a launch is currently in flight.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Stop terminates the running child process, if any.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.Cmd.Process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return o.active.Cmd.Process.Kill()
	}
	return o.active.Cmd.Process.Signal(syscall.SIGTERM)
}

// Launch runs the whole pipeline and spawns the game. The active slot is
// claimed before any work starts, so a concurrent second launch is
// rejected even while downloads are still running. Progress and log
// events are delivered to statusChan (may be nil) without blocking; the
// terminal exit event frees the slot and is always delivered.
func (o *Orchestrator) Launch(ctx context.Context, inst core.InstanceConfig, account *core.Account, statusChan chan<- Status) (*LaunchResult, error) {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return nil, ErrLaunchInFlight
	}
	// Claim the slot with a placeholder while preparing.
	placeholder := &LaunchResult{}
	o.active = placeholder
	o.mu.Unlock()

	result, err := o.prepareAndSpawn(ctx, inst, account, statusChan)
	if err != nil {
		o.clearActive(placeholder)
		return nil, err
	}

	o.mu.Lock()
	o.active = result
	o.mu.Unlock()

	go o.supervise(result, statusChan)
	return result, nil
}

func (o *Orchestrator) clearActive(expect *LaunchResult) {
	o.mu.Lock()
	if o.active == expect {
		o.active = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) prepareAndSpawn(ctx context.Context, inst core.InstanceConfig, account *core.Account, statusChan chan<- Status) (*LaunchResult, error) {
	send := func(s Status) { sendStatus(statusChan, s) }

	send(Status{Step: "resolve", Message: "Resolving version " + inst.Version})
	entry, err := o.mojang.FindVersion(ctx, inst.Version)
	if err != nil {
		return nil, err
	}
	version, err := o.mojang.FetchVersionDetails(ctx, entry.ID, entry.URL)
	if err != nil {
		return nil, err
	}

	javaPath, err := o.resolveJava(ctx, inst, version, send)
	if err != nil {
		return nil, err
	}

	nativesDir := o.paths.NativesDir(version.ID)
	dirs := []string{
		o.paths.VersionDir(version.ID),
		nativesDir,
		o.paths.LibrariesDir(),
		inst.GameDir,
		inst.ModsDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	tasks := o.buildArtifactTasks(version, nativesDir)
	if err := o.runDownload(ctx, "download", tasks, statusChan); err != nil {
		return nil, err
	}

	assetTasks, err := o.buildAssetTasks(ctx, version)
	if err != nil {
		return nil, err
	}
	if err := o.runDownload(ctx, "assets", assetTasks, statusChan); err != nil {
		return nil, err
	}

	send(Status{Step: "natives", Message: "Extracting native libraries"})
	if err := extractNatives(nativesDir); err != nil {
		return nil, fmt.Errorf("extracting natives: %w", err)
	}

	args := BuildArguments(ArgumentContext{
		Version:    version,
		Instance:   inst,
		Account:    account,
		Classpath:  o.buildClasspath(version),
		NativesDir: nativesDir,
		AssetsDir:  o.paths.AssetsDir(),
	})

	cmd := exec.Command(javaPath, args...)
	cmd.Dir = inst.GameDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	send(Status{Step: "spawn", Message: "Starting game"})
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", javaPath, err)
	}

	o.log.Info("game started", "version", version.ID, "pid", cmd.Process.Pid)

	go streamLog(stdout, "stdout", statusChan)
	go streamLog(stderr, "stderr", statusChan)

	return &LaunchResult{Cmd: cmd, Command: javaPath, Args: args}, nil
}

// supervise waits for the child to exit, emits the terminal event and
// frees the launch slot.
func (o *Orchestrator) supervise(result *LaunchResult, statusChan chan<- Status) {
	err := result.Cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	o.log.Info("game exited", "code", code)
	o.clearActive(result)

	// Unlike progress events the exit event cannot be re-derived, so it
	// must not be dropped when the channel is momentarily full. The slot
	// is already freed, so blocking here is harmless.
	if statusChan != nil {
		statusChan <- Status{Step: "exit", Message: "Game closed", ExitCode: &code}
	}
}

func (o *Orchestrator) resolveJava(ctx context.Context, inst core.InstanceConfig, version *core.VersionDetails, send func(Status)) (string, error) {
	if inst.JavaPath != "" && java.Validate(inst.JavaPath) {
		return inst.JavaPath, nil
	}

	required := version.JavaVersion.MajorVersion
	if required == 0 {
		required = 8
	}

	if rt, err := java.Detect(); err == nil && rt.Major >= required {
		send(Status{Step: "java", Message: "Using " + rt.Path})
		return rt.Path, nil
	}

	send(Status{Step: "java", Message: fmt.Sprintf("Provisioning Java %d runtime", required)})
	return o.runtimes.EnsureRuntime(ctx, required, o.paths.RuntimeDir())
}

// buildArtifactTasks assembles the client jar, rule-filtered library
// artifacts and the platform's native classifiers.
func (o *Orchestrator) buildArtifactTasks(version *core.VersionDetails, nativesDir string) []download.Task {
	var tasks []download.Task

	if client := version.Downloads.Client; client != nil {
		tasks = append(tasks, download.Task{
			ID:   version.ID,
			URL:  client.URL,
			Path: o.paths.VersionJar(version.ID),
			SHA1: client.SHA1,
			Size: client.Size,
		})
	}

	classifierKey := nativeClassifierKey()
	for _, lib := range version.Libraries {
		if !rulesApply(lib.Rules) || lib.Downloads == nil {
			continue
		}
		if artifact := lib.Downloads.Artifact; artifact != nil {
			tasks = append(tasks, download.Task{
				ID:   artifact.Path,
				URL:  artifact.URL,
				Path: filepath.Join(o.paths.LibrariesDir(), filepath.FromSlash(artifact.Path)),
				SHA1: artifact.SHA1,
				Size: artifact.Size,
			})
		}
		if classifier := lib.Downloads.Classifiers[classifierKey]; classifier != nil {
			tasks = append(tasks, download.Task{
				ID:   classifier.Path,
				URL:  classifier.URL,
				Path: filepath.Join(nativesDir, filepath.Base(filepath.FromSlash(classifier.Path))),
				SHA1: classifier.SHA1,
				Size: classifier.Size,
			})
		}
	}
	return tasks
}

func nativeClassifierKey() string {
	switch runtime.GOOS {
	case "windows":
		return "natives-windows"
	case "darwin":
		return "natives-macos"
	default:
		return "natives-linux"
	}
}

// buildAssetTasks ensures the asset index is present, then lists every
// asset object as a content-addressed task.
func (o *Orchestrator) buildAssetTasks(ctx context.Context, version *core.VersionDetails) ([]download.Task, error) {
	indexPath := filepath.Join(o.paths.AssetsDir(), "indexes", version.AssetIndex.ID+".json")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		mgr := download.NewManager(1)
		_, err := mgr.Download(ctx, []download.Task{{
			ID:   "asset-index-" + version.AssetIndex.ID,
			URL:  version.AssetIndex.URL,
			Path: indexPath,
			SHA1: version.AssetIndex.SHA1,
			Size: version.AssetIndex.Size,
		}}, nil)
		if err != nil {
			return nil, fmt.Errorf("downloading asset index: %w", err)
		}
	}

	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("reading asset index: %w", err)
	}
	var index core.AssetIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parsing asset index: %w", err)
	}

	tasks := make([]download.Task, 0, len(index.Objects))
	for name, obj := range index.Objects {
		if len(obj.Hash) < 2 {
			return nil, fmt.Errorf("asset index %s: malformed hash %q for %s", version.AssetIndex.ID, obj.Hash, name)
		}
		prefix := obj.Hash[:2]
		tasks = append(tasks, download.Task{
			ID:   obj.Hash,
			URL:  fmt.Sprintf("%s/%s/%s", assetBaseURL, prefix, obj.Hash),
			Path: filepath.Join(o.paths.AssetsDir(), "objects", prefix, obj.Hash),
			SHA1: obj.Hash,
			Size: obj.Size,
		})
	}
	return tasks, nil
}

func (o *Orchestrator) buildClasspath(version *core.VersionDetails) []string {
	var entries []string
	for _, lib := range version.Libraries {
		if !rulesApply(lib.Rules) || lib.Downloads == nil || lib.Downloads.Artifact == nil {
			continue
		}
		entries = append(entries, filepath.Join(o.paths.LibrariesDir(), filepath.FromSlash(lib.Downloads.Artifact.Path)))
	}
	return append(entries, o.paths.VersionJar(version.ID))
}

func (o *Orchestrator) runDownload(ctx context.Context, step string, tasks []download.Task, statusChan chan<- Status) error {
	if len(tasks) == 0 {
		return nil
	}

	mgr := download.NewManager(o.workerCount)
	progressChan := make(chan download.Progress, 10)

	var forwardWG sync.WaitGroup
	forwardWG.Add(1)
	go func() {
		defer forwardWG.Done()
		for p := range progressChan {
			fraction := 0.0
			if p.TotalBytes > 0 {
				fraction = float64(p.DownloadedBytes) / float64(p.TotalBytes)
			} else if p.TotalTasks > 0 {
				fraction = float64(p.CompletedTasks) / float64(p.TotalTasks)
			}
			sendStatus(statusChan, Status{
				Step:     step,
				Progress: fraction,
				Message:  fmt.Sprintf("%s (%s)", p.CurrentTask, download.FormatSpeed(p.Speed)),
			})
		}
	}()

	_, err := mgr.Download(ctx, tasks, progressChan)
	close(progressChan)
	forwardWG.Wait()
	return err
}

func streamLog(r io.Reader, stream string, statusChan chan<- Status) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sendStatus(statusChan, Status{
			Step: "running",
			Log:  &LogLine{Text: scanner.Text(), Stream: stream},
		})
	}
}

func sendStatus(statusChan chan<- Status, s Status) {
	if statusChan == nil {
		return
	}
	select {
	case statusChan <- s:
	default:
	}
}
