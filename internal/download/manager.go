// Package download is the concurrent content-addressed downloader:
// bounded worker pool, streaming SHA-1 verification, idempotent skip of
// already-satisfied files.
package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
)

// Task is one unit of download work. Tasks are immutable once enqueued.
type Task struct {
	ID   string // stable identifier, reported in progress events
	URL  string
	Path string // local destination
	SHA1 string // expected content hash, optional
	Size int64  // expected size in bytes, optional (0 = unknown)
}

// Progress is a coalesced snapshot of batch state. Counters are
// cumulative, so a consumer that misses intermediate snapshots still sees
// correct totals; delivery never blocks a worker.
type Progress struct {
	TotalBytes      int64
	DownloadedBytes int64
	TotalTasks      int
	CompletedTasks  int
	CurrentTask     string  // id of the most recently touched task
	Speed           float64 // bytes per second
}

// Result summarizes a finished batch.
type Result struct {
	Completed int
	Skipped   int
}

// DownloadError is a non-success response fetching an artifact.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
}

// HashMismatchError is a verified digest that did not match the task's
// expectation. The destination file is not created: verification happens
// on the temporary file, which is removed.
type HashMismatchError struct {
	TaskID   string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.TaskID, e.Expected, e.Actual)
}

// Manager drives batches of download tasks through a fixed worker pool.
type Manager struct {
	httpClient  *http.Client
	workerCount int

	mu              sync.RWMutex
	progress        Progress
	downloadedBytes int64
	completedTasks  int64
	skippedTasks    int64
}

// NewManager creates a manager with the given worker count (<=0 means 4).
func NewManager(workerCount int) *Manager {
	if workerCount <= 0 {
		workerCount = 4
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 1 * time.Second
	retry.RetryWaitMax = 10 * time.Second
	retry.Logger = nil

	retry.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	retry.HTTPClient.Timeout = 5 * time.Minute

	return &Manager{
		httpClient:  retry.StandardClient(),
		workerCount: workerCount,
	}
}

// Download runs all tasks to completion or to the first terminal failure.
// On failure the batch context is cancelled so sibling workers stop
// promptly; files already verified stay on disk, making a re-run cheap.
// Cancelling ctx fails the batch with the context's error. Progress
// snapshots are sent to progressChan (may be nil) without ever blocking
// a worker.
func (m *Manager) Download(ctx context.Context, tasks []Task, progressChan chan<- Progress) (*Result, error) {
	if len(tasks) == 0 {
		return &Result{}, nil
	}

	var totalBytes int64
	for _, task := range tasks {
		totalBytes += task.Size
	}

	m.mu.Lock()
	m.progress = Progress{TotalBytes: totalBytes, TotalTasks: len(tasks)}
	m.mu.Unlock()
	atomic.StoreInt64(&m.downloadedBytes, 0)
	atomic.StoreInt64(&m.completedTasks, 0)
	atomic.StoreInt64(&m.skippedTasks, 0)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Task, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var (
		firstErr   error
		errOnce    sync.Once
		reporterWG sync.WaitGroup
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	reporterDone := make(chan struct{})
	if progressChan != nil {
		reporterWG.Add(1)
		go func() {
			defer reporterWG.Done()
			m.reportProgress(ctx, progressChan, reporterDone)
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < m.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				if ctx.Err() != nil {
					return
				}

				m.mu.Lock()
				m.progress.CurrentTask = task.ID
				m.mu.Unlock()

				skipped, err := m.downloadTask(ctx, task)
				if err != nil {
					if ctx.Err() == nil || !errors.Is(err, context.Canceled) {
						fail(fmt.Errorf("%s: %w", task.ID, err))
					}
					return
				}
				if skipped {
					atomic.AddInt64(&m.skippedTasks, 1)
				}
				atomic.AddInt64(&m.completedTasks, 1)
			}
		}()
	}

	wg.Wait()
	close(reporterDone)
	reporterWG.Wait()

	// A cancelled caller is a failed batch even when no worker got far
	// enough to record an error of its own.
	if firstErr == nil {
		firstErr = parent.Err()
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return &Result{
		Completed: int(atomic.LoadInt64(&m.completedTasks)),
		Skipped:   int(atomic.LoadInt64(&m.skippedTasks)),
	}, nil
}

func (m *Manager) reportProgress(ctx context.Context, progressChan chan<- Progress, done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastBytes int64
	lastTime := time.Now()

	emit := func() {
		m.mu.RLock()
		p := m.progress
		m.mu.RUnlock()

		current := atomic.LoadInt64(&m.downloadedBytes)
		now := time.Now()
		if elapsed := now.Sub(lastTime).Seconds(); elapsed > 0 {
			p.Speed = float64(current-lastBytes) / elapsed
			lastBytes = current
			lastTime = now
		}
		p.DownloadedBytes = current
		p.CompletedTasks = int(atomic.LoadInt64(&m.completedTasks))

		select {
		case progressChan <- p:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			emit()
			return
		case <-ticker.C:
			emit()
		}
	}
}

// downloadTask fetches and verifies a single task. It reports whether the
// task was satisfied without touching the network.
func (m *Manager) downloadTask(ctx context.Context, task Task) (skipped bool, err error) {
	valid, err := IsFileValid(task)
	if err != nil {
		return false, err
	}
	if valid {
		atomic.AddInt64(&m.downloadedBytes, task.Size)
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(task.Path), 0o755); err != nil {
		return false, fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &DownloadError{URL: task.URL, StatusCode: resp.StatusCode}
	}

	tmpPath := task.Path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return false, fmt.Errorf("creating file: %w", err)
	}

	// Bytes go to disk and into the digest in receipt order; the two are
	// never reordered relative to each other.
	hasher := sha1.New()
	writer := io.MultiWriter(f, hasher)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(tmpPath)
				return false, fmt.Errorf("writing file: %w", writeErr)
			}
			atomic.AddInt64(&m.downloadedBytes, int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmpPath)
			return false, fmt.Errorf("reading response: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("closing file: %w", err)
	}

	if task.SHA1 != "" {
		digest := hex.EncodeToString(hasher.Sum(nil))
		if digest != task.SHA1 {
			os.Remove(tmpPath)
			return false, &HashMismatchError{TaskID: task.ID, Expected: task.SHA1, Actual: digest}
		}
	}

	if err := os.Rename(tmpPath, task.Path); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("renaming file: %w", err)
	}

	return false, nil
}

// IsFileValid reports whether the destination already satisfies the task:
// the file exists, its size matches when one is expected, and its content
// hash matches a streamed recomputation when one is expected.
func IsFileValid(task Task) (bool, error) {
	info, err := os.Stat(task.Path)
	if err != nil {
		return false, nil
	}
	if task.Size > 0 && info.Size() != task.Size {
		return false, nil
	}
	if task.SHA1 == "" {
		return true, nil
	}

	digest, err := hashFile(task.Path)
	if err != nil {
		return false, nil
	}
	return digest == task.SHA1, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FormatSpeed renders a transfer rate for display.
func FormatSpeed(bytesPerSec float64) string {
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}
