package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestDownload_SingleFile(t *testing.T) {
	content := []byte("Hello, World!")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "test.txt")

	mgr := NewManager(1)
	result, err := mgr.Download(context.Background(), []Task{{
		ID:   "test",
		URL:  server.URL,
		Path: destPath,
	}}, nil)

	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Expected 1 completed, got %d", result.Completed)
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("Reading downloaded file: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("Content mismatch: got %q, want %q", data, content)
	}
}

func TestDownload_SHA1Validation(t *testing.T) {
	content := []byte("Test content for hashing")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "hashed.txt")

	mgr := NewManager(1)
	_, err := mgr.Download(context.Background(), []Task{{
		ID:   "hashed",
		URL:  server.URL,
		Path: destPath,
		SHA1: sha1Hex(content),
		Size: int64(len(content)),
	}}, nil)

	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
}

func TestDownload_SHA1Mismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Test content"))
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "bad_hash.txt")

	mgr := NewManager(1)
	_, err := mgr.Download(context.Background(), []Task{{
		ID:   "bad",
		URL:  server.URL,
		Path: destPath,
		SHA1: "0000000000000000000000000000000000000000",
	}}, nil)

	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected HashMismatchError, got %v", err)
	}
	if mismatch.TaskID != "bad" {
		t.Errorf("Expected task id in error, got %q", mismatch.TaskID)
	}

	// The destination must never appear, and the temp file must be gone.
	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Error("Destination file should not exist after a hash mismatch")
	}
	if _, err := os.Stat(destPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should be removed after a hash mismatch")
	}
}

func TestDownload_SkipsExistingValid(t *testing.T) {
	content := []byte("Existing content")

	serverCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalled = true
		w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "existing.txt")
	os.WriteFile(destPath, content, 0644)

	mgr := NewManager(1)
	result, err := mgr.Download(context.Background(), []Task{{
		ID:   "existing",
		URL:  server.URL,
		Path: destPath,
		SHA1: sha1Hex(content),
		Size: int64(len(content)),
	}}, nil)

	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Expected 1 completed, got %d", result.Completed)
	}
	if result.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", result.Skipped)
	}
	if serverCalled {
		t.Error("Server should not be called for existing valid file")
	}
}

func TestDownload_RedownloadsRightSizeWrongContent(t *testing.T) {
	good := []byte("0123456789")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(good)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "corrupt.txt")
	// Same byte count, different bytes.
	os.WriteFile(destPath, []byte("9876543210"), 0644)

	mgr := NewManager(1)
	result, err := mgr.Download(context.Background(), []Task{{
		ID:   "corrupt",
		URL:  server.URL,
		Path: destPath,
		SHA1: sha1Hex(good),
		Size: int64(len(good)),
	}}, nil)

	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Skipped != 0 {
		t.Errorf("Corrupt file must be refetched, got %d skipped", result.Skipped)
	}
	data, _ := os.ReadFile(destPath)
	if string(data) != string(good) {
		t.Errorf("Expected repaired content %q, got %q", good, data)
	}
}

func TestDownload_MultipleFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content-" + r.URL.Path))
	}))
	defer server.Close()

	tmpDir := t.TempDir()

	tasks := []Task{
		{ID: "1", URL: server.URL + "/1", Path: filepath.Join(tmpDir, "1.txt")},
		{ID: "2", URL: server.URL + "/2", Path: filepath.Join(tmpDir, "2.txt")},
		{ID: "3", URL: server.URL + "/3", Path: filepath.Join(tmpDir, "3.txt")},
	}

	mgr := NewManager(2)
	result, err := mgr.Download(context.Background(), tasks, nil)

	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Completed != 3 {
		t.Errorf("Expected 3 completed, got %d", result.Completed)
	}

	for _, task := range tasks {
		if _, err := os.Stat(task.Path); err != nil {
			t.Errorf("File %s should exist: %v", task.Path, err)
		}
	}
}

func TestDownload_FirstFailureCancelsSiblings(t *testing.T) {
	var served int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&served, 1)
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tmpDir := t.TempDir()

	// One poisoned task up front, many behind it, a single worker: the
	// failure must stop the queue before it drains.
	tasks := []Task{{ID: "bad", URL: server.URL + "/bad", Path: filepath.Join(tmpDir, "bad.txt")}}
	for i := 0; i < 50; i++ {
		name := filepath.Join(tmpDir, "f", fmt.Sprintf("%d.txt", i))
		tasks = append(tasks, Task{ID: name, URL: server.URL + "/ok", Path: name})
	}

	mgr := NewManager(1)
	_, err := mgr.Download(context.Background(), tasks, nil)

	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("Expected DownloadError, got %v", err)
	}
	if dlErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 in error, got %d", dlErr.StatusCode)
	}
	if n := atomic.LoadInt64(&served); n >= int64(len(tasks)) {
		t.Errorf("Expected cancellation to stop the batch early, served %d of %d", n, len(tasks))
	}
}

func TestDownload_EmptyList(t *testing.T) {
	mgr := NewManager(4)
	result, err := mgr.Download(context.Background(), []Task{}, nil)

	if err != nil {
		t.Fatalf("Empty download should not fail: %v", err)
	}
	if result.Completed != 0 || result.Skipped != 0 {
		t.Error("Empty download should have zero completed and skipped")
	}
}

func TestDownload_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "never.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := NewManager(1)
	result, err := mgr.Download(ctx, []Task{{
		ID:   "never",
		URL:  server.URL,
		Path: destPath,
	}}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Cancelled batch must fail, got result=%v err=%v", result, err)
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Error("Cancelled batch must not leave a destination file")
	}
}

func TestDownload_ReportsProgress(t *testing.T) {
	content := make([]byte, 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	progressChan := make(chan Progress, 16)

	mgr := NewManager(2)
	tasks := []Task{
		{ID: "a", URL: server.URL, Path: filepath.Join(tmpDir, "a.bin"), Size: int64(len(content))},
		{ID: "b", URL: server.URL, Path: filepath.Join(tmpDir, "b.bin"), Size: int64(len(content))},
	}
	if _, err := mgr.Download(context.Background(), tasks, progressChan); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	// The final snapshot is emitted after the last worker finishes, so at
	// least one event must be available and the last one must be complete.
	var last Progress
	seen := 0
	for {
		select {
		case p := <-progressChan:
			last = p
			seen++
			continue
		default:
		}
		break
	}
	if seen == 0 {
		t.Fatal("Expected at least one progress snapshot")
	}
	if last.TotalTasks != 2 {
		t.Errorf("Expected 2 total tasks, got %d", last.TotalTasks)
	}
	if last.DownloadedBytes != 2*int64(len(content)) {
		t.Errorf("Expected %d downloaded bytes, got %d", 2*len(content), last.DownloadedBytes)
	}
}

func TestIsFileValid_MissingFile(t *testing.T) {
	valid, err := IsFileValid(Task{Path: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("IsFileValid: %v", err)
	}
	if valid {
		t.Error("Missing file should not be valid")
	}
}

func TestIsFileValid_SizeOnly(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "f.txt")
	os.WriteFile(path, []byte("abc"), 0644)

	valid, _ := IsFileValid(Task{Path: path, Size: 3})
	if !valid {
		t.Error("File with matching size and no hash should be valid")
	}

	valid, _ = IsFileValid(Task{Path: path, Size: 4})
	if valid {
		t.Error("File with wrong size should not be valid")
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(1024 * 1024); got == "" {
		t.Error("FormatSpeed returned empty string")
	}
}
