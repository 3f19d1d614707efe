package java

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

var adoptiumBaseURL = "https://api.adoptium.net"

// Provisioner downloads JRE builds from the Adoptium API when no suitable
// system runtime exists.
type Provisioner struct {
	client *retryablehttp.Client
}

// NewProvisioner creates a provisioner with a retrying HTTP client.
func NewProvisioner() *Provisioner {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &Provisioner{client: client}
}

// EnsureRuntime returns a java executable of the given major version under
// baseDir, downloading and extracting one if not already present.
func (p *Provisioner) EnsureRuntime(ctx context.Context, major int, baseDir string) (string, error) {
	versionDir := filepath.Join(baseDir, fmt.Sprintf("%d", major))
	if exe, err := findExecutable(versionDir); err == nil {
		return exe, nil
	}

	url, filename, err := p.resolveReleaseURL(ctx, major)
	if err != nil {
		return "", fmt.Errorf("resolving java %d: %w", major, err)
	}

	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return "", err
	}

	archivePath := filepath.Join(versionDir, filename)
	if err := p.fetch(ctx, url, archivePath); err != nil {
		return "", fmt.Errorf("downloading java %d: %w", major, err)
	}
	defer os.Remove(archivePath)

	if err := extract(archivePath, versionDir); err != nil {
		return "", fmt.Errorf("extracting java %d: %w", major, err)
	}

	return findExecutable(versionDir)
}

func (p *Provisioner) resolveReleaseURL(ctx context.Context, major int) (string, string, error) {
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "mac"
	}
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "aarch64"
	}

	url := fmt.Sprintf(
		"%s/v3/assets/feature_releases/%d/ga?architecture=%s&heap_size=normal&image_type=jre&jvm_impl=hotspot&os=%s&page=0&page_size=1&project=jdk&vendor=eclipse",
		adoptiumBaseURL, major, arch, osName,
	)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("runtime api returned status %d", resp.StatusCode)
	}

	var releases []struct {
		Binaries []struct {
			Package struct {
				Link string `json:"link"`
				Name string `json:"name"`
			} `json:"package"`
		} `json:"binaries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return "", "", err
	}
	if len(releases) == 0 || len(releases[0].Binaries) == 0 {
		return "", "", fmt.Errorf("no java %d build for %s/%s", major, osName, arch)
	}

	pkg := releases[0].Binaries[0].Package
	return pkg.Link, pkg.Name, nil
}

func (p *Provisioner) fetch(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func extract(src, dest string) error {
	if strings.HasSuffix(src, ".zip") {
		return extractZip(src, dest)
	}
	return extractTarGz(src, dest)
}

// Archives carry a single top-level directory (jdk-21.0.4+7-jre/...) that
// gets stripped so the runtime lands directly under the version dir.
func stripTopDir(name string) string {
	parts := strings.SplitN(filepath.ToSlash(name), "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return filepath.FromSlash(parts[1])
}

func extractTarGz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		rel := stripTopDir(header.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Symlink(header.Linkname, target)
		}
	}
	return nil
}

func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		rel := stripTopDir(f.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func findExecutable(dir string) (string, error) {
	binName := executableName()

	var found string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if info.Name() == binName && filepath.Base(filepath.Dir(path)) == "bin" {
			found = path
			return filepath.SkipDir
		}
		return nil
	})

	if found == "" {
		return "", fmt.Errorf("java executable not found in %s", dir)
	}
	return found, nil
}
