package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/quasar/cleanlaunch/internal/core"
)

var versionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

// MojangClient fetches version metadata with an on-disk cache. The cache
// is a strict memoization: a cached file is never revalidated against the
// source, the only escape hatch being the manifest's force flag.
type MojangClient struct {
	httpClient *http.Client
	cacheDir   string
}

// NewMojangClient creates a client caching under cacheDir. Metadata GETs
// are idempotent, so transient failures are retried.
func NewMojangClient(cacheDir string) *MojangClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil
	retry.HTTPClient.Timeout = 30 * time.Second

	return &MojangClient{
		httpClient: retry.StandardClient(),
		cacheDir:   cacheDir,
	}
}

// FetchVersionManifest returns the top-level version manifest. The cached
// copy short-circuits the network unless force is set; a successful fetch
// overwrites the cache.
func (c *MojangClient) FetchVersionManifest(ctx context.Context, force bool) (*core.VersionManifest, error) {
	cachePath := filepath.Join(c.cacheDir, "version_manifest_v2.json")

	if !force {
		if raw, err := os.ReadFile(cachePath); err == nil {
			var manifest core.VersionManifest
			if err := json.Unmarshal(raw, &manifest); err == nil {
				return &manifest, nil
			}
			// Unreadable cache falls through to a fresh fetch.
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionManifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching version manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ManifestFetchError{StatusCode: resp.StatusCode}
	}

	var manifest core.VersionManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decoding version manifest: %w", err)
	}

	_ = c.writeCache(cachePath, &manifest)
	return &manifest, nil
}

// FetchVersionDetails returns the full metadata for one version, memoized
// by version id: once cached, the URL is never contacted again.
func (c *MojangClient) FetchVersionDetails(ctx context.Context, versionID, url string) (*core.VersionDetails, error) {
	cachePath := filepath.Join(c.cacheDir, versionID+".json")

	if raw, err := os.ReadFile(cachePath); err == nil {
		var details core.VersionDetails
		if err := json.Unmarshal(raw, &details); err == nil {
			return &details, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching version details for %s: %w", versionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &VersionFetchError{VersionID: versionID, StatusCode: resp.StatusCode}
	}

	var details core.VersionDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decoding version details for %s: %w", versionID, err)
	}

	_ = c.writeCache(cachePath, &details)
	return &details, nil
}

// FindVersion locates a manifest entry by id.
func (c *MojangClient) FindVersion(ctx context.Context, id string) (*core.Version, error) {
	manifest, err := c.FetchVersionManifest(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range manifest.Versions {
		if manifest.Versions[i].ID == id {
			return &manifest.Versions[i], nil
		}
	}
	return nil, fmt.Errorf("version not found: %s", id)
}

// LatestRelease returns the id of the newest release.
func (c *MojangClient) LatestRelease(ctx context.Context) (string, error) {
	manifest, err := c.FetchVersionManifest(ctx, false)
	if err != nil {
		return "", err
	}
	return manifest.Latest.Release, nil
}

func (c *MojangClient) writeCache(path string, doc any) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SortVersions orders versions newest-first. Release ids that parse as
// semantic versions are compared as such; everything else (snapshots, old
// betas) falls back to release time.
func SortVersions(versions []core.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i].ID)
		vj, errj := semver.NewVersion(versions[j].ID)
		if erri == nil && errj == nil {
			return vi.GreaterThan(vj)
		}
		if erri == nil != (errj == nil) {
			// Semver-parseable releases sort before snapshot-style ids.
			return erri == nil
		}
		return versions[i].ReleaseTime.After(versions[j].ReleaseTime)
	})
}
