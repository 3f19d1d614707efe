// Package core contains the launcher's domain types and stores,
// independent of any transport or UI concern.
package core

import (
	"encoding/json"
	"time"
)

// VersionType classifies entries in the version manifest.
type VersionType string

const (
	VersionTypeRelease  VersionType = "release"
	VersionTypeSnapshot VersionType = "snapshot"
	VersionTypeOldBeta  VersionType = "old_beta"
	VersionTypeOldAlpha VersionType = "old_alpha"
)

// Version is one entry of the top-level version manifest.
type Version struct {
	ID          string      `json:"id"`
	Type        VersionType `json:"type"`
	URL         string      `json:"url"`
	Time        time.Time   `json:"time"`
	ReleaseTime time.Time   `json:"releaseTime"`
	SHA1        string      `json:"sha1,omitempty"`
}

// VersionManifest is the root of the remote version index.
type VersionManifest struct {
	Latest   LatestVersions `json:"latest"`
	Versions []Version      `json:"versions"`
}

// LatestVersions names the most recent release and snapshot.
type LatestVersions struct {
	Release  string `json:"release"`
	Snapshot string `json:"snapshot"`
}

// VersionDetails is the full per-version metadata document.
type VersionDetails struct {
	ID          string         `json:"id"`
	Type        VersionType    `json:"type"`
	MainClass   string         `json:"mainClass"`
	Arguments   Arguments      `json:"arguments"`
	Libraries   []Library      `json:"libraries"`
	AssetIndex  AssetIndexRef  `json:"assetIndex"`
	Downloads   Downloads      `json:"downloads"`
	JavaVersion JavaVersionReq `json:"javaVersion,omitempty"`
	ReleaseTime time.Time      `json:"releaseTime"`
}

// Arguments holds the modern argument template lists. Each entry is either
// a plain string or a rule-gated group; see ArgumentEntry.
type Arguments struct {
	Game []ArgumentEntry `json:"game"`
	JVM  []ArgumentEntry `json:"jvm"`
}

// ArgumentEntry is one template entry: a literal value, or one or more
// values guarded by rules. The upstream JSON mixes bare strings and
// objects, so it carries custom unmarshalling.
type ArgumentEntry struct {
	Values []string
	Rules  []Rule
}

type ruledArgument struct {
	Rules []Rule          `json:"rules"`
	Value json.RawMessage `json:"value"`
}

// UnmarshalJSON accepts "literal", {"rules": [...], "value": "v"} and
// {"rules": [...], "value": ["v1", "v2"]}.
func (e *ArgumentEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Values = []string{s}
		e.Rules = nil
		return nil
	}

	var ruled ruledArgument
	if err := json.Unmarshal(data, &ruled); err != nil {
		return err
	}
	e.Rules = ruled.Rules

	var one string
	if err := json.Unmarshal(ruled.Value, &one); err == nil {
		e.Values = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(ruled.Value, &many); err != nil {
		return err
	}
	e.Values = many
	return nil
}

// MarshalJSON writes the compact string form when no rules are attached.
func (e ArgumentEntry) MarshalJSON() ([]byte, error) {
	if len(e.Rules) == 0 && len(e.Values) == 1 {
		return json.Marshal(e.Values[0])
	}
	value := any(e.Values)
	if len(e.Values) == 1 {
		value = e.Values[0]
	}
	return json.Marshal(struct {
		Rules []Rule `json:"rules"`
		Value any    `json:"value"`
	}{Rules: e.Rules, Value: value})
}

// Library is a dependency of a version, optionally gated by rules and
// optionally carrying platform-native classifier artifacts.
type Library struct {
	Name      string            `json:"name"`
	Downloads *LibraryDownloads `json:"downloads,omitempty"`
	Rules     []Rule            `json:"rules,omitempty"`
	Natives   map[string]string `json:"natives,omitempty"`
}

// LibraryDownloads locates a library's artifacts.
type LibraryDownloads struct {
	Artifact    *Artifact            `json:"artifact,omitempty"`
	Classifiers map[string]*Artifact `json:"classifiers,omitempty"`
}

// Artifact is a single downloadable file with its integrity metadata.
type Artifact struct {
	Path string `json:"path"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Rule conditions the applicability of an argument entry or library.
type Rule struct {
	Action RuleAction `json:"action"`
	OS     *OSRule    `json:"os,omitempty"`
}

// RuleAction is "allow" or "disallow".
type RuleAction string

const (
	RuleAllow    RuleAction = "allow"
	RuleDisallow RuleAction = "disallow"
)

// OSRule restricts a rule to an operating system and/or architecture.
type OSRule struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Arch    string `json:"arch,omitempty"`
}

// AssetIndexRef points at the asset index document for a version.
type AssetIndexRef struct {
	ID        string `json:"id"`
	SHA1      string `json:"sha1"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	URL       string `json:"url"`
}

// AssetIndex is the decoded asset index: virtual path -> content address.
type AssetIndex struct {
	Objects map[string]AssetObject `json:"objects"`
}

// AssetObject is one content-addressed asset.
type AssetObject struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Downloads holds the primary artifacts of a version.
type Downloads struct {
	Client         *Artifact `json:"client,omitempty"`
	ClientMappings *Artifact `json:"client_mappings,omitempty"`
	Server         *Artifact `json:"server,omitempty"`
}

// JavaVersionReq names the Java runtime a version requires.
type JavaVersionReq struct {
	Component    string `json:"component,omitempty"`
	MajorVersion int    `json:"majorVersion,omitempty"`
}
