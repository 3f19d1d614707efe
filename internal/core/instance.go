package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// Resolution is the requested game window geometry.
type Resolution struct {
	Width      int  `json:"width" validate:"gte=640"`
	Height     int  `json:"height" validate:"gte=480"`
	Fullscreen bool `json:"fullscreen"`
}

// InstanceConfig is a user-defined launch profile.
type InstanceConfig struct {
	ID         string     `json:"id" validate:"required"`
	Name       string     `json:"name" validate:"required"`
	Version    string     `json:"version" validate:"required"`
	JavaPath   string     `json:"javaPath,omitempty"`
	MinRAM     int        `json:"minRam" validate:"gte=512"`
	MaxRAM     int        `json:"maxRam" validate:"gte=1024,gtefield=MinRAM"`
	Resolution Resolution `json:"resolution"`
	GameDir    string     `json:"gameDir"`
	ModsDir    string     `json:"modsDir"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type instancesFile struct {
	Instances []InstanceConfig `json:"instances" validate:"dive"`
}

var whitespace = regexp.MustCompile(`\s+`)

// InstanceStore persists launch profiles as a single schema-validated JSON
// file, written atomically as a whole-file replace. A file that fails to
// parse or validate is reset to an empty list rather than surfaced as an
// error; a launcher that cannot start because of a corrupt profile file
// helps nobody.
type InstanceStore struct {
	baseDir  string
	filePath string
	validate *validator.Validate
	data     instancesFile
}

// NewInstanceStore creates a store rooted at baseDir. Call Load before use.
func NewInstanceStore(baseDir string) *InstanceStore {
	return &InstanceStore{
		baseDir:  baseDir,
		filePath: filepath.Join(baseDir, "instances.json"),
		validate: validator.New(),
	}
}

// Load reads and validates the instances file. Missing file is not an
// error; malformed content falls back to an empty list and is rewritten.
func (s *InstanceStore) Load() error {
	raw, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.data = instancesFile{}
		return nil
	}
	if err != nil {
		return err
	}

	var parsed instancesFile
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if err := s.validate.Struct(&parsed); err == nil {
			s.data = parsed
			return nil
		}
	}

	// Corrupt or schema-invalid: start over with an empty list.
	s.data = instancesFile{}
	return s.persist()
}

// List returns all instances, sorted by name for stable output.
func (s *InstanceStore) List() []InstanceConfig {
	out := make([]InstanceConfig, len(s.data.Instances))
	copy(out, s.data.Instances)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the instance with the given id.
func (s *InstanceStore) Get(id string) (InstanceConfig, bool) {
	for _, inst := range s.data.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// Upsert inserts or replaces an instance keyed by id. Empty directories
// are defaulted from the instance name, timestamps are maintained, and the
// record must pass schema validation before anything is written.
func (s *InstanceStore) Upsert(inst InstanceConfig) (InstanceConfig, error) {
	now := time.Now().UTC()

	if inst.MinRAM == 0 {
		inst.MinRAM = 1024
	}
	if inst.MaxRAM == 0 {
		inst.MaxRAM = 4096
	}
	if inst.Resolution.Width == 0 {
		inst.Resolution.Width = 1280
	}
	if inst.Resolution.Height == 0 {
		inst.Resolution.Height = 720
	}

	dirName := whitespace.ReplaceAllString(inst.Name, "_")
	if inst.GameDir == "" {
		inst.GameDir = filepath.Join(s.baseDir, dirName)
	}
	if inst.ModsDir == "" {
		inst.ModsDir = filepath.Join(inst.GameDir, "mods")
	}

	inst.UpdatedAt = now
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}

	if err := s.validate.Struct(&inst); err != nil {
		return InstanceConfig{}, fmt.Errorf("invalid instance %q: %w", inst.ID, err)
	}

	replaced := false
	for i, existing := range s.data.Instances {
		if existing.ID == inst.ID {
			s.data.Instances[i] = inst
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Instances = append(s.data.Instances, inst)
	}

	if err := s.persist(); err != nil {
		return InstanceConfig{}, err
	}
	return inst, nil
}

// Delete removes the instance with the given id. Deleting an unknown id is
// a no-op.
func (s *InstanceStore) Delete(id string) error {
	kept := s.data.Instances[:0]
	for _, inst := range s.data.Instances {
		if inst.ID != id {
			kept = append(kept, inst)
		}
	}
	s.data.Instances = kept
	return s.persist()
}

func (s *InstanceStore) persist() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}
