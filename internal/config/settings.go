package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Settings are the user-tunable launcher preferences.
type Settings struct {
	Theme              string `json:"theme" mapstructure:"theme"`
	DownloadThreads    int    `json:"downloadThreads" mapstructure:"downloadThreads"`
	OnboardingComplete bool   `json:"onboardingComplete" mapstructure:"onboardingComplete"`
	Proxy              string `json:"proxy,omitempty" mapstructure:"proxy"`
	ClientID           string `json:"clientId,omitempty" mapstructure:"clientId"`
}

// SettingsStore reads and writes settings.json under the launcher root.
// Unknown or invalid values fall back to defaults; the launcher never
// refuses to start over a bad preferences file.
type SettingsStore struct {
	v    *viper.Viper
	path string
}

// NewSettingsStore creates a store for the given launcher root.
func NewSettingsStore(root string) *SettingsStore {
	v := viper.New()
	v.SetConfigFile(filepath.Join(root, "settings.json"))
	v.SetConfigType("json")

	v.SetDefault("theme", "dark")
	v.SetDefault("downloadThreads", 4)
	v.SetDefault("onboardingComplete", false)
	v.SetDefault("clientId", ClientID)

	return &SettingsStore{v: v, path: filepath.Join(root, "settings.json")}
}

// Load reads settings from disk. A missing file yields the defaults; a
// malformed file is replaced by them.
func (s *SettingsStore) Load() (Settings, error) {
	err := s.v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			// Unreadable settings get rewritten with defaults.
			if err := s.Save(s.defaults()); err != nil {
				return Settings{}, err
			}
		}
	}

	var settings Settings
	if err := s.v.Unmarshal(&settings); err != nil {
		settings = s.defaults()
	}
	return clampSettings(settings), nil
}

// Save validates and writes the full settings object.
func (s *SettingsStore) Save(settings Settings) error {
	settings = clampSettings(settings)

	s.v.Set("theme", settings.Theme)
	s.v.Set("downloadThreads", settings.DownloadThreads)
	s.v.Set("onboardingComplete", settings.OnboardingComplete)
	s.v.Set("proxy", settings.Proxy)
	s.v.Set("clientId", settings.ClientID)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

func (s *SettingsStore) defaults() Settings {
	return Settings{
		Theme:           "dark",
		DownloadThreads: 4,
		ClientID:        ClientID,
	}
}

func clampSettings(settings Settings) Settings {
	if settings.Theme != "light" && settings.Theme != "dark" {
		settings.Theme = "dark"
	}
	if settings.DownloadThreads < 1 {
		settings.DownloadThreads = 4
	}
	if settings.DownloadThreads > 16 {
		settings.DownloadThreads = 16
	}
	if settings.ClientID == "" {
		settings.ClientID = ClientID
	}
	return settings
}
