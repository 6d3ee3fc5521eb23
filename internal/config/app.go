package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.quantiv).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".quantiv"), nil
}

// DefaultConfigPath returns the default config file path (~/.quantiv/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// AppConfig holds the desktop CLI's configuration.
type AppConfig struct {
	// LicenseDir overrides where the license record lives. Empty uses the
	// platform config directory.
	LicenseDir string `yaml:"license_dir,omitempty"`
	// DownloadsDir overrides where auto-activation looks for a license
	// delivery file. Empty uses ~/Downloads.
	DownloadsDir string `yaml:"downloads_dir,omitempty"`
	// ServerURL points at the issuance service, for display in diagnostics.
	ServerURL string `yaml:"server_url,omitempty"`
	// RequireLicense can be set false in internal test builds to skip
	// license checks entirely. Defaults to true.
	RequireLicense bool `yaml:"require_license"`
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*AppConfig, error) {
	cfg := AppConfig{RequireLicense: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*AppConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AppConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
