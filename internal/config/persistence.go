// file: internal/config/persistence.go
// version: 2.0.0
// guid: 9c8d7e6f-5a4b-3c2d-1e0f-9a8b7c6d5e4f

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is looked up in the home directory when no --config is given.
const ConfigFileName = ".paced-downloader"

// ConfigFilePath returns the default YAML config file location.
func ConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ConfigFileName+".yaml")
}

// NewViper returns a viper instance with defaults, environment overrides and
// the config file applied. An explicit file must exist; the default one is
// optional.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		return v, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// YAML renders c the way Save writes it.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes c as YAML. The file may hold the API password hash, so it is
// created owner-only.
func (c Config) Save(path string) error {
	if path == "" {
		return errors.New("cannot determine config file path")
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CheckPersistencePath verifies the snapshot directory can be created and
// written. Callers fall back to in-memory mode when it fails.
func (c Config) CheckPersistencePath() error {
	if c.QueuePersistencePath == "" {
		return errors.New("queue_persistence_path is empty")
	}
	if err := os.MkdirAll(c.QueuePersistencePath, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", c.QueuePersistencePath, err)
	}
	probe, err := os.CreateTemp(c.QueuePersistencePath, ".probe-*")
	if err != nil {
		return fmt.Errorf("cannot write to %s: %w", c.QueuePersistencePath, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
