package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML config file on top of the defaults and validates
// the result. Environment and flags are not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.File = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file at path into cfg. Keys absent from the
// file leave cfg untouched; unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(data, cfg)
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty file decodes to nothing
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ValidationError{Message: fmt.Sprintf("failed to parse YAML config: %v", err)}
	}
	return nil
}
