package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a saver settings file, picking the decoder by
// extension (.yaml, .yml, .json). The result feeds Sub/Raw consumers:
// backend sections go to the saver constructors, a "configurable"
// section goes to dynoflow.ParseAddress.
func FromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(raw)
	case ".json":
		return FromJSON(raw)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML settings into a Config.
func FromYAML(raw []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON settings into a Config.
func FromJSON(raw []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
