package config

import (
	"os"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/paths"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a config file. Fields absent from the file
// keep their Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coorderr.ConfigNotFound(path)
		}
		return nil, coorderr.Wrap(err, coorderr.ErrCodeConfigInvalid, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, coorderr.Wrap(err, coorderr.ErrCodeConfigInvalid, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads from the standard config path, falling back to the
// built-in defaults when no file exists.
func LoadDefault() (*Config, error) {
	path := paths.ConfigFilePath()
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		if coorderr.Is(err, coorderr.ErrCodeConfigNotFound) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
