package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plue-git/plue/internal/plueerr"
)

// Load reads the YAML file at path and decodes it into v, the composition
// roots' entry point for everything not passed as a flag, following
// boskos/common's struct-plus-yaml.v3 convention (no dynamic maps).
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return plueerr.Backend("config_read", "reading config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return plueerr.Validation("config_parse", "parsing config %s: %v", path, err)
	}
	return nil
}
