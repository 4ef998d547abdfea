package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// LeaguesConfig is the curated competition list the pollers work from.
// The file predates the main config and keeps its own loader.
type LeaguesConfig struct {
	Leagues []LeagueEntry `yaml:"leagues"`
}

// LeagueEntry is one competition row in the leagues file.
type LeagueEntry struct {
	ID      int64  `yaml:"id"`
	Name    string `yaml:"name"`
	Country string `yaml:"country"`
	Enabled bool   `yaml:"enabled"`
}

// LoadLeagues reads the enabled-leagues file. A missing file yields an
// empty set, which disables fixture polling rather than failing boot.
func LoadLeagues(path string) (*LeaguesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LeaguesConfig{}, nil
		}
		return nil, fmt.Errorf("read leagues file %s: %w", path, err)
	}

	var cfg LeaguesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse leagues YAML: %w", err)
	}
	return &cfg, nil
}

// EnabledIDs returns the ids of leagues flagged enabled, in file order.
func (c *LeaguesConfig) EnabledIDs() []int64 {
	var ids []int64
	for _, l := range c.Leagues {
		if l.Enabled {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
