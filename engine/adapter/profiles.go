package adapter

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lightdash/metricflow-service/engine/core"
)

// Credentials are the warehouse connection settings resolved from a dbt
// profiles.yml.
type Credentials struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslmode"`
}

// DatabaseName returns the configured database, accepting either key.
func (c *Credentials) DatabaseName() string {
	if c.DBName != "" {
		return c.DBName
	}
	return c.Database
}

type profile struct {
	Target  string                 `yaml:"target"`
	Outputs map[string]Credentials `yaml:"outputs"`
}

// LoadCredentials reads profiles.yml from the profiles directory and resolves
// the target output of the first profile. Multiple profiles resolve in lexical
// order so the choice is deterministic.
func LoadCredentials(profilesDir string) (*Credentials, error) {
	path := filepath.Join(profilesDir, "profiles.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.CodeConfigNotFound, http.StatusInternalServerError,
			"profiles.yml not found: "+path, err)
	}
	var profiles map[string]profile
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return nil, core.WrapError(core.CodeConfigInvalid, http.StatusInternalServerError,
			"failed to parse profiles.yml", err)
	}
	delete(profiles, "config")

	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prof := profiles[name]
		if len(prof.Outputs) == 0 {
			continue
		}
		target := prof.Target
		if target == "" {
			target = "default"
		}
		creds, ok := prof.Outputs[target]
		if !ok {
			// Fall back to the only output, or the lexically first one.
			outputs := make([]string, 0, len(prof.Outputs))
			for output := range prof.Outputs {
				outputs = append(outputs, output)
			}
			sort.Strings(outputs)
			creds = prof.Outputs[outputs[0]]
		}
		return &creds, nil
	}
	return nil, core.NewError(core.CodeConfigInvalid, http.StatusInternalServerError,
		fmt.Sprintf("no usable profile in %s", path))
}
