package environment

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lightdash/metricflow-service/engine/core"
)

// Config is one project entry from the environments file, immutable once
// loaded.
type Config struct {
	ProjectID            string
	Name                 string
	ProjectDir           string
	ProfilesDir          string
	SemanticManifestPath string
	RepoURL              string
	DefaultRef           string
	Tokens               []string
}

// rawEnvironment mirrors the YAML shape including the accepted key aliases.
type rawEnvironment struct {
	ProjectID            string    `yaml:"project_id"`
	ProjectIDCamel       string    `yaml:"projectId"`
	ID                   string    `yaml:"id"`
	Name                 string    `yaml:"name"`
	ProjectDir           string    `yaml:"project_dir"`
	ProfilesDir          string    `yaml:"profiles_dir"`
	SemanticManifestPath string    `yaml:"semantic_manifest_path"`
	Repo                 string    `yaml:"repo"`
	RepoURL              string    `yaml:"repo_url"`
	Git                  string    `yaml:"git"`
	DefaultRef           string    `yaml:"default_ref"`
	Branch               string    `yaml:"branch"`
	DefaultRefCamel      string    `yaml:"defaultRef"`
	Tokens               yaml.Node `yaml:"tokens"`
}

type rawFile struct {
	Environments []rawEnvironment `yaml:"environments"`
}

// Registry resolves project ids to environment configs. The file is parsed
// once on first access; a reload requires a process restart.
type Registry struct {
	configPath string
	baseDir    string

	once sync.Once
	envs map[string]Config
	err  error
}

// NewRegistry creates a registry over the given environments file. baseDir
// overrides the directory relative paths resolve against; empty means the
// config file's directory.
func NewRegistry(configPath, baseDir string) *Registry {
	return &Registry{configPath: configPath, baseDir: baseDir}
}

// Get returns the environment config for a project id.
func (r *Registry) Get(projectID string) (*Config, error) {
	r.once.Do(func() {
		r.envs, r.err = loadConfigFile(r.configPath, r.baseDir)
	})
	if r.err != nil {
		return nil, r.err
	}
	env, ok := r.envs[projectID]
	if !ok {
		return nil, core.NewError(core.CodeEnvironmentNotFound, http.StatusNotFound,
			fmt.Sprintf("no environment configured for projectId=%s", projectID))
	}
	if env.ProjectDir == "" {
		return nil, core.NewError(core.CodeConfigInvalid, http.StatusInternalServerError,
			fmt.Sprintf("projectId=%s has no project_dir configured", projectID))
	}
	return &env, nil
}

func loadConfigFile(path, baseDirOverride string) (map[string]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.CodeConfigNotFound, http.StatusInternalServerError,
			fmt.Sprintf("environments config not found: %s", path), err)
	}
	var file rawFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, core.WrapError(core.CodeConfigInvalid, http.StatusInternalServerError,
			"failed to parse environments config", err).
			WithDetails(map[string]any{"error": err.Error()})
	}
	baseDir := resolveBaseDir(filepath.Dir(path), baseDirOverride)
	envs := make(map[string]Config, len(file.Environments))
	for i := range file.Environments {
		env, ok := normalizeEnvironment(&file.Environments[i], baseDir)
		if !ok {
			continue
		}
		envs[env.ProjectID] = env
	}
	return envs, nil
}

func normalizeEnvironment(item *rawEnvironment, baseDir string) (Config, bool) {
	projectID := firstNonEmpty(item.ProjectID, item.ProjectIDCamel, item.ID)
	if projectID == "" {
		return Config{}, false
	}
	projectDir := resolvePath(baseDir, item.ProjectDir)
	if projectDir == "" {
		return Config{}, false
	}
	profilesDir := resolvePath(baseDir, item.ProfilesDir)
	if profilesDir == "" {
		profilesDir = projectDir
	}
	manifestPath := resolvePath(baseDir, item.SemanticManifestPath)
	if manifestPath == "" {
		manifestPath = filepath.Join(projectDir, "target", "semantic_manifest.json")
	}
	return Config{
		ProjectID:            projectID,
		Name:                 item.Name,
		ProjectDir:           projectDir,
		ProfilesDir:          profilesDir,
		SemanticManifestPath: manifestPath,
		RepoURL:              firstNonEmpty(item.Repo, item.RepoURL, item.Git),
		DefaultRef:           firstNonEmpty(item.DefaultRef, item.Branch, item.DefaultRefCamel),
		Tokens:               decodeTokens(item.Tokens),
	}, true
}

// decodeTokens accepts a scalar or a list; a scalar coerces to one element.
func decodeTokens(node yaml.Node) []string {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil
		}
		return []string{node.Value}
	case yaml.SequenceNode:
		var tokens []string
		if err := node.Decode(&tokens); err != nil {
			return nil
		}
		return tokens
	default:
		return nil
	}
}

func resolveBaseDir(configDir, override string) string {
	if override == "" {
		return configDir
	}
	if filepath.IsAbs(override) {
		return override
	}
	return filepath.Join(configDir, override)
}

func resolvePath(baseDir, raw string) string {
	if raw == "" {
		return ""
	}
	if filepath.IsAbs(raw) {
		return raw
	}
	return filepath.Join(baseDir, raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
