package provider

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/semantic"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// Builder constructs a fresh engine for one environment. Builders must clean
// up any partially built resources when they fail.
type Builder func(env *environment.Config) (semantic.Engine, error)

// ClientFactory opens a SQL client for one environment's warehouse profile.
type ClientFactory func(env *environment.Config) (semantic.SQLClient, error)

// Provider owns the per-project engine cache. Engines are constructed lazily
// on first use and swapped atomically on rebuild; readers keep a transient
// handle that stays valid for the duration of their request.
type Provider struct {
	registry *environment.Registry
	build    Builder

	mu    sync.RWMutex
	cache map[string]semantic.Engine
}

// NewProvider creates a provider over the registry with the given builder.
func NewProvider(registry *environment.Registry, build Builder) *Provider {
	return &Provider{
		registry: registry,
		build:    build,
		cache:    make(map[string]semantic.Engine),
	}
}

// GetEngine returns the cached engine for the project, constructing it under
// the lock when absent.
func (p *Provider) GetEngine(projectID string) (semantic.Engine, error) {
	env, err := p.registry.Get(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	engine, ok := p.cache[projectID]
	p.mu.RUnlock()
	if ok {
		return engine, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.cache[projectID]; ok {
		return engine, nil
	}
	engine, err = p.build(env)
	if err != nil {
		return nil, err
	}
	p.cache[projectID] = engine
	return engine, nil
}

// RebuildEngine replaces the cached engine. Without force an existing engine
// is kept as-is. The old engine is not closed here: in-flight queries retain
// their handle until they finish.
func (p *Provider) RebuildEngine(projectID string, force bool) (semantic.Engine, error) {
	env, err := p.registry.Get(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.cache[projectID]; ok {
		if !force {
			return engine, nil
		}
		delete(p.cache, projectID)
	}
	engine, err := p.build(env)
	if err != nil {
		return nil, err
	}
	p.cache[projectID] = engine
	logger.Info("engine rebuilt", "project_id", projectID)
	return engine, nil
}

// -----------------------------------------------------------------------------
// Default builder
// -----------------------------------------------------------------------------

// DefaultBuilder loads the project's semantic manifest (falling back to the
// dbt manifest artifact when absent), opens a SQL client, and assembles the
// built-in engine.
func DefaultBuilder(clients ClientFactory) Builder {
	return func(env *environment.Config) (semantic.Engine, error) {
		manifest, err := loadManifest(env)
		if err != nil {
			return nil, err
		}
		client, err := clients(env)
		if err != nil {
			return nil, core.WrapError(core.CodeEngineInitFailed, http.StatusInternalServerError,
				"failed to open warehouse client", err)
		}
		return semantic.NewEngine(manifest, client), nil
	}
}

func loadManifest(env *environment.Config) (*semantic.Manifest, error) {
	raw, err := os.ReadFile(env.SemanticManifestPath)
	if err == nil {
		manifest, parseErr := semantic.ParseManifest(raw)
		if parseErr != nil {
			return nil, core.WrapError(core.CodeManifestInvalid, http.StatusInternalServerError,
				"failed to parse semantic manifest", parseErr).
				WithDetails(map[string]any{"path": env.SemanticManifestPath})
		}
		return manifest, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, core.WrapError(core.CodeManifestNotFound, http.StatusInternalServerError,
			"failed to read semantic manifest: "+env.SemanticManifestPath, err)
	}

	// Fall back to the dbt manifest artifact next to the semantic manifest.
	artifactPath := filepath.Join(env.ProjectDir, "target", "manifest.json")
	raw, artifactErr := os.ReadFile(artifactPath)
	if artifactErr != nil {
		return nil, core.NewError(core.CodeManifestNotFound, http.StatusInternalServerError,
			"semantic manifest not found: "+env.SemanticManifestPath)
	}
	manifest, parseErr := semantic.ParseArtifactManifest(raw)
	if parseErr != nil {
		return nil, core.WrapError(core.CodeManifestInvalid, http.StatusInternalServerError,
			"failed to derive manifest from dbt artifacts", parseErr).
			WithDetails(map[string]any{"path": artifactPath})
	}
	return manifest, nil
}
