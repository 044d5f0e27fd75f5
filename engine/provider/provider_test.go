package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/semantic"
)

type stubEngine struct {
	id int
}

func (stubEngine) Query(context.Context, semantic.QueryRequest) (*semantic.QueryResult, error) {
	return nil, nil
}
func (stubEngine) Explain(context.Context, semantic.QueryRequest) (*semantic.ExplainResult, error) {
	return nil, nil
}
func (stubEngine) DimensionValues(context.Context, semantic.DimensionValuesRequest) ([]string, error) {
	return nil, nil
}
func (stubEngine) Manifest() *semantic.Manifest  { return nil }
func (stubEngine) SQLClient() semantic.SQLClient { return nil }
func (stubEngine) Close()                        {}

func newProviderFixture(t *testing.T) (*Provider, *atomic.Int32) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "environments.yml")
	content := fmt.Sprintf("environments:\n  - project_id: p1\n    project_dir: %s\n", dir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	registry := environment.NewRegistry(configPath, "")

	builds := &atomic.Int32{}
	provider := NewProvider(registry, func(*environment.Config) (semantic.Engine, error) {
		return stubEngine{id: int(builds.Add(1))}, nil
	})
	return provider, builds
}

func TestGetEngine(t *testing.T) {
	t.Run("Should build lazily and cache per project", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		assert.Zero(t, builds.Load())

		first, err := provider.GetEngine("p1")
		require.NoError(t, err)
		second, err := provider.GetEngine("p1")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), builds.Load())
	})

	t.Run("Should build at most once under concurrent access", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := provider.GetEngine("p1")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), builds.Load())
	})

	t.Run("Should fail for unknown projects without building", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		_, err := provider.GetEngine("nope")
		assert.True(t, core.IsCode(err, core.CodeEnvironmentNotFound))
		assert.Zero(t, builds.Load())
	})
}

func TestRebuildEngine(t *testing.T) {
	t.Run("Should keep the cached engine without force", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		first, err := provider.GetEngine("p1")
		require.NoError(t, err)

		kept, err := provider.RebuildEngine("p1", false)
		require.NoError(t, err)
		assert.Equal(t, first, kept)
		assert.Equal(t, int32(1), builds.Load())
	})

	t.Run("Should swap in a fresh engine with force", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		first, err := provider.GetEngine("p1")
		require.NoError(t, err)

		rebuilt, err := provider.RebuildEngine("p1", true)
		require.NoError(t, err)
		assert.NotEqual(t, first, rebuilt)
		assert.Equal(t, int32(2), builds.Load())

		cached, err := provider.GetEngine("p1")
		require.NoError(t, err)
		assert.Equal(t, rebuilt, cached)
	})

	t.Run("Should build even without a cached engine", func(t *testing.T) {
		provider, builds := newProviderFixture(t)
		_, err := provider.RebuildEngine("p1", true)
		require.NoError(t, err)
		assert.Equal(t, int32(1), builds.Load())
	})
}

func TestDefaultBuilder(t *testing.T) {
	writeEnv := func(t *testing.T, manifest string) *environment.Config {
		t.Helper()
		dir := t.TempDir()
		if manifest != "" {
			target := filepath.Join(dir, "target")
			require.NoError(t, os.MkdirAll(target, 0o755))
			require.NoError(t, os.WriteFile(
				filepath.Join(target, "semantic_manifest.json"), []byte(manifest), 0o644))
		}
		return &environment.Config{
			ProjectID:            "p1",
			ProjectDir:           dir,
			SemanticManifestPath: filepath.Join(dir, "target", "semantic_manifest.json"),
		}
	}

	clientFactory := func(*environment.Config) (semantic.SQLClient, error) {
		return nil, nil
	}

	t.Run("Should build an engine from the semantic manifest", func(t *testing.T) {
		env := writeEnv(t, `{"semantic_models": [], "metrics": []}`)
		engine, err := DefaultBuilder(clientFactory)(env)
		require.NoError(t, err)
		assert.NotNil(t, engine.Manifest())
	})

	t.Run("Should return MANIFEST_INVALID for a corrupt manifest", func(t *testing.T) {
		env := writeEnv(t, "{broken")
		_, err := DefaultBuilder(clientFactory)(env)
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeManifestInvalid))
	})

	t.Run("Should fall back to the dbt artifact manifest", func(t *testing.T) {
		env := writeEnv(t, "")
		target := filepath.Join(env.ProjectDir, "target")
		require.NoError(t, os.MkdirAll(target, 0o755))
		artifact := `{"semantic_models": {"sm.orders": {"name": "orders"}}, "metrics": {}}`
		require.NoError(t, os.WriteFile(
			filepath.Join(target, "manifest.json"), []byte(artifact), 0o644))

		engine, err := DefaultBuilder(clientFactory)(env)
		require.NoError(t, err)
		_, ok := engine.Manifest().Model("orders")
		assert.True(t, ok)
	})

	t.Run("Should return MANIFEST_NOT_FOUND when no manifest exists", func(t *testing.T) {
		env := writeEnv(t, "")
		_, err := DefaultBuilder(clientFactory)(env)
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeManifestNotFound))
	})

	t.Run("Should return ENGINE_INIT_FAILED when the client cannot open", func(t *testing.T) {
		env := writeEnv(t, `{"semantic_models": [], "metrics": []}`)
		failing := func(*environment.Config) (semantic.SQLClient, error) {
			return nil, fmt.Errorf("connection refused")
		}
		_, err := DefaultBuilder(failing)(env)
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeEngineInitFailed))
	})
}
