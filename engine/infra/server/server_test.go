package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightdash/metricflow-service/engine/build"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/provider"
	"github.com/lightdash/metricflow-service/engine/query"
	"github.com/lightdash/metricflow-service/engine/semantic"
	"github.com/lightdash/metricflow-service/pkg/config"
)

// -----------------------------------------------------------------------------
// Fixture
// -----------------------------------------------------------------------------

const serverManifest = `{
  "semantic_models": [
    {
      "name": "orders",
      "node_relation": {"schema_name": "analytics", "alias": "orders"},
      "entities": [{"name": "customer", "type": "foreign", "expr": "customer_id"}],
      "dimensions": [
        {"name": "status", "type": "categorical"},
        {"name": "order_date", "type": "time", "type_params": {"time_granularity": "day"}}
      ],
      "measures": [{"name": "order_total", "agg": "sum"}]
    }
  ],
  "metrics": [
    {"name": "revenue", "type": "simple", "type_params": {"measure": {"name": "order_total"}}}
  ]
}`

type stubWarehouse struct{}

func (stubWarehouse) Execute(context.Context, string) (*semantic.DataTable, error) {
	return &semantic.DataTable{
		Columns: []semantic.ColumnDesc{{Name: "revenue", Type: semantic.ColumnFloat}},
		Rows:    [][]any{{42.5}},
	}, nil
}
func (stubWarehouse) Adapter() semantic.Adapter { return nil }
func (stubWarehouse) Close()                    {}

type stubSyncer struct{}

func (stubSyncer) Sync(context.Context, *environment.Config, string) error { return nil }
func (stubSyncer) HeadCommit(*environment.Config) (string, error)          { return "abc123", nil }

type stubRunner struct{}

func (stubRunner) Run(context.Context, *environment.Config) (string, error) {
	return "done\n", nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "environments.yml")
	content := fmt.Sprintf(`environments:
  - project_id: p1
    project_dir: %s
    tokens:
      - good-token
`, dir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	registry := environment.NewRegistry(configPath, "")

	manifest, err := semantic.ParseManifest([]byte(serverManifest))
	require.NoError(t, err)
	engines := provider.NewProvider(registry, func(*environment.Config) (semantic.Engine, error) {
		return semantic.NewEngine(manifest, stubWarehouse{}), nil
	})

	queries := query.NewService(query.Options{
		Store:    query.NewStore(time.Hour),
		Engines:  engines,
		MaxLimit: 10000,
	})
	t.Cleanup(queries.Close)

	builds := build.NewManager(build.ManagerOptions{
		Store:    build.NewStore(),
		Registry: registry,
		Git:      stubSyncer{},
		Runner:   stubRunner{},
		Engines:  engines,
	})

	srv := NewServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0},
		registry, NewHandlers(queries, builds))
	return srv.Router()
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func errorCode(t *testing.T, decoded map[string]any) string {
	t.Helper()
	errBody, ok := decoded["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", decoded)
	return errBody["code"].(string)
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	t.Run("Should answer without authentication", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decoded["ok"])
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("Should reject requests without a bearer token", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/metrics", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, false, decoded["ok"])
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, decoded))
	})

	t.Run("Should reject an unlisted token", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/metrics", "bad-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", errorCode(t, decoded))
	})

	t.Run("Should return 404 for unknown projects", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/nope/metrics", "good-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "ENVIRONMENT_NOT_FOUND", errorCode(t, decoded))
	})
}

func TestQueryRoutes(t *testing.T) {
	t.Run("Should create a query and serve its result", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/query", "good-token",
			map[string]any{
				"metrics": []any{"revenue"},
				"groupBy": []any{map[string]any{"name": "status"}},
			})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		data := decoded["data"].(map[string]any)
		queryID := data["queryId"].(string)
		require.NotEmpty(t, queryID)

		rec, decoded = doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/query/"+queryID, "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		result := decoded["data"].(map[string]any)
		assert.Equal(t, "SUCCESSFUL", result["status"])
		assert.NotEmpty(t, result["sql"])
	})

	t.Run("Should map unknown metrics to 404", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/query", "good-token",
			map[string]any{"metrics": []any{"nope"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "METRIC_NOT_FOUND", errorCode(t, decoded))
	})

	t.Run("Should reject malformed bodies with 400", func(t *testing.T) {
		handler := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/projects/p1/query", bytes.NewReader([]byte("{broken")))
		req.Header.Set("Authorization", "Bearer good-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should return 404 when fetching unknown query ids", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/query/missing", "good-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "QUERY_NOT_FOUND", errorCode(t, decoded))
	})

	t.Run("Should delete a query", func(t *testing.T) {
		handler := newTestServer(t)
		_, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/query", "good-token",
			map[string]any{"metrics": []any{"revenue"}})
		queryID := decoded["data"].(map[string]any)["queryId"].(string)

		rec, _ := doRequest(t, handler,
			http.MethodDelete, "/api/v1/projects/p1/query/"+queryID, "good-token", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/query/"+queryID, "good-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should compile SQL without executing", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/sql", "good-token",
			map[string]any{
				"metrics": []any{"revenue"},
				"groupBy": []any{map[string]any{"name": "order_date", "grain": "month"}},
			})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		sql := decoded["data"].(map[string]any)["sql"].(string)
		assert.Contains(t, sql, "DATE_TRUNC('month', order_date)")
	})

	t.Run("Should validate queries without failing", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/validate", "good-token",
			map[string]any{"metrics": []any{"nope"}})
		require.Equal(t, http.StatusOK, rec.Code)
		data := decoded["data"].(map[string]any)
		assert.NotEmpty(t, data["errors"])
	})

	t.Run("Should serve dimension values", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/dimension-values", "good-token",
			map[string]any{"dimension": "status", "metrics": []any{"revenue"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, decoded["data"].(map[string]any), "values")
	})
}

func TestCatalogRoutes(t *testing.T) {
	t.Run("Should list metrics", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/metrics", "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		metrics := decoded["data"].(map[string]any)["metrics"].([]any)
		require.Len(t, metrics, 1)
		assert.Equal(t, "revenue", metrics[0].(map[string]any)["name"])
	})

	t.Run("Should list dimensions scoped by metrics", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/dimensions?metrics=revenue", "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		dims := decoded["data"].(map[string]any)["dimensions"].([]any)
		assert.NotEmpty(t, dims)
	})

	t.Run("Should list semantic models", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/semantic-models", "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		models := decoded["data"].(map[string]any)["semanticModels"].([]any)
		require.Len(t, models, 1)
	})
}

func TestBuildRoutes(t *testing.T) {
	t.Run("Should trigger a build and serve its status", func(t *testing.T) {
		handler := newTestServer(t)
		rec, decoded := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/builds", "good-token",
			map[string]any{"gitRef": "main"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		buildID := decoded["data"].(map[string]any)["buildId"].(string)

		require.Eventually(t, func() bool {
			rec, decoded := doRequest(t, handler,
				http.MethodGet, "/api/v1/projects/p1/builds/"+buildID, "good-token", nil)
			if rec.Code != http.StatusOK {
				return false
			}
			status := decoded["data"].(map[string]any)["status"].(string)
			return status == "SUCCEEDED" || status == "FAILED"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Should accept an empty trigger body", func(t *testing.T) {
		handler := newTestServer(t)
		rec, _ := doRequest(t, handler,
			http.MethodPost, "/api/v1/projects/p1/builds", "good-token", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("Should list builds", func(t *testing.T) {
		handler := newTestServer(t)
		doRequest(t, handler, http.MethodPost, "/api/v1/projects/p1/builds", "good-token", nil)
		rec, decoded := doRequest(t, handler,
			http.MethodGet, "/api/v1/projects/p1/builds", "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		builds := decoded["data"].(map[string]any)["builds"].([]any)
		assert.NotEmpty(t, builds)
	})
}
