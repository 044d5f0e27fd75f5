package build

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/semantic"
	"github.com/lightdash/metricflow-service/pkg/logger"
	"github.com/lightdash/metricflow-service/pkg/perf"
)

// logTailLines caps how much compile output a build record retains.
const logTailLines = 200

// EngineRebuilder swaps the cached engine after a successful build.
type EngineRebuilder interface {
	RebuildEngine(projectID string, force bool) (semantic.Engine, error)
}

// Manager runs builds: git sync, compile pipeline, engine swap. At most one
// build runs per project; a second trigger fails fast instead of queueing.
type Manager struct {
	store    *Store
	registry *environment.Registry
	git      GitSyncer
	runner   CommandRunner
	engines  EngineRebuilder
	perf     *perf.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Store    *Store
	Registry *environment.Registry
	Git      GitSyncer
	Runner   CommandRunner
	Engines  EngineRebuilder
	Perf     *perf.Logger
}

// NewManager creates a build manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Git == nil {
		opts.Git = NewGitClient()
	}
	if opts.Perf == nil {
		opts.Perf = perf.Noop()
	}
	return &Manager{
		store:    opts.Store,
		registry: opts.Registry,
		git:      opts.Git,
		runner:   opts.Runner,
		engines:  opts.Engines,
		perf:     opts.Perf,
		locks:    make(map[string]*sync.Mutex),
	}
}

// projectLock returns the per-project mutex, allocating it on first use.
// Locks are never removed: the set of projects is bounded by the registry.
func (m *Manager) projectLock(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[projectID] = lock
	}
	return lock
}

// TriggerBuild records a pending build and starts the worker. The returned
// record is the pending snapshot; progress is observed through
// GetBuildStatus.
func (m *Manager) TriggerBuild(projectID, gitRef string, forceRecompile bool) (*Record, error) {
	env, err := m.registry.Get(projectID)
	if err != nil {
		return nil, err
	}
	record := &Record{
		BuildID:   uuid.NewString(),
		ProjectID: projectID,
		Status:    StatusPending,
		GitRef:    gitRef,
		CreatedAt: time.Now().UTC(),
		Errors:    []string{},
		Warnings:  []string{},
	}
	m.store.Set(record)
	go m.run(env, record.BuildID, gitRef, forceRecompile)
	return record, nil
}

// GetBuildStatus returns the build record for the project.
func (m *Manager) GetBuildStatus(projectID, buildID string) (*Record, error) {
	record := m.store.Get(buildID)
	if record == nil || record.ProjectID != projectID {
		return nil, core.NewError(core.CodeConfigNotFound, http.StatusNotFound,
			fmt.Sprintf("buildId=%s not found", buildID))
	}
	return record, nil
}

// ListBuilds returns the project's builds, newest first.
func (m *Manager) ListBuilds(projectID string) ([]*Record, error) {
	if _, err := m.registry.Get(projectID); err != nil {
		return nil, err
	}
	return m.store.List(projectID), nil
}

// run is the build worker. Every failure lands in the record; no error or
// panic escapes the goroutine.
func (m *Manager) run(env *environment.Config, buildID, gitRef string, forceRecompile bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("build worker panicked", "build_id", buildID, "panic", r)
			m.fail(buildID, fmt.Sprintf("build panicked: %v", r), "")
		}
	}()

	span := m.perf.Start("build_manager:run", map[string]any{
		"build_id":   buildID,
		"project_id": env.ProjectID,
	})

	lock := m.projectLock(env.ProjectID)
	if !lock.TryLock() {
		m.fail(buildID, "Another build is running for this project", "")
		span.Finish(map[string]any{"status": "FAILED", "reason": "concurrent"})
		return
	}
	defer lock.Unlock()

	ref := gitRef
	if ref == "" {
		ref = env.DefaultRef
	}
	started := time.Now().UTC()
	m.store.Update(buildID, func(record *Record) {
		record.Status = StatusRunning
		record.StartedAt = &started
		record.GitRef = ref
	})

	ctx := context.Background()
	if err := m.git.Sync(ctx, env, ref); err != nil {
		m.fail(buildID, "git sync failed: "+err.Error(), "")
		span.Finish(map[string]any{"status": "FAILED", "stage": "git"})
		return
	}

	output, err := m.runner.Run(ctx, env)
	if err != nil {
		m.fail(buildID, "compile failed: "+err.Error(), output)
		span.Finish(map[string]any{"status": "FAILED", "stage": "compile"})
		return
	}

	// Commit resolution is informational only.
	commit, commitErr := m.git.HeadCommit(env)
	if commitErr != nil {
		logger.Warn("failed to resolve HEAD commit",
			"project_id", env.ProjectID, "error", commitErr)
		commit = ""
	}

	if _, err := m.engines.RebuildEngine(env.ProjectID, forceRecompile); err != nil {
		m.fail(buildID, "engine rebuild failed: "+err.Error(), output)
		span.Finish(map[string]any{"status": "FAILED", "stage": "engine"})
		return
	}

	finished := time.Now().UTC()
	m.store.Update(buildID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Commit = commit
		record.FinishedAt = &finished
		record.Errors = []string{}
		record.LogTail = tailLines(output, logTailLines)
	})
	logger.Info("build succeeded",
		"build_id", buildID, "project_id", env.ProjectID, "commit", commit)
	span.Finish(map[string]any{"status": "SUCCEEDED"})
}

func (m *Manager) fail(buildID, message, output string) {
	finished := time.Now().UTC()
	m.store.Update(buildID, func(record *Record) {
		record.Status = StatusFailed
		record.FinishedAt = &finished
		record.Errors = append(record.Errors, message)
		if output != "" {
			record.LogTail = tailLines(output, logTailLines)
		}
	})
}

func tailLines(output string, limit int) []string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}
