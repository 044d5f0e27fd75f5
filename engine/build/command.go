package build

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightdash/metricflow-service/engine/environment"
)

// commandHintFile is an optional per-project override for the compile
// pipeline, one whitespace-tokenized command on the first line.
const commandHintFile = ".metricflow_build_cmd"

// CommandRunner executes the compile pipeline for a project.
type CommandRunner interface {
	Run(ctx context.Context, env *environment.Config) (output string, err error)
}

// commandRunner runs the configured command, or the project hint file, or the
// default dbt two-stage pipeline.
type commandRunner struct {
	command string
	timeout time.Duration
}

// NewCommandRunner creates a runner. command comes from configuration and,
// when set, wins over per-project hint files.
func NewCommandRunner(command string, timeout time.Duration) CommandRunner {
	return &commandRunner{command: command, timeout: timeout}
}

// commands resolves the pipeline stages for the environment.
func (r *commandRunner) commands(env *environment.Config) [][]string {
	if r.command != "" {
		return [][]string{strings.Fields(r.command)}
	}
	if raw, err := os.ReadFile(filepath.Join(env.ProjectDir, commandHintFile)); err == nil {
		if fields := strings.Fields(string(raw)); len(fields) > 0 {
			return [][]string{fields}
		}
	}
	return [][]string{
		{"dbt", "deps"},
		{"dbt", "build", "--project-dir", env.ProjectDir, "--profiles-dir", env.ProfilesDir},
	}
}

// Run executes each stage in order inside the project directory, stopping at
// the first failure. Output is the combined stdout and stderr of every stage
// run so far.
func (r *commandRunner) Run(ctx context.Context, env *environment.Config) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var output strings.Builder
	for _, args := range r.commands(env) {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = env.ProjectDir
		out, err := cmd.CombinedOutput()
		output.Write(out)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return output.String(), ctxErr
			}
			return output.String(), err
		}
	}
	return output.String(), nil
}
