package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes system commands on behalf of install routines. Concrete
// modules depend on this interface rather than os/exec so tests can script
// command outcomes.
type Runner interface {
	// Run executes name with args and returns the combined output. A non-nil
	// error means the command could not run or exited non-zero.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner creates the default command runner.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run executes the command and returns its combined output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	r.log.Debug("Running command", slog.String("cmd", name), slog.String("args", strings.Join(args, " ")))

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("%s failed: %w: %s", name, err, output)
	}
	return output, nil
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (string, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f(ctx, name, args...)
}
