// Package kubectl runs cluster commands as subprocesses and captures
// their output. Non-zero exit codes are ordinary results, never errors;
// the only error condition is a process that cannot be launched.
package kubectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
)

// TimeoutExitCode is the sentinel exit code reported when a command is
// terminated for exceeding its deadline.
const TimeoutExitCode = -1

// Result holds the captured output of one command invocation.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// TimedOut reports whether the command was killed at its deadline.
func (r Result) TimedOut() bool {
	return r.ExitCode == TimeoutExitCode
}

// Pin routes a command at a specific cluster: a kubeconfig file and a
// context within it. A zero Pin leaves the executor's defaults in place.
type Pin struct {
	Kubeconfig string
	Context    string
}

type pinKey struct{}

// WithPin attaches a cluster pin to the context. The executor appends
// the corresponding --kubeconfig/--context flags to every command run
// under this context.
func WithPin(ctx context.Context, pin Pin) context.Context {
	return context.WithValue(ctx, pinKey{}, pin)
}

// PinFromContext returns the pin attached to ctx, if any.
func PinFromContext(ctx context.Context) (Pin, bool) {
	pin, ok := ctx.Value(pinKey{}).(Pin)
	return pin, ok
}

// Executor runs kubectl commands with a per-invocation wall-clock
// timeout.
type Executor struct {
	binary     string
	timeout    time.Duration
	kubeconfig string
	kubeCtx    string
	logger     zerolog.Logger
}

// Config holds executor configuration.
type Config struct {
	// Binary is the kubectl executable, default "kubectl".
	Binary string
	// Timeout is the per-command deadline, default 30s.
	Timeout time.Duration
	// Kubeconfig pins every command to a kubeconfig file when set.
	Kubeconfig string
	// Context pins every command to a kubectl context when set.
	Context string
	Logger  zerolog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = "kubectl"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Executor{
		binary:     cfg.Binary,
		timeout:    cfg.Timeout,
		kubeconfig: cfg.Kubeconfig,
		kubeCtx:    cfg.Context,
		logger:     cfg.Logger,
	}
}

// Binary returns the configured kubectl executable.
func (e *Executor) Binary() string {
	return e.binary
}

// Context returns the default kubectl context, empty if unpinned.
func (e *Executor) Context() string {
	return e.kubeCtx
}

// Execute runs kubectl with the given arguments and captures its
// output. A failing command (non-zero exit, stderr output) is a normal
// Result. A command that exceeds the deadline is killed and reported
// with TimeoutExitCode and a timeout marker in stderr, uniform with
// ordinary failure. The returned error is non-nil only when the
// process cannot be started, wrapping ErrNotLaunched.
func (e *Executor) Execute(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("%w: no arguments", ErrEmptyCommand)
	}

	argv := e.routedArgs(ctx, args)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	execCtx, span := tracing.StartSpan(execCtx, "k8sai.kubectl", "kubectl.execute")
	defer span.End()
	logger := tracing.LoggerFromContext(execCtx, e.logger)

	cmd := exec.CommandContext(execCtx, e.binary, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		result := Result{
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", e.timeout),
			ExitCode: TimeoutExitCode,
			Duration: duration,
		}
		logger.Warn().
			Strs("args", argv).
			Dur("duration", duration).
			Msg("Command timed out")
		observability.RecordKubectlCommand("timeout", duration)
		return result, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// The process never started.
			observability.RecordKubectlCommand("not_launched", duration)
			return Result{}, fmt.Errorf("%w: %v", ErrNotLaunched, err)
		}
	}

	logger.Debug().
		Strs("args", argv).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed")

	status := "ok"
	if exitCode != 0 {
		status = "failed"
	}
	observability.RecordKubectlCommand(status, duration)

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// routedArgs appends kubeconfig/context flags from the executor
// defaults or a context pin, unless the caller already passed them.
func (e *Executor) routedArgs(ctx context.Context, args []string) []string {
	kubeconfig := e.kubeconfig
	kubeCtx := e.kubeCtx
	if pin, ok := PinFromContext(ctx); ok {
		if pin.Kubeconfig != "" {
			kubeconfig = pin.Kubeconfig
		}
		if pin.Context != "" {
			kubeCtx = pin.Context
		}
	}

	argv := make([]string, 0, len(args)+4)
	argv = append(argv, args...)
	if kubeconfig != "" && !hasFlag(args, "--kubeconfig") {
		argv = append(argv, "--kubeconfig", kubeconfig)
	}
	if kubeCtx != "" && !hasFlag(args, "--context") {
		argv = append(argv, "--context", kubeCtx)
	}
	return argv
}

func hasFlag(args []string, flag string) bool {
	prefix := flag + "="
	for _, a := range args {
		if a == flag || len(a) > len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
