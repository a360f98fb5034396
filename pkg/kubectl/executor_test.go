package kubectl

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(binary string, timeout time.Duration) *Executor {
	return New(Config{
		Binary:  binary,
		Timeout: timeout,
		Logger:  zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
}

func TestExecute(t *testing.T) {
	t.Run("should capture stdout on success", func(t *testing.T) {
		e := testExecutor("echo", 5*time.Second)

		result, err := e.Execute(context.Background(), []string{"hello"})
		require.NoError(t, err)

		assert.Equal(t, 0, result.ExitCode)
		assert.Contains(t, result.Stdout, "hello")
		assert.False(t, result.TimedOut())
	})

	t.Run("should return failing command as normal result", func(t *testing.T) {
		e := testExecutor("sh", 5*time.Second)

		result, err := e.Execute(context.Background(), []string{"-c", "echo oops >&2; exit 3"})
		require.NoError(t, err)

		assert.Equal(t, 3, result.ExitCode)
		assert.Contains(t, result.Stderr, "oops")
	})

	t.Run("should error when binary cannot be launched", func(t *testing.T) {
		e := testExecutor("definitely-not-a-binary-xyz", 5*time.Second)

		_, err := e.Execute(context.Background(), []string{"get", "pods"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotLaunched)
	})

	t.Run("should report timeout as sentinel result", func(t *testing.T) {
		e := testExecutor("sleep", 100*time.Millisecond)

		result, err := e.Execute(context.Background(), []string{"5"})
		require.NoError(t, err)

		assert.Equal(t, TimeoutExitCode, result.ExitCode)
		assert.True(t, result.TimedOut())
		assert.Contains(t, result.Stderr, "timed out")
	})

	t.Run("should reject empty command", func(t *testing.T) {
		e := testExecutor("echo", time.Second)

		_, err := e.Execute(context.Background(), nil)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})
}

func TestRoutedArgs(t *testing.T) {
	t.Run("should append default context", func(t *testing.T) {
		e := New(Config{Binary: "echo", Context: "staging"})

		argv := e.routedArgs(context.Background(), []string{"get", "pods"})
		assert.Equal(t, []string{"get", "pods", "--context", "staging"}, argv)
	})

	t.Run("should not duplicate caller-supplied context", func(t *testing.T) {
		e := New(Config{Binary: "echo", Context: "staging"})

		argv := e.routedArgs(context.Background(), []string{"get", "pods", "--context", "prod"})
		assert.Equal(t, []string{"get", "pods", "--context", "prod"}, argv)

		argv = e.routedArgs(context.Background(), []string{"get", "pods", "--context=prod"})
		assert.Equal(t, []string{"get", "pods", "--context=prod"}, argv)
	})

	t.Run("should prefer context pin over defaults", func(t *testing.T) {
		e := New(Config{Binary: "echo", Context: "staging"})

		ctx := WithPin(context.Background(), Pin{Kubeconfig: "/tmp/kc.yaml", Context: "prod"})
		argv := e.routedArgs(ctx, []string{"get", "nodes"})
		assert.Equal(t, []string{"get", "nodes", "--kubeconfig", "/tmp/kc.yaml", "--context", "prod"}, argv)
	})
}

func TestPinRoundTrip(t *testing.T) {
	ctx := WithPin(context.Background(), Pin{Kubeconfig: "/k", Context: "c"})

	pin, ok := PinFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "/k", pin.Kubeconfig)
	assert.Equal(t, "c", pin.Context)

	_, ok = PinFromContext(context.Background())
	assert.False(t, ok)
}
