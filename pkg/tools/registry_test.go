package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: "echoes its message back",
		Parameters: []Parameter{
			{Name: "message", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			msg, _ := args["message"].(string)
			return msg, nil
		},
	}
}

func TestRegister(t *testing.T) {
	t.Run("should register a valid spec", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		spec, ok := r.Resolve("echo")
		require.True(t, ok)
		assert.Equal(t, "echo", spec.Name)
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		err := r.Register(echoSpec("echo"))
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("should reject invalid specs", func(t *testing.T) {
		r := NewRegistry()

		noName := echoSpec("")
		assert.Error(t, r.Register(noName))

		noHandler := echoSpec("echo")
		noHandler.Handler = nil
		assert.Error(t, r.Register(noHandler))

		badType := echoSpec("echo")
		badType.Parameters[0].Type = "text"
		assert.Error(t, r.Register(badType))
	})

	t.Run("should preserve registration order in model specs", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("bravo")))
		require.NoError(t, r.Register(echoSpec("alpha")))

		specs := r.ModelSpecs()
		require.Len(t, specs, 2)
		assert.Equal(t, "bravo", specs[0].Name)
		assert.Equal(t, "alpha", specs[1].Name)
		assert.Equal(t, []string{"bravo", "alpha"}, r.Names())
	})

	t.Run("should render required params and closed schema", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		schema := r.ModelSpecs()[0].InputSchema
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, false, schema["additionalProperties"])
		assert.Equal(t, []string{"message"}, schema["required"])
	})
}

func TestExecute(t *testing.T) {
	t.Run("should run handler and return content", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		result := r.Execute(context.Background(), "echo", map[string]interface{}{"message": "hello"})

		assert.False(t, result.IsError)
		assert.Equal(t, "hello", result.Content)
	})

	t.Run("should fold unknown tool into error result", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		result := r.Execute(context.Background(), "no_such_tool", nil)

		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "tool not found: no_such_tool")
		assert.Contains(t, result.Content, "echo")
	})

	t.Run("should fold missing required argument into error result", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		result := r.Execute(context.Background(), "echo", map[string]interface{}{})

		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "invalid arguments for echo")
	})

	t.Run("should fold unexpected argument into error result", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoSpec("echo")))

		result := r.Execute(context.Background(), "echo", map[string]interface{}{
			"message": "hello",
			"bogus":   true,
		})

		assert.True(t, result.IsError)
	})

	t.Run("should fold handler error into error result", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(Spec{
			Name:        "broken",
			Description: "always fails",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "", fmt.Errorf("disk on fire")
			},
		}))

		result := r.Execute(context.Background(), "broken", nil)

		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "tool broken failed")
		assert.Contains(t, result.Content, "disk on fire")
	})

	t.Run("should truncate oversized output", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(Spec{
			Name:        "firehose",
			Description: "produces a lot of output",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return strings.Repeat("x", maxOutputSize+100), nil
			},
		}))

		result := r.Execute(context.Background(), "firehose", nil)

		assert.False(t, result.IsError)
		assert.True(t, result.Truncated)
		assert.Contains(t, result.Content, "[output truncated]")
		assert.Less(t, len(result.Content), maxOutputSize+100)
	})
}
