// Package tools declares the finite set of operations the model may
// call and maps each call onto a kubectl execution. Tool resolution
// failures, argument validation failures, and launch failures are all
// contained: Execute always returns a Result whose content the agent
// loop can hand back to the model.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
)

// maxOutputSize bounds tool output folded into the conversation.
const maxOutputSize = 10 * 1024

// Parameter describes one tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler executes a validated tool call and returns the text folded
// into the conversation. A returned error becomes an error result for
// the model, never a caller-visible failure.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Spec is one registered tool: static, built once at startup, never
// mutated afterwards.
type Spec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// ModelSpec is the declaration shape handed to model providers.
type ModelSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Result is the outcome of one tool call. IsError marks results the
// model should treat as failures it can recover from (unknown tool,
// bad arguments, process launch failure). A cluster command that ran
// and exited non-zero is not an error result; its failure text is
// ordinary content.
type Result struct {
	Content   string        `json:"content"`
	IsError   bool          `json:"is_error"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Registry holds the tool set exposed to the model.
type Registry struct {
	specs   map[string]*Spec
	order   []string
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:   make(map[string]*Spec),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. Registration happens once at startup; a
// duplicate name is a programming error.
func (r *Registry) Register(spec Spec) error {
	if err := validateSpec(spec); err != nil {
		return fmt.Errorf("invalid tool spec: %w", err)
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %q is already registered", spec.Name)
	}

	schema, err := compileSchema(spec)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %q: %w", spec.Name, err)
	}

	r.specs[spec.Name] = &spec
	r.schemas[spec.Name] = schema
	r.order = append(r.order, spec.Name)

	log.Debug().Str("tool", spec.Name).Msg("Tool registered")
	return nil
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (*Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ModelSpecs returns the tool declarations exposed verbatim to the
// model, in registration order.
func (r *Registry) ModelSpecs() []ModelSpec {
	out := make([]ModelSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.specs[name]
		out = append(out, ModelSpec{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: inputSchema(spec),
		})
	}
	return out
}

// Execute resolves, validates, and runs one tool call. It never
// returns a Go error: every failure mode is folded into the Result so
// the agent loop can hand it back to the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	spec, ok := r.specs[name]
	if !ok {
		log.Warn().Str("tool", name).Msg("Tool not found")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Content:  fmt.Sprintf("tool not found: %s (available: %v)", name, r.order),
			IsError:  true,
			Duration: time.Since(start),
		}
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := r.validateArgs(name, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Argument validation failed")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Content:  fmt.Sprintf("invalid arguments for %s: %v", name, err),
			IsError:  true,
			Duration: time.Since(start),
		}
	}

	content, err := spec.Handler(ctx, args)
	duration := time.Since(start)
	if err != nil {
		log.Warn().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		observability.RecordToolExecution(name, duration, false)
		observability.RecordToolAudit(ctx, name, tracing.GetSessionKey(ctx), "failure", nil)
		return Result{
			Content:  fmt.Sprintf("tool %s failed: %v", name, err),
			IsError:  true,
			Duration: duration,
		}
	}

	content, truncated := truncate(content)
	log.Debug().
		Str("tool", name).
		Dur("duration", duration).
		Bool("truncated", truncated).
		Msg("Tool executed")
	observability.RecordToolExecution(name, duration, true)
	observability.RecordToolAudit(ctx, name, tracing.GetSessionKey(ctx), "success", nil)

	return Result{
		Content:   content,
		Truncated: truncated,
		Duration:  duration,
	}
}

func (r *Registry) validateArgs(name string, args map[string]interface{}) error {
	schema := r.schemas[name]
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if spec.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range spec.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}
	return nil
}

// inputSchema renders a spec's parameters as a JSON Schema object with
// additionalProperties disabled, so hallucinated extra arguments fail
// validation instead of silently passing through.
func inputSchema(spec *Spec) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range spec.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(spec Spec) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputSchema(&spec)))
}

func truncate(s string) (string, bool) {
	if len(s) <= maxOutputSize {
		return s, false
	}
	return s[:maxOutputSize] + "\n... [output truncated]", true
}
