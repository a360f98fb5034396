package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/k8sai/pkg/kubectl"
)

// KubectlSpec builds the general-purpose kubectl tool: the model
// supplies the arguments (without the binary name) and receives the
// command's output. A non-zero exit is rendered as "Error: <stderr>"
// so the model sees the failure text and can correct itself; only a
// process that cannot launch becomes an error result.
func KubectlSpec(exec *kubectl.Executor) Spec {
	return Spec{
		Name: "kubectl",
		Description: "Execute a kubectl command against the current Kubernetes cluster. " +
			"Pass only the arguments, without the kubectl binary name. " +
			"For example: 'get pods', 'describe pod my-pod -n kube-system', " +
			"'logs my-pod --tail=50'.",
		Parameters: []Parameter{
			{
				Name: "cmd",
				Type: "string",
				Description: "the kubectl command to execute (without kubectl, just " +
					"the arguments). For example, 'get pods'",
				Required: true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			cmd, _ := args["cmd"].(string)
			argv := strings.Fields(cmd)
			if len(argv) == 0 {
				return "", fmt.Errorf("cmd must contain at least one argument")
			}
			// Tolerate a model that prefixes the binary name anyway.
			if argv[0] == "kubectl" {
				argv = argv[1:]
			}
			if len(argv) == 0 {
				return "", fmt.Errorf("cmd must contain kubectl arguments, not just the binary name")
			}

			result, err := exec.Execute(ctx, argv)
			if err != nil {
				return "", err
			}
			return RenderCommandResult(result), nil
		},
	}
}

// RenderCommandResult folds a command result into conversation text.
func RenderCommandResult(result kubectl.Result) string {
	if result.ExitCode == 0 {
		if result.Stdout == "" {
			return "(no output)"
		}
		return result.Stdout
	}

	stderr := strings.TrimSpace(result.Stderr)
	if stderr == "" {
		stderr = fmt.Sprintf("command exited with code %d", result.ExitCode)
	}
	return "Error: " + stderr
}
