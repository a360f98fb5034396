package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harunnryd/k8sai/pkg/agent"
	"github.com/harunnryd/k8sai/pkg/lane"
)

var (
	chatSessionKey  string
	chatKubeContext string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation with the cluster",
	Long: `Start an interactive conversation with a Kubernetes cluster.
Each prompt runs the agent loop: the model inspects the cluster through
kubectl and the diagnostic tools, then answers in plain language. The
conversation is persisted, so pass --session to pick one up later.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "", "session key to resume (default is a new session)")
	chatCmd.Flags().StringVar(&chatKubeContext, "kube-context", "", "kubectl context override")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatKubeContext != "" {
		cfg.Kubectl.Context = chatKubeContext
	}

	rt, err := newRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionKey := chatSessionKey
	if sessionKey == "" {
		sessionKey = "chat-" + uuid.NewString()
	}
	conv, err := rt.sessions.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "k8sai %s, session %s\n", version, sessionKey)
	fmt.Fprintln(out, `Ask about your cluster. Type "exit" to leave.`)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "exit" || prompt == "quit" {
			break
		}

		runCtx := ctx
		var runCancel context.CancelFunc
		if timeout := cfg.Agent.InvocationTimeout(); timeout > 0 {
			runCtx, runCancel = context.WithTimeout(ctx, timeout)
		}

		value, err := rt.queue.Enqueue(runCtx, lane.ForSession(sessionKey), func(taskCtx context.Context) (interface{}, error) {
			return rt.loop.RunWithObserver(taskCtx, conv, prompt, func(ev agent.StepEvent) {
				if ev.Type == "tool_result" && ev.ToolCall != nil {
					fmt.Fprintf(out, "  [%s]\n", ev.ToolCall.Name)
				}
			})
		})
		if runCancel != nil {
			runCancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		result := value.(agent.Result)
		fmt.Fprintf(out, "\n%s\n", result.Response)
	}

	fmt.Fprintf(out, "\nSession saved as %s\n", sessionKey)
	return scanner.Err()
}
