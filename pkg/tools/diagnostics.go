package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harunnryd/k8sai/pkg/kubectl"
)

// restartThreshold flags pods restarting often enough to indicate a
// crash loop even when their current status reads Running.
const restartThreshold = 5

// ClusterHealthSpec builds the cluster_health diagnostic: a canned
// sequence of read-only probes (nodes, pods, warning events) reduced
// to a health score and a status classification.
func ClusterHealthSpec(exec *kubectl.Executor) Spec {
	return Spec{
		Name: "cluster_health",
		Description: "Run a quick health assessment of the cluster: node readiness, " +
			"pod readiness and restart counts, and recent warning events. Returns a " +
			"health score between 0 and 1 and a status of healthy, degraded, or unhealthy.",
		Parameters: []Parameter{
			{
				Name:        "namespace",
				Type:        "string",
				Description: "namespace to assess; all namespaces when omitted",
				Required:    false,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			namespace, _ := args["namespace"].(string)
			return clusterHealth(ctx, exec, namespace)
		},
	}
}

// AnalyzeLogsSpec builds the analyze_logs diagnostic: tails one pod's
// logs and summarizes error-class marker frequencies.
func AnalyzeLogsSpec(exec *kubectl.Executor) Spec {
	return Spec{
		Name: "analyze_logs",
		Description: "Fetch recent logs from a pod and summarize error and warning " +
			"frequencies, with sample lines for the most severe findings.",
		Parameters: []Parameter{
			{
				Name:        "pod",
				Type:        "string",
				Description: "pod name to read logs from",
				Required:    true,
			},
			{
				Name:        "namespace",
				Type:        "string",
				Description: "namespace of the pod; the default namespace when omitted",
				Required:    false,
			},
			{
				Name:        "lines",
				Type:        "integer",
				Description: "number of log lines to tail, default 200",
				Required:    false,
				Default:     200,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			pod, _ := args["pod"].(string)
			namespace, _ := args["namespace"].(string)
			lines := 200
			if v, ok := args["lines"].(float64); ok && v > 0 {
				lines = int(v)
			}
			return analyzeLogs(ctx, exec, pod, namespace, lines)
		},
	}
}

// RecommendFixesSpec builds the recommend_fixes tool: a static
// remediation checklist keyed on well-known failure signatures. It runs
// no cluster commands; the model combines it with kubectl output.
func RecommendFixesSpec() Spec {
	return Spec{
		Name: "recommend_fixes",
		Description: "Suggest remediation steps for a described Kubernetes issue, such as " +
			"CrashLoopBackOff, ImagePullBackOff, OOMKilled, or pods stuck in Pending.",
		Parameters: []Parameter{
			{
				Name:        "issue",
				Type:        "string",
				Description: "description of the issue, e.g. an error message or pod status",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			issue, _ := args["issue"].(string)
			return recommendFixes(issue), nil
		},
	}
}

func recommendFixes(issue string) string {
	lower := strings.ToLower(issue)

	var steps []string
	switch {
	case strings.Contains(lower, "crashloopbackoff") || strings.Contains(lower, "crash loop"):
		steps = []string{
			"Inspect the crashing container's last run: kubectl logs <pod> --previous",
			"Describe the pod for exit codes and restart events: kubectl describe pod <pod>",
			"Check liveness probe configuration; a failing probe restarts the container",
			"Verify the container command, args, and required environment variables",
			"Check resource limits; an OOMKilled container restarts in a loop",
		}
	case strings.Contains(lower, "imagepullbackoff") || strings.Contains(lower, "errimagepull"):
		steps = []string{
			"Verify the image name and tag exist in the registry: kubectl describe pod <pod>",
			"Check imagePullSecrets are present and reference valid registry credentials",
			"Confirm the node can reach the registry (network policy, proxy, DNS)",
			"Check for registry rate limiting in the pull error message",
		}
	case strings.Contains(lower, "oomkilled") || strings.Contains(lower, "out of memory"):
		steps = []string{
			"Confirm the kill reason: kubectl describe pod <pod> (lastState.terminated.reason)",
			"Compare actual usage against limits: kubectl top pod <pod>",
			"Raise the container's memory limit or reduce its working set",
			"Check for memory leaks if usage climbs steadily between restarts",
		}
	case strings.Contains(lower, "pending") || strings.Contains(lower, "failedscheduling") || strings.Contains(lower, "unschedulable"):
		steps = []string{
			"Read the scheduling failure reason: kubectl describe pod <pod>",
			"Check node capacity and allocatable resources: kubectl describe nodes",
			"Check taints and tolerations, and any nodeSelector or affinity rules",
			"If a PVC is involved, verify the claim is bound: kubectl get pvc",
		}
	default:
		steps = []string{
			"Check recent warning events: kubectl get events --field-selector type=Warning --sort-by=.lastTimestamp",
			"Describe the affected resource for status conditions: kubectl describe <kind> <name>",
			"Check pod logs for the failing workload: kubectl logs <pod> --tail=100",
			"Verify node health: kubectl get nodes",
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recommended steps for: %s\n", strings.TrimSpace(issue))
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String()
}

func clusterHealth(ctx context.Context, exec *kubectl.Executor, namespace string) (string, error) {
	nodesResult, err := exec.Execute(ctx, []string{"get", "nodes", "--no-headers"})
	if err != nil {
		return "", err
	}
	if nodesResult.ExitCode != 0 {
		return RenderCommandResult(nodesResult), nil
	}
	nodesReady, nodesTotal := countReadyNodes(nodesResult.Stdout)

	podArgs := []string{"get", "pods", "--no-headers"}
	if namespace != "" {
		podArgs = append(podArgs, "-n", namespace)
	} else {
		podArgs = append(podArgs, "--all-namespaces")
	}
	podsResult, err := exec.Execute(ctx, podArgs)
	if err != nil {
		return "", err
	}
	if podsResult.ExitCode != 0 {
		return RenderCommandResult(podsResult), nil
	}
	podsHealthy, podsTotal, restartHogs := countHealthyPods(podsResult.Stdout, namespace == "")

	eventArgs := []string{"get", "events", "--field-selector", "type=Warning", "--no-headers"}
	if namespace != "" {
		eventArgs = append(eventArgs, "-n", namespace)
	} else {
		eventArgs = append(eventArgs, "--all-namespaces")
	}
	eventsResult, err := exec.Execute(ctx, eventArgs)
	if err != nil {
		return "", err
	}
	warnings := 0
	if eventsResult.ExitCode == 0 {
		warnings = countLines(eventsResult.Stdout)
	}

	score := healthScore(nodesReady, nodesTotal, podsHealthy, podsTotal)
	status := "unhealthy"
	switch {
	case score >= 0.9:
		status = "healthy"
	case score >= 0.7:
		status = "degraded"
	}

	scope := "all namespaces"
	if namespace != "" {
		scope = "namespace " + namespace
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cluster health (%s): %s (score %.2f)\n", scope, status, score)
	fmt.Fprintf(&b, "Nodes ready: %d/%d\n", nodesReady, nodesTotal)
	fmt.Fprintf(&b, "Pods healthy: %d/%d\n", podsHealthy, podsTotal)
	fmt.Fprintf(&b, "Recent warning events: %d\n", warnings)
	if len(restartHogs) > 0 {
		fmt.Fprintf(&b, "Pods with more than %d restarts:\n", restartThreshold)
		for _, hog := range restartHogs {
			fmt.Fprintf(&b, "  - %s\n", hog)
		}
	}
	return b.String(), nil
}

func analyzeLogs(ctx context.Context, exec *kubectl.Executor, pod, namespace string, lines int) (string, error) {
	argv := []string{"logs", pod, "--tail", strconv.Itoa(lines)}
	if namespace != "" {
		argv = append(argv, "-n", namespace)
	}

	result, err := exec.Execute(ctx, argv)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return RenderCommandResult(result), nil
	}

	markers := []string{"fatal", "panic", "error", "exception", "warn"}
	counts := make(map[string]int, len(markers))
	samples := make(map[string]string, len(markers))
	total := 0

	for _, line := range strings.Split(result.Stdout, "\n") {
		if line == "" {
			continue
		}
		total++
		lower := strings.ToLower(line)
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				counts[marker]++
				if samples[marker] == "" {
					samples[marker] = strings.TrimSpace(line)
				}
				break
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d log lines from pod %s", total, pod)
	if namespace != "" {
		fmt.Fprintf(&b, " in namespace %s", namespace)
	}
	b.WriteString("\n")

	flagged := 0
	for _, marker := range markers {
		if counts[marker] == 0 {
			continue
		}
		flagged += counts[marker]
		fmt.Fprintf(&b, "%s: %d occurrences, e.g. %q\n", marker, counts[marker], samples[marker])
	}
	if flagged == 0 {
		b.WriteString("No error or warning markers found.\n")
	}
	return b.String(), nil
}

// countReadyNodes parses `kubectl get nodes --no-headers` output.
// Columns: NAME STATUS ROLES AGE VERSION.
func countReadyNodes(out string) (ready, total int) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		total++
		if strings.HasPrefix(fields[1], "Ready") {
			ready++
		}
	}
	return ready, total
}

// countHealthyPods parses `kubectl get pods --no-headers` output. With
// --all-namespaces a NAMESPACE column is prepended, shifting READY,
// STATUS, and RESTARTS right by one.
func countHealthyPods(out string, allNamespaces bool) (healthy, total int, restartHogs []string) {
	shift := 0
	if allNamespaces {
		shift = 1
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4+shift {
			continue
		}
		total++

		name := fields[shift]
		readyCol := fields[1+shift]
		status := fields[2+shift]
		restarts := parseRestarts(fields[3+shift])

		if restarts > restartThreshold {
			restartHogs = append(restartHogs, fmt.Sprintf("%s (%d restarts)", name, restarts))
		}
		if status == "Running" && fullyReady(readyCol) && restarts <= restartThreshold {
			healthy++
		} else if status == "Completed" || status == "Succeeded" {
			healthy++
		}
	}
	return healthy, total, restartHogs
}

// parseRestarts handles both "3" and the newer "3 (10m ago)" format.
func parseRestarts(field string) int {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0
	}
	return n
}

func fullyReady(readyCol string) bool {
	parts := strings.SplitN(readyCol, "/", 2)
	if len(parts) != 2 {
		return false
	}
	return parts[0] == parts[1]
}

func countLines(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func healthScore(nodesReady, nodesTotal, podsHealthy, podsTotal int) float64 {
	nodeRatio := 1.0
	if nodesTotal > 0 {
		nodeRatio = float64(nodesReady) / float64(nodesTotal)
	}
	podRatio := 1.0
	if podsTotal > 0 {
		podRatio = float64(podsHealthy) / float64(podsTotal)
	}
	return (nodeRatio + podRatio) / 2
}
