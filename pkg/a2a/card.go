package a2a

// AgentCard is the discovery document served unauthenticated at
// /.well-known/agent.json and /agent-card.json.
type AgentCard struct {
	Name            string                    `json:"name"`
	Description     string                    `json:"description"`
	Version         string                    `json:"version"`
	URL             string                    `json:"url"`
	Capabilities    Capabilities              `json:"capabilities"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes"`
	Skills          []Skill                   `json:"skills"`
}

// Capabilities flags optional protocol features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// SecurityScheme describes how callers authenticate.
type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme"`
}

// Skill describes one thing the agent can do.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// NewAgentCard builds the card for this server.
func NewAgentCard(url, version string) AgentCard {
	return AgentCard{
		Name: "k8s-ai Diagnostic Agent",
		Description: "Conversational Kubernetes diagnostics: ask about your cluster in " +
			"natural language and the agent inspects it with kubectl and reports back.",
		Version: version,
		URL:     url,
		Capabilities: Capabilities{
			Streaming: true,
		},
		SecuritySchemes: map[string]SecurityScheme{
			"bearer": {Type: "http", Scheme: "bearer"},
		},
		Skills: []Skill{
			{
				ID:          "kubectl",
				Name:        "kubectl access",
				Description: "Run kubectl commands against the connected cluster and interpret the output.",
				Tags:        []string{"kubernetes", "kubectl"},
			},
			{
				ID:          "cluster_health",
				Name:        "Cluster health assessment",
				Description: "Score cluster health from node readiness, pod readiness, restarts, and warning events.",
				Tags:        []string{"kubernetes", "diagnostics"},
			},
			{
				ID:          "analyze_logs",
				Name:        "Log analysis",
				Description: "Tail pod logs and summarize error and warning frequencies.",
				Tags:        []string{"kubernetes", "logs"},
			},
			{
				ID:          "recommend_fixes",
				Name:        "Fix recommendations",
				Description: "Suggest remediation checklists for common Kubernetes failure modes.",
				Tags:        []string{"kubernetes", "remediation"},
			},
		},
	}
}
