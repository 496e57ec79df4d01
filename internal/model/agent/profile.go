package agent

import "github.com/civaigentics/widget/backend/internal/config"

// Profile captures the agent identity the widget presents to visitors.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Greeting string `json:"greeting"`
	Prompt   string `json:"prompt"`
}

// FromConfig builds the profile of the configured agent.
func FromConfig(agentID string, cfg config.WidgetConfig) Profile {
	return Profile{
		ID:       agentID,
		Name:     cfg.AgentName,
		Title:    cfg.Title,
		Subtitle: cfg.Subtitle,
		Greeting: cfg.Greeting,
		Prompt:   "How can I help you?",
	}
}
