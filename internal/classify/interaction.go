package classify

import (
	"encoding/json"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

type interactionHead struct {
	Type    string `json:"type"`
	Actions []struct {
		Value string `json:"value"`
	} `json:"actions"`
}

// ClassifyInteraction returns the route for a raw interactive payload.
func ClassifyInteraction(payload string) route.ID {
	var head interactionHead
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return route.Unknown
	}
	if head.Type != "block_actions" || len(head.Actions) == 0 {
		return route.Unknown
	}
	var value struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(head.Actions[0].Value), &value); err != nil {
		return route.Unknown
	}
	if value.Type == "approval_response" {
		return route.CICDApprovalResponse
	}
	return route.Unknown
}
