// internal/workers/conversation/process-turn/models.go
package processturn

import "drivethru-orchestrator/internal/conversation/dialogue"

type Input struct {
	SessionID     string   `json:"sessionId"`
	Text          string   `json:"text"`
	ASRConfidence *float64 `json:"asrConfidence,omitempty"`
}

type Output struct {
	SessionID     string             `json:"sessionId"`
	Directive     dialogue.Directive `json:"directive"`
	DirectiveKind string             `json:"directiveKind"`
	State         string             `json:"state"`
	TotalCents    int64              `json:"totalCents"`
	OrderClosed   bool               `json:"orderClosed"` // gateway condition for submit-order
}
