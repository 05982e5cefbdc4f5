// internal/workers/conversation/submit-order/models.go
package submitorder

type Input struct {
	SessionID string `json:"sessionId"`
}

type Output struct {
	TicketID    string `json:"ticketId"`
	MessageID   string `json:"messageId"`
	TotalCents  int64  `json:"totalCents"`
	LineCount   int    `json:"lineCount"`
	PublishedAt string `json:"publishedAt"`
}
