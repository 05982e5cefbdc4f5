package session

import (
	"context"
	"fmt"
	"time"

	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/menu"
)

// Ticket is the kitchen copy of an accepted order.
type Ticket struct {
	TicketID   string                 `json:"ticketId"`
	SessionID  string                 `json:"sessionId"`
	Lines      []dialogue.SummaryLine `json:"lines"`
	Total      menu.Cents             `json:"totalCents"`
	Display    string                 `json:"total"`
	AcceptedAt time.Time              `json:"acceptedAt"`
}

// snsPublisher is the part of the SNS client ticket publishing needs.
type snsPublisher interface {
	PublishJSON(ctx context.Context, topicARN, subject string, payload interface{}, attrs map[string]string) (string, error)
}

type orderPublisher interface {
	PublishOrder(ctx context.Context, sessionID string, order interface{}) error
}

// TicketPublisher sends accepted orders to the kitchen topic and, when configured, to the
// lane display board.
type TicketPublisher struct {
	sns      snsPublisher
	topicARN string
	lane     orderPublisher
}

func NewTicketPublisher(sns snsPublisher, topicARN string) *TicketPublisher {
	return &TicketPublisher{sns: sns, topicARN: topicARN}
}

// WithLane also pushes the ticket to the lane display board.
func (p *TicketPublisher) WithLane(lane orderPublisher) *TicketPublisher {
	p.lane = lane
	return p
}

// Publish returns the SNS message id.
func (p *TicketPublisher) Publish(ctx context.Context, t Ticket) (string, error) {
	msgID, err := p.sns.PublishJSON(ctx, p.topicARN, "order-accepted", t, map[string]string{
		"sessionId": t.SessionID,
		"ticketId":  t.TicketID,
	})
	if err != nil {
		return "", fmt.Errorf("publish ticket %s: %w", t.TicketID, err)
	}

	if p.lane != nil {
		if err := p.lane.PublishOrder(ctx, t.SessionID, t); err != nil {
			return msgID, fmt.Errorf("publish ticket %s to lane: %w", t.TicketID, err)
		}
	}
	return msgID, nil
}

// OrderAccepted implements AcceptanceNotifier.
func (p *TicketPublisher) OrderAccepted(ctx context.Context, t Ticket) error {
	_, err := p.Publish(ctx, t)
	return err
}
