// Package mqtt pushes spoken directives and accepted orders to the lane display boards.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"drivethru-orchestrator/internal/common/logger"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type PublisherConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// tokenPublisher is the part of paho.Client the publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Publisher struct {
	cfg     PublisherConfig
	client  paho.Client
	pub     tokenPublisher
	logger  logger.Logger
	timeout time.Duration
}

func NewPublisher(cfg PublisherConfig, log logger.Logger) *Publisher {
	return &Publisher{cfg: cfg, logger: log, timeout: 2 * time.Second}
}

// Connect dials the broker and disconnects when ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Error("mqtt connection lost", map[string]interface{}{"error": err})
	})

	p.client = paho.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	p.pub = p.client

	go func() {
		<-ctx.Done()
		p.client.Disconnect(100)
	}()
	return nil
}

// PublishDirective sends the directive for a session's lane.
func (p *Publisher) PublishDirective(ctx context.Context, sessionID string, directive interface{}) error {
	return p.publish(ctx, TopicDirective(p.cfg.TopicPrefix, sessionID), directive)
}

// PublishOrder sends an accepted order to the lane's order board.
func (p *Publisher) PublishOrder(ctx context.Context, sessionID string, order interface{}) error {
	return p.publish(ctx, TopicOrderAccepted(p.cfg.TopicPrefix, sessionID), order)
}

func (p *Publisher) publish(ctx context.Context, topic string, payload interface{}) error {
	if p.pub == nil {
		return fmt.Errorf("mqtt publisher not connected")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	token := p.pub.Publish(topic, 1, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}
