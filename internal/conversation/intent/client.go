package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "drivethru-orchestrator/internal/common/errors"
	apphttp "drivethru-orchestrator/internal/common/http"
)

var (
	ErrIntentParsingFailed = errors.New("INTENT_PARSING_FAILED")
	ErrIntentAPITimeout    = errors.New("INTENT_API_TIMEOUT")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type ClientConfig struct {
	GenAIBaseURL string
	APIKey       string
	Timeout      time.Duration
}

// Client calls the language-understanding service. It does not retry: a failed call is the
// caller's to degrade.
type Client struct {
	config *ClientConfig
	http   *apphttp.Client
	logger Logger
}

func NewClient(config *ClientConfig, log Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Client{
		config: config,
		http:   apphttp.NewClient(timeout).WithAPIKey(config.APIKey),
		logger: log,
	}
}

type parseRequest struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Classify sends one utterance with its conversation context and returns the raw result.
func (c *Client) Classify(ctx context.Context, text string, convCtx map[string]interface{}) (Raw, error) {
	var raw Raw
	url := strings.TrimRight(c.config.GenAIBaseURL, "/") + "/api/ai/parse-intent"

	start := time.Now()
	err := c.http.PostJSON(ctx, url, parseRequest{Query: text, Context: convCtx}, &raw)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("intent api timed out", map[string]interface{}{
				"elapsedMs": time.Since(start).Milliseconds(),
			})
			return Raw{}, apperrors.NewIntentAPITimeoutError(fmt.Errorf("%w: %v", ErrIntentAPITimeout, err))
		}
		c.logger.Error("intent api call failed", map[string]interface{}{"error": err.Error()})
		return Raw{}, apperrors.NewCollaboratorUnavailableError("intent",
			fmt.Errorf("%w: %v", ErrIntentParsingFailed, err))
	}

	if raw.Text == "" {
		raw.Text = text
	}

	fields := map[string]interface{}{
		"intent":    raw.Intent,
		"itemCount": len(raw.Items),
		"elapsedMs": time.Since(start).Milliseconds(),
	}
	if raw.Confidence != nil {
		fields["confidence"] = *raw.Confidence
	}
	c.logger.Info("intent parsed", fields)
	return raw, nil
}
