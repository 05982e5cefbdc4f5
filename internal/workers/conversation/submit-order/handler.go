package submitorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "drivethru-orchestrator/internal/common/errors"
	"drivethru-orchestrator/internal/common/metrics"
	"drivethru-orchestrator/internal/conversation/session"
)

const (
	TaskType = "submit-order"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Tickets interface {
	Ticket(id string) (session.Ticket, error)
}

// TicketPublisher delivers a ticket to the kitchen and returns the message id.
type TicketPublisher interface {
	Publish(ctx context.Context, t session.Ticket) (string, error)
}

type Handler struct {
	config    *Config
	tickets   Tickets
	publisher TicketPublisher
	errors    *apperrors.ErrorHandler
	logger    Logger
}

func NewHandler(config *Config, tickets Tickets, publisher TicketPublisher, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:    config,
		tickets:   tickets,
		publisher: publisher,
		errors:    apperrors.NewErrorHandler(l),
		logger:    l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, apperrors.NewInvalidInputError("sessionId is required")
	}

	ticket, err := h.tickets.Ticket(input.SessionID)
	if err != nil {
		return nil, err
	}

	msgID, err := h.publisher.Publish(ctx, ticket)
	if err != nil {
		return nil, apperrors.NewTicketPublishFailedError(err).
			WithMetadata("ticketId", ticket.TicketID)
	}

	h.logger.Info("kitchen ticket submitted", map[string]interface{}{
		"sessionId": input.SessionID,
		"ticketId":  ticket.TicketID,
		"messageId": msgID,
	})

	return &Output{
		TicketID:    ticket.TicketID,
		MessageID:   msgID,
		TotalCents:  int64(ticket.Total),
		LineCount:   len(ticket.Lines),
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errors.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
