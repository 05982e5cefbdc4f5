package processturn

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
	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/session"
)

const (
	TaskType = "process-turn"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Sessions runs turns against live conversations.
type Sessions interface {
	Turn(ctx context.Context, id string, in session.TurnInput) (session.TurnResult, error)
}

type Handler struct {
	config   *Config
	sessions Sessions
	errors   *apperrors.ErrorHandler
	logger   Logger
}

func NewHandler(config *Config, sessions Sessions, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:   config,
		sessions: sessions,
		errors:   apperrors.NewErrorHandler(l),
		logger:   l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

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

	res, err := h.sessions.Turn(ctx, input.SessionID, session.TurnInput{
		Text:          input.Text,
		ASRConfidence: input.ASRConfidence,
	})
	if err != nil {
		return nil, err
	}
	if res.Directive.Kind == dialogue.DirectiveSessionClosed {
		return nil, apperrors.NewSessionClosedError(input.SessionID)
	}

	output := &Output{
		SessionID:     res.SessionID,
		Directive:     res.Directive,
		DirectiveKind: string(res.Directive.Kind),
		State:         string(res.State),
		TotalCents:    int64(res.Total),
		OrderClosed:   res.State == dialogue.StateClosed,
	}

	h.logger.Info("turn processed", map[string]interface{}{
		"sessionId": output.SessionID,
		"directive": output.DirectiveKind,
		"state":     output.State,
	})
	return output, nil
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
