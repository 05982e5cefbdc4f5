package errors

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler reports worker failures to the broker: retryable codes fail the job with a
// backoff, everything else is thrown as a BPMN error the order process can catch.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)
	vars := jobVariables(stdErr, bpmnErr)

	retry := bpmnErr.Retries > 0 && job.Retries > 0
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":          job.Key,
		"jobType":         job.Type,
		"processInstance": job.ProcessInstanceKey,
		"errorCode":       bpmnErr.Code,
		"category":        GetErrorCategory(stdErr.Code),
		"details":         stdErr.Details,
		"retry":           retry,
	})

	var sendErr error
	if retry {
		sendErr = failJob(ctx, client, job, bpmnErr, vars)
	} else {
		sendErr = throwError(ctx, client, job, bpmnErr, vars)
	}
	if sendErr != nil {
		h.logger.Error("failed to report job failure", map[string]interface{}{
			"jobKey": job.Key,
			"error":  sendErr.Error(),
		})
	}
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
}

// RetryBackoff is how long the broker waits before handing a failed job out again.
func RetryBackoff(code ErrorCode) time.Duration {
	switch code {
	case ErrCodeTurnCancelled:
		return 500 * time.Millisecond
	case ErrCodeTicketPublishFailed:
		return 5 * time.Second
	default:
		return 2 * time.Second
	}
}

// retriesFor never raises the broker's remaining retry budget.
func retriesFor(job entities.Job, recommended int) int32 {
	if job.Retries > 0 && int(job.Retries) < recommended {
		return job.Retries - 1
	}
	return int32(recommended)
}

func jobVariables(stdErr *StandardError, bpmnErr *BPMNError) map[string]interface{} {
	vars := bpmnErr.ToErrorVariables()
	for k, v := range stdErr.Metadata {
		if _, taken := vars[k]; !taken {
			vars[k] = v
		}
	}
	return vars
}

func failJob(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError, vars map[string]interface{}) error {
	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(retriesFor(job, bpmnErr.Retries)).
		RetryBackoff(RetryBackoff(ErrorCode(bpmnErr.Code))).
		ErrorMessage(bpmnErr.Message)

	withVars, err := cmd.VariablesFromMap(vars)
	if err != nil {
		_, err = cmd.Send(ctx)
		return err
	}
	_, err = withVars.Send(ctx)
	return err
}

func throwError(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError, vars map[string]interface{}) error {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	withVars, err := cmd.VariablesFromMap(vars)
	if err != nil {
		_, err = cmd.Send(ctx)
		return err
	}
	_, err = withVars.Send(ctx)
	return err
}
