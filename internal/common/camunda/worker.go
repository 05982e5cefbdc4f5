package camunda

import (
	"context"
	"fmt"
	"time"

	"drivethru-orchestrator/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every order worker.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// JobSpec describes one job subscription.
type JobSpec struct {
	TaskType      string
	WorkerName    string
	MaxJobsActive int
	// Timeout is how long the broker leaves an activated job with us.
	Timeout time.Duration
}

type CamundaWorker struct {
	worker worker.JobWorker
	logger logger.Logger
	spec   JobSpec
}

func NewWorker(client zbc.Client, spec JobSpec, handler JobHandler, log logger.Logger) *CamundaWorker {
	if spec.WorkerName == "" {
		spec.WorkerName = "order-agent"
	}
	log = log.With(map[string]interface{}{"taskType": spec.TaskType})

	step := client.NewJobWorker().
		JobType(spec.TaskType).
		Handler(guard(handler, log)).
		Name(spec.WorkerName).
		MaxJobsActive(spec.MaxJobsActive)
	if spec.Timeout > 0 {
		step = step.Timeout(spec.Timeout)
	}

	return &CamundaWorker{
		worker: step.Open(),
		logger: log,
		spec:   spec,
	}
}

// guard fails the job instead of letting a handler panic take down the stream.
func guard(handler JobHandler, log logger.Logger) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("job handler panicked", map[string]interface{}{
				"jobKey": job.Key,
				"panic":  fmt.Sprint(r),
			})
			_, _ = client.NewFailJobCommand().
				JobKey(job.Key).
				Retries(job.Retries - 1).
				ErrorMessage(fmt.Sprintf("handler panic: %v", r)).
				Send(context.Background())
		}()
		handler.Handle(client, job)
	}
}

func (w *CamundaWorker) Start() {
	w.logger.Info("worker started", map[string]interface{}{
		"worker":        w.spec.WorkerName,
		"maxJobsActive": w.spec.MaxJobsActive,
	})
}

// Stop closes the job stream. The shared zbc client is closed by its owner.
func (w *CamundaWorker) Stop(ctx context.Context) {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
}
