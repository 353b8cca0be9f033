// internal/workers/plan/generate-plan/handler.go
package generateplan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"plan-generator/internal/common/config"
	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/metrics"
	"plan-generator/internal/common/validation"
	"plan-generator/internal/plan/markdown"
)

const TaskType = config.GeneratePlanWorker

var inputValidator = validation.MustValidator(validation.GeneratePlanJobSchema)

// Generator produces a raw plan for non-blank input.
type Generator interface {
	GeneratePlan(ctx context.Context, userInput string) (string, error)
}

type Handler struct {
	config    *Config
	generator Generator
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(cfg *Config, generator Generator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    cfg,
		generator: generator,
		errors:    apperrors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx := context.Background()
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	output, err := h.process(ctx, job.Variables)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
		h.errors.HandleJobError(context.Background(), client, job, err)
		return
	}

	if h.completeJob(client, job, output) {
		metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	}
}

func (h *Handler) process(ctx context.Context, variables string) (*Output, error) {
	input, err := ParseInput(variables)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, input)
}

// ParseInput validates the job variables and extracts the user input.
func ParseInput(variables string) (*Input, error) {
	result, err := inputValidator.ValidateJSON([]byte(variables))
	if err != nil {
		return nil, apperrors.NewValidationError("variables", err.Error())
	}
	if !result.Valid {
		return nil, apperrors.NewValidationError("userInput", strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewValidationError("variables", fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

// Execute generates a plan for input. Blank input never reaches the generator.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	userInput := strings.TrimSpace(input.UserInput)
	if userInput == "" {
		return nil, apperrors.NewValidationError("userInput", "must not be blank")
	}

	raw, err := h.generator.GeneratePlan(ctx, userInput)
	if err != nil {
		return nil, err
	}

	h.logger.Info("plan generated", map[string]interface{}{
		"inputLength": len(userInput),
		"planLength":  len(raw),
	})

	return &Output{
		GeneratedPlan: markdown.Format(raw),
		RawPlan:       raw,
		HasPlan:       strings.TrimSpace(raw) != "",
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) bool {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return false
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return false
	}
	return true
}
