// Package generator runs one remote agent invocation per plan request and
// turns its streamed callbacks into a single result.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"plan-generator/internal/common/agent"
	"plan-generator/internal/common/config"
	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/metrics"
)

const (
	// FinalPlanKey is the completion output carrying the plan text.
	FinalPlanKey = "final_plan"

	tracerName = "plan-generator/generator"
)

// Config controls one generator instance.
type Config struct {
	AppID       string
	AgentID     string
	WarmupDelay time.Duration // 0 disables
	Timeout     time.Duration // 0 disables
}

// ConfigFrom maps application config onto generator config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AppID:       cfg.Agent.AppID,
		AgentID:     cfg.Agent.AgentID,
		WarmupDelay: config.GetDuration(cfg.Generation.WarmupDelay),
		Timeout:     config.GetDuration(cfg.Generation.Timeout),
	}
}

// Generator is the plan generation orchestrator.
type Generator struct {
	invoker agent.Invoker
	config  Config
	logger  logger.Logger
	tracer  trace.Tracer
}

type Option func(*Generator)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Generator) { g.tracer = tp.Tracer(tracerName) }
}

func New(invoker agent.Invoker, cfg Config, log logger.Logger, opts ...Option) *Generator {
	g := &Generator{
		invoker: invoker,
		config:  cfg,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type result struct {
	plan string
	err  error
}

// GeneratePlan waits out the warm-up delay, invokes the agent once with an
// empty variable set and returns the completion's final_plan. It returns
// exactly once; on timeout or cancellation the invocation is cancelled.
func (g *Generator) GeneratePlan(ctx context.Context, userInput string) (plan string, err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "plan.generate", trace.WithAttributes(
		attribute.String("agent.app_id", g.config.AppID),
		attribute.String("agent.agent_id", g.config.AgentID),
		attribute.Int("plan.input_length", len(userInput)),
	))
	metrics.PlanGenerationsActive.Inc()
	defer func() {
		metrics.PlanGenerationsActive.Dec()
		g.finish(span, start, plan, err)
	}()

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	if err := g.warmUp(ctx); err != nil {
		return "", g.contextError(err)
	}

	results := make(chan result, 1)
	deliver := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	inv, err := g.invoke(ctx, agent.InvokeConfig{
		AppID:     g.config.AppID,
		AgentID:   g.config.AgentID,
		Variables: map[string]interface{}{},
		OnOutputs: g.onOutputs,
		OnComplete: func(frame agent.Frame) {
			deliver(result{plan: g.extractPlan(frame)})
		},
		OnError: func(cause error) {
			g.logger.Error("agent invocation failed", map[string]interface{}{
				"agentId": g.config.AgentID,
				"error":   cause,
			})
			deliver(result{err: apperrors.NewRemoteInvocationError(cause)})
		},
	})
	if err != nil {
		g.logger.Error("agent invocation could not start", map[string]interface{}{
			"agentId": g.config.AgentID,
			"error":   err,
		})
		return "", apperrors.NewRemoteInvocationError(err)
	}

	select {
	case <-inv.Done():
	case <-ctx.Done():
		inv.Cancel()
		select {
		case r := <-results:
			return r.plan, r.err
		default:
		}
		return "", g.contextError(ctx.Err())
	}

	select {
	case r := <-results:
		return r.plan, r.err
	default:
	}
	if ctx.Err() != nil {
		return "", g.contextError(ctx.Err())
	}
	return "", apperrors.NewRemoteInvocationError(
		fmt.Errorf("invocation settled without a result: %v", inv.Err()))
}

func (g *Generator) warmUp(ctx context.Context) error {
	if g.config.WarmupDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.config.WarmupDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invoke converts a panicking transport into an error.
func (g *Generator) invoke(ctx context.Context, cfg agent.InvokeConfig) (inv *agent.Invocation, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv, err = nil, fmt.Errorf("agent transport panicked: %v", r)
		}
	}()
	inv, err = g.invoker.Invoke(ctx, cfg)
	if err == nil && inv == nil {
		err = errors.New("agent transport returned no invocation")
	}
	return inv, err
}

func (g *Generator) onOutputs(frame agent.Frame) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("partial output handler panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()
	metrics.AgentPartialFrames.WithLabelValues(g.config.AgentID).Inc()

	keys := make([]string, 0, len(frame.Outputs))
	for k := range frame.Outputs {
		keys = append(keys, k)
	}
	g.logger.Debug("partial agent output", map[string]interface{}{
		"agentId":    g.config.AgentID,
		"outputKeys": keys,
	})
}

// extractPlan is lenient: a missing or non-string final_plan is an empty plan.
func (g *Generator) extractPlan(frame agent.Frame) string {
	raw, ok := frame.Outputs[FinalPlanKey]
	plan, isString := raw.(string)
	if !ok || !isString {
		g.logger.Warn("final_plan missing from completion outputs", map[string]interface{}{
			"agentId": g.config.AgentID,
			"present": ok,
			"type":    fmt.Sprintf("%T", raw),
		})
		return ""
	}
	return plan
}

func (g *Generator) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewGenerationTimeoutError(g.config.Timeout)
	}
	return apperrors.NewGenerationCancelledError(err)
}

func (g *Generator) finish(span trace.Span, start time.Time, plan string, err error) {
	defer span.End()

	status := "complete"
	if err != nil {
		code := apperrors.CodeOf(err)
		switch code {
		case apperrors.ErrCodeGenerationTimeout:
			status = "timeout"
		case apperrors.ErrCodeGenerationCancelled:
			status = "cancelled"
		default:
			status = "failed"
		}
		metrics.PlanGenerationFailures.WithLabelValues(string(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
	} else {
		span.SetAttributes(attribute.Int("plan.length", len(plan)))
		span.SetStatus(codes.Ok, "")
	}
	metrics.PlanGenerationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
