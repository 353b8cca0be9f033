// internal/plan/generator/generator_test.go
package generator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"plan-generator/internal/common/agent"
	"plan-generator/internal/common/config"
	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
)

// ==========================
// Test doubles
// ==========================

type script func(ctx context.Context, cfg agent.InvokeConfig, inv *agent.Invocation)

type fakeInvoker struct {
	mu      sync.Mutex
	calls   int32
	configs []agent.InvokeConfig
	err     error
	panics  bool
	script  script
	handles []*agent.Invocation
}

func (f *fakeInvoker) Invoke(ctx context.Context, cfg agent.InvokeConfig) (*agent.Invocation, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()

	if f.panics {
		panic("transport exploded")
	}
	if f.err != nil {
		return nil, f.err
	}

	ctx, cancel := context.WithCancel(ctx)
	inv := agent.NewInvocation(cancel)
	f.mu.Lock()
	f.handles = append(f.handles, inv)
	f.mu.Unlock()

	go f.script(ctx, cfg, inv)
	return inv, nil
}

func completeWith(outputs map[string]interface{}) script {
	return func(ctx context.Context, cfg agent.InvokeConfig, inv *agent.Invocation) {
		cfg.OnOutputs(agent.Frame{Outputs: map[string]interface{}{"draft": "partial"}})
		cfg.OnOutputs(agent.Frame{})
		cfg.OnComplete(agent.Frame{Outputs: outputs})
		inv.Finish(nil)
	}
}

func failWith(err error) script {
	return func(ctx context.Context, cfg agent.InvokeConfig, inv *agent.Invocation) {
		cfg.OnError(err)
		inv.Finish(err)
	}
}

func hang() script {
	return func(ctx context.Context, cfg agent.InvokeConfig, inv *agent.Invocation) {
		<-ctx.Done()
		inv.Finish(ctx.Err())
	}
}

func testConfig() Config {
	return Config{AppID: "269", AgentID: "298"}
}

func observedLogger() (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.NewZapAdapter(zap.New(core)), logs
}

// ==========================
// Success paths
// ==========================

func TestGeneratePlan_ReturnsFinalPlan(t *testing.T) {
	inv := &fakeInvoker{script: completeWith(map[string]interface{}{"final_plan": "# Plan\n- step"})}
	g := New(inv, testConfig(), logger.NewTestLogger(t))

	plan, err := g.GeneratePlan(context.Background(), "lose weight")
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n- step", plan)

	assert.Equal(t, int32(1), atomic.LoadInt32(&inv.calls))
	cfg := inv.configs[0]
	assert.Equal(t, "269", cfg.AppID)
	assert.Equal(t, "298", cfg.AgentID)
	assert.NotNil(t, cfg.Variables)
	assert.Empty(t, cfg.Variables)
}

func TestGeneratePlan_EmptyInputStillInvokes(t *testing.T) {
	inv := &fakeInvoker{script: completeWith(map[string]interface{}{"final_plan": "plan"})}
	g := New(inv, testConfig(), logger.NewNoOpLogger())

	plan, err := g.GeneratePlan(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "plan", plan)
}

func TestGeneratePlan_MissingFinalPlanIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]interface{}
	}{
		{"absent", map[string]interface{}{"summary": "x"}},
		{"nil outputs", nil},
		{"non-string", map[string]interface{}{"final_plan": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, logs := observedLogger()
			g := New(&fakeInvoker{script: completeWith(tt.outputs)}, testConfig(), log)

			plan, err := g.GeneratePlan(context.Background(), "input")
			require.NoError(t, err)
			assert.Equal(t, "", plan)
			assert.Equal(t, 1, logs.FilterMessage("final_plan missing from completion outputs").Len())
		})
	}
}

func TestGeneratePlan_PartialOutputsLoggedAtDebug(t *testing.T) {
	log, logs := observedLogger()
	g := New(&fakeInvoker{script: completeWith(map[string]interface{}{"final_plan": "p"})}, testConfig(), log)

	_, err := g.GeneratePlan(context.Background(), "input")
	require.NoError(t, err)

	partial := logs.FilterMessage("partial agent output").All()
	require.Len(t, partial, 2)
	assert.Equal(t, zapcore.DebugLevel, partial[0].Level)
}

func TestGeneratePlan_WarmupDelay(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupDelay = 40 * time.Millisecond
	g := New(&fakeInvoker{script: completeWith(map[string]interface{}{"final_plan": "p"})}, cfg, logger.NewNoOpLogger())

	start := time.Now()
	_, err := g.GeneratePlan(context.Background(), "input")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestGeneratePlan_ConcurrentCallsAreIsolated(t *testing.T) {
	var n int32
	inv := &fakeInvoker{}
	inv.script = func(ctx context.Context, cfg agent.InvokeConfig, h *agent.Invocation) {
		if atomic.AddInt32(&n, 1) == 1 {
			time.Sleep(50 * time.Millisecond)
			cfg.OnComplete(agent.Frame{Outputs: map[string]interface{}{"final_plan": "slow"}})
		} else {
			cfg.OnComplete(agent.Frame{Outputs: map[string]interface{}{"final_plan": "fast"}})
		}
		h.Finish(nil)
	}
	g := New(inv, testConfig(), logger.NewNoOpLogger())

	slow := make(chan string, 1)
	go func() {
		plan, _ := g.GeneratePlan(context.Background(), "first")
		slow <- plan
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, time.Millisecond)

	fast, err := g.GeneratePlan(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "fast", fast)
	assert.Equal(t, "slow", <-slow)
}

// ==========================
// Failure paths
// ==========================

func TestGeneratePlan_ErrorCallback(t *testing.T) {
	g := New(&fakeInvoker{script: failWith(stderrors.New("agent crashed"))}, testConfig(), logger.NewTestLogger(t))

	plan, err := g.GeneratePlan(context.Background(), "input")
	require.Error(t, err)
	assert.Empty(t, plan)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRemoteInvocationFailed))
}

func TestGeneratePlan_TransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		invoker *fakeInvoker
	}{
		{"synchronous error", &fakeInvoker{err: stderrors.New("connection refused")}},
		{"panic", &fakeInvoker{panics: true}},
		{"settled without callback", &fakeInvoker{script: func(ctx context.Context, cfg agent.InvokeConfig, inv *agent.Invocation) {
			inv.Finish(nil)
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.invoker, testConfig(), logger.NewNoOpLogger())
			_, err := g.GeneratePlan(context.Background(), "input")
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRemoteInvocationFailed), err.Error())
		})
	}
}

func TestGeneratePlan_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond
	inv := &fakeInvoker{script: hang()}
	g := New(inv, cfg, logger.NewNoOpLogger())

	_, err := g.GeneratePlan(context.Background(), "input")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGenerationTimeout))

	require.Len(t, inv.handles, 1)
	select {
	case <-inv.handles[0].Done():
	case <-time.After(time.Second):
		t.Fatal("invocation was not cancelled")
	}
}

func TestGeneratePlan_Cancelled(t *testing.T) {
	inv := &fakeInvoker{script: hang()}
	g := New(inv, testConfig(), logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := g.GeneratePlan(ctx, "input")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGenerationCancelled))
}

func TestGeneratePlan_CancelledDuringWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupDelay = time.Hour
	inv := &fakeInvoker{script: completeWith(nil)}
	g := New(inv, cfg, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.GeneratePlan(ctx, "input")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGenerationCancelled))
	assert.Equal(t, int32(0), atomic.LoadInt32(&inv.calls))
}

// ==========================
// Tracing
// ==========================

func TestGeneratePlan_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ok := New(&fakeInvoker{script: completeWith(map[string]interface{}{"final_plan": "p"})}, testConfig(), logger.NewNoOpLogger(), WithTracerProvider(tp))
	_, err := ok.GeneratePlan(context.Background(), "input")
	require.NoError(t, err)

	bad := New(&fakeInvoker{script: failWith(stderrors.New("boom"))}, testConfig(), logger.NewNoOpLogger(), WithTracerProvider(tp))
	_, err = bad.GeneratePlan(context.Background(), "input")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plan.generate", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, string(apperrors.ErrCodeRemoteInvocationFailed), spans[1].Status().Description)
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Agent:      config.AgentConfig{AppID: "1", AgentID: "2"},
		Generation: config.GenerationConfig{WarmupDelay: 1500, Timeout: 0},
	}
	got := ConfigFrom(cfg)
	assert.Equal(t, Config{AppID: "1", AgentID: "2", WarmupDelay: 1500 * time.Millisecond}, got)
}
