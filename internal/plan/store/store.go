// Package store holds the plan generation state shared with the UI.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/metrics"
	"plan-generator/internal/common/validation"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Outcome of a generation cycle as reported to observers.
const (
	OutcomeComplete   = "complete"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

// PlanGenerator produces a plan for trimmed, non-blank input.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, userInput string) (string, error)
}

// Snapshot is a copy of the store state plus its derived values.
type Snapshot struct {
	UserInput          string    `json:"userInput"`
	GeneratedPlan      string    `json:"generatedPlan"`
	IsGenerating       bool      `json:"isGenerating"`
	PhoneNumber        string    `json:"phoneNumber"`
	Status             Status    `json:"status"`
	HasGeneratedPlan   bool      `json:"hasGeneratedPlan"`
	IsValidPhoneNumber bool      `json:"isValidPhoneNumber"`
	CycleID            string    `json:"cycleId,omitempty"`
	Version            uint64    `json:"version"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CycleResult describes a finished generation cycle.
type CycleResult struct {
	CycleID    string
	Input      string
	Plan       string
	Outcome    string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer is told about every cycle that reached the generator. ctx is
// detached from the request's cancellation.
type Observer func(ctx context.Context, result CycleResult)

type Option func(*Store)

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use. Each GeneratePlan call owns a cycle; a
// newer call or ClearPlan cancels the current cycle and its result is dropped.
type Store struct {
	mu sync.Mutex

	userInput     string
	generatedPlan string
	isGenerating  bool
	phoneNumber   string
	status        Status
	cycleID       string
	cancelCycle   context.CancelFunc
	version       uint64
	updatedAt     time.Time

	subscribers map[uint64]func(Snapshot)
	nextSubID   uint64
	observers   []Observer

	generator PlanGenerator
	logger    logger.Logger
	now       func() time.Time
}

func New(generator PlanGenerator, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		status:      StatusIdle,
		subscribers: make(map[uint64]func(Snapshot)),
		generator:   generator,
		logger:      log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updatedAt = s.now().UTC()
	return s
}

// ==========================
// Mutations
// ==========================

func (s *Store) SetUserInput(input string) {
	s.mutate(func() { s.userInput = input })
}

func (s *Store) SetPhoneNumber(phone string) {
	s.mutate(func() { s.phoneNumber = phone })
}

// ClearPlan resets the plan and generation state and invalidates any cycle
// in flight. Input and phone number are kept.
func (s *Store) ClearPlan() {
	s.mutate(func() {
		s.endCycleLocked()
		s.generatedPlan = ""
		s.isGenerating = false
		s.status = StatusIdle
	})
}

// Restore loads persisted state. A restored store is never generating.
func (s *Store) Restore(snap Snapshot) {
	s.mutate(func() {
		s.endCycleLocked()
		s.userInput = snap.UserInput
		s.phoneNumber = snap.PhoneNumber
		s.generatedPlan = snap.GeneratedPlan
		s.isGenerating = false
		s.status = StatusIdle
		switch snap.Status {
		case StatusComplete, StatusFailed:
			s.status = snap.Status
		}
	})
}

// GeneratePlan runs one generation cycle for the trimmed user input.
//
// Blank input returns VALIDATION_FAILED without touching state. A failed
// generation clears the plan and returns GENERATION_FAILED with a fixed
// message; the cause is logged and is not wrapped into the returned error.
// A cycle replaced by a newer GeneratePlan or by ClearPlan returns
// GENERATION_SUPERSEDED and leaves state to the newer owner.
func (s *Store) GeneratePlan(ctx context.Context) (err error) {
	s.mu.Lock()
	input := strings.TrimSpace(s.userInput)
	if input == "" {
		s.mu.Unlock()
		return apperrors.NewValidationError("userInput", "must not be blank")
	}

	s.endCycleLocked()
	cycleCtx, cancel := context.WithCancel(ctx)
	cycleID := uuid.NewString()
	s.cycleID = cycleID
	s.cancelCycle = cancel
	s.isGenerating = true
	s.generatedPlan = ""
	s.status = StatusGenerating
	snap := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.logger.Info("plan generation started", map[string]interface{}{
		"cycleId":     cycleID,
		"inputLength": len(input),
	})

	started := s.now()
	var (
		plan   string
		genErr error
	)
	defer func() {
		cancel()
		if r := recover(); r != nil {
			plan, genErr = "", fmt.Errorf("plan generator panicked: %v", r)
		}
		err = s.finishCycle(ctx, CycleResult{
			CycleID:   cycleID,
			Input:     input,
			Plan:      plan,
			Err:       genErr,
			StartedAt: started,
		})
	}()

	plan, genErr = s.generator.GeneratePlan(cycleCtx, input)
	return nil
}

func (s *Store) finishCycle(ctx context.Context, result CycleResult) error {
	result.FinishedAt = s.now()

	s.mu.Lock()
	if s.cycleID != result.CycleID {
		s.mu.Unlock()
		result.Outcome = OutcomeSuperseded
		s.logger.Debug("dropping superseded plan generation", map[string]interface{}{
			"cycleId": result.CycleID,
		})
		s.report(ctx, result)
		return apperrors.NewGenerationSupersededError(result.CycleID)
	}

	s.cycleID = ""
	s.cancelCycle = nil
	s.isGenerating = false
	if result.Err != nil {
		result.Outcome = OutcomeFailed
		s.generatedPlan = ""
		s.status = StatusFailed
	} else {
		result.Outcome = OutcomeComplete
		s.generatedPlan = result.Plan
		s.status = StatusComplete
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.report(ctx, result)

	if result.Err != nil {
		s.logger.Error("Failed to generate plan", map[string]interface{}{
			"cycleId":   result.CycleID,
			"errorCode": string(apperrors.CodeOf(result.Err)),
			"error":     result.Err,
		})
		return apperrors.NewGenerationFailedError()
	}

	s.logger.Info("plan generation complete", map[string]interface{}{
		"cycleId":    result.CycleID,
		"planLength": len(result.Plan),
		"durationMs": result.Duration().Milliseconds(),
	})
	return nil
}

// endCycleLocked cancels and forgets the current cycle.
func (s *Store) endCycleLocked() {
	if s.cancelCycle != nil {
		s.cancelCycle()
	}
	s.cancelCycle = nil
	s.cycleID = ""
}

func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) commitLocked() Snapshot {
	s.version++
	s.updatedAt = s.now().UTC()
	return s.snapshotLocked()
}

// ==========================
// Reactivity
// ==========================

// Subscribe registers fn for every state change. fn runs on the mutating
// goroutine, outside the store lock. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		s.safeCall(func() { fn(snap) })
	}
}

func (s *Store) report(ctx context.Context, result CycleResult) {
	metrics.PlanGenerationsTotal.WithLabelValues(result.Outcome).Inc()
	detached := context.WithoutCancel(ctx)
	for _, o := range s.observers {
		s.safeCall(func() { o(detached, result) })
	}
}

func (s *Store) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store listener panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()
	fn()
}

// ==========================
// Getters
// ==========================

func (s *Store) UserInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInput
}

func (s *Store) GeneratedPlan() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatedPlan
}

func (s *Store) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isGenerating
}

func (s *Store) PhoneNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phoneNumber
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HasGeneratedPlan reports whether the trimmed plan text is non-empty.
func (s *Store) HasGeneratedPlan() bool {
	return strings.TrimSpace(s.GeneratedPlan()) != ""
}

func (s *Store) IsValidPhoneNumber() bool {
	return validation.IsValidPhoneNumber(s.PhoneNumber())
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		UserInput:          s.userInput,
		GeneratedPlan:      s.generatedPlan,
		IsGenerating:       s.isGenerating,
		PhoneNumber:        s.phoneNumber,
		Status:             s.status,
		HasGeneratedPlan:   strings.TrimSpace(s.generatedPlan) != "",
		IsValidPhoneNumber: validation.IsValidPhoneNumber(s.phoneNumber),
		CycleID:            s.cycleID,
		Version:            s.version,
		UpdatedAt:          s.updatedAt,
	}
}
