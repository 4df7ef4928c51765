package proctor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/model"
)

// Runtime owns the live state machine of one InProgress session. It
// coordinates the deadline clock, the autosave manager, and the violation
// aggregator, and decides when to auto-submit.
//
// A single atomic stopped guard is shared with every dependent task: the
// clock and the autosave timer check it before acting, so a late-firing
// timer can never mutate a session that has already transitioned. Stopping
// is compare-and-set, so a duplicate stop is a no-op.
type Runtime struct {
	session model.QuizSession
	policy  Policy

	store Store
	pub   Publisher
	log   zerolog.Logger
	now   func() time.Time

	stopped atomic.Bool

	// submitMu serializes submission with the final forced flush. The
	// deadline expiry path and manual submit both funnel through Submit,
	// so exactly one store call results even when they race.
	submitMu  sync.Mutex
	submitted bool
	result    *model.SubmitResult

	clock    *DeadlineClock
	autosave *AutosaveManager
	agg      *ViolationAggregator

	currentQuestion atomic.Int64
}

// RuntimeOption customizes a Runtime, mainly for tests.
type RuntimeOption func(*Runtime)

// WithNow injects the runtime's time source.
func WithNow(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

// WithTickInterval overrides the deadline clock's tick period.
func WithTickInterval(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.clock.tick = d }
}

// NewRuntime builds a runtime for an InProgress session. savedAnswers
// seeds the autosave buffer so a resumed session never loses previously
// saved keys.
func NewRuntime(
	session model.QuizSession,
	savedAnswers map[string]string,
	policy Policy,
	store Store,
	pub Publisher,
	log zerolog.Logger,
	opts ...RuntimeOption,
) (*Runtime, error) {
	if session.State != model.SessionInProgress || session.StartedAt == nil {
		return nil, ErrNotInProgress
	}

	r := &Runtime{
		session: session,
		policy:  policy,
		store:   store,
		pub:     pub,
		now:     time.Now,
		log: log.With().
			Str("component", "session_runtime").
			Str("session_id", session.ID.String()).
			Logger(),
	}

	r.clock = newDeadlineClock(
		*session.StartedAt,
		time.Duration(session.DurationSeconds)*time.Second,
		policy,
		&r.stopped,
	)

	r.autosave = newAutosaveManager(savedAnswers, policy.AutosaveInterval, func(ctx context.Context, answers map[string]string) error {
		return store.SaveAnswers(ctx, session.ID, answers)
	}, &r.stopped, r.log)

	r.agg = newViolationAggregator(session.ID, session.QuizID, session.RiskScore, policy, store, pub, &r.stopped, r.log)

	for _, opt := range opts {
		opt(r)
	}
	r.clock.now = r.now
	r.agg.now = r.now

	return r, nil
}

// Start launches the deadline clock. Entering InProgress and starting the
// clock are one operation: a runtime that fails here never accepted edits.
func (r *Runtime) Start() {
	r.clock.onLowTime = func(remaining time.Duration) {
		r.pub.PublishLowTime(r.session.QuizID, r.session.ID, remaining)
	}
	r.clock.onExpire = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := r.Submit(ctx); err != nil {
			r.log.Error().Err(err).Msg("Deadline auto-submit failed")
		}
	}
	go r.clock.Run()

	r.log.Info().
		Time("deadline", r.session.Deadline()).
		Msg("Session runtime started")
}

// SessionID returns the owning session's ID.
func (r *Runtime) SessionID() uuid.UUID { return r.session.ID }

// QuizID returns the owning quiz's ID.
func (r *Runtime) QuizID() uuid.UUID { return r.session.QuizID }

// StudentID returns the owning student's ID.
func (r *Runtime) StudentID() int { return r.session.StudentID }

// Remaining returns the recomputed time left.
func (r *Runtime) Remaining() time.Duration { return r.clock.Remaining() }

// Submitted reports whether the session has been finalized.
func (r *Runtime) Submitted() bool {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()
	return r.submitted
}

// UpdateAnswer buffers an answer edit and schedules a debounced flush.
func (r *Runtime) UpdateAnswer(questionID, value string) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	r.autosave.Set(questionID, value)
	return nil
}

// Answers returns a copy of the current answer buffer.
func (r *Runtime) Answers() map[string]string {
	return r.autosave.Answers()
}

// SaveNow forces an immediate flush. Unlike the debounced path, failures
// are surfaced to the caller.
func (r *Runtime) SaveNow(ctx context.Context) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	return r.autosave.Flush(ctx)
}

// ReportViolation feeds one proctoring event through the aggregator.
// Returns the accepted violation and the updated risk score, or ok=false
// when the event was deduplicated.
func (r *Runtime) ReportViolation(ctx context.Context, typ model.ViolationType, sev model.Severity, description string) (*model.Violation, int, bool) {
	if r.stopped.Load() {
		return nil, r.agg.RiskScore(), false
	}
	v, ok := r.agg.Report(ctx, typ, sev, description)
	return v, r.agg.RiskScore(), ok
}

// RiskScore returns the current risk score.
func (r *Runtime) RiskScore() int { return r.agg.RiskScore() }

// UpdateProgress records the student's current question and publishes a
// progress sample to the monitoring channel.
func (r *Runtime) UpdateProgress(currentQuestion int) {
	if r.stopped.Load() {
		return
	}
	r.currentQuestion.Store(int64(currentQuestion))
	r.pub.PublishProgress(r.session.QuizID, Progress{
		SessionID:       r.session.ID,
		StudentID:       r.session.StudentID,
		CurrentQuestion: currentQuestion,
		AnsweredCount:   r.autosave.AnsweredCount(),
		TimeRemaining:   r.clock.Remaining().Seconds(),
	})
}

// Submit finalizes the session. Idempotent: a second call returns the first
// result. Manual submit and deadline expiry share this path, serialized by
// submitMu, so the store sees exactly one submission.
//
// Order matters: the forced flush happens before the state transition so no
// buffered answer is lost to a race with autosave, and tasks are stopped
// only after the store accepted the submission. A store failure leaves the
// runtime live so the client can retry.
func (r *Runtime) Submit(ctx context.Context) (*model.SubmitResult, error) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	if r.submitted {
		return r.result, nil
	}

	if err := r.autosave.Flush(ctx); err != nil {
		return nil, fmt.Errorf("final answer flush: %w", err)
	}

	res, err := r.store.SubmitSession(ctx, r.session.ID, r.agg.RiskScore(), r.agg.ShouldFlag())
	if err != nil {
		return nil, fmt.Errorf("submit session: %w", err)
	}

	r.submitted = true
	r.result = res
	r.session.State = res.State

	r.stop()
	r.pub.PublishCompleted(r.session.QuizID, r.session.ID, res.State)

	r.log.Info().
		Str("state", string(res.State)).
		Float64("percentage", res.Percentage).
		Int("risk_score", r.agg.RiskScore()).
		Msg("Session submitted")

	return res, nil
}

// Close flushes buffered answers best-effort and stops all runtime tasks
// without submitting. Used on server shutdown; the absolute deadline still
// holds, so a restarted node resumes or force-submits from persisted state.
func (r *Runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.autosave.Flush(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Final flush on close failed")
	}
	r.stop()
}

// stop flips the shared guard exactly once and cancels the clock and the
// autosave timer together.
func (r *Runtime) stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.clock.Stop()
	r.autosave.stop()
}
