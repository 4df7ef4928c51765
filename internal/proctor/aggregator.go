package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/model"
)

// ViolationAggregator consumes violation events from the proctoring signal
// source, deduplicates detector jitter, and maintains the session's
// monotone risk score. Accepted violations are appended to the store and
// forwarded to the monitoring channel.
type ViolationAggregator struct {
	mu sync.Mutex

	sessionID uuid.UUID
	quizID    uuid.UUID

	policy Policy
	now    func() time.Time

	risk     int
	highSeen bool
	lastSeen map[model.ViolationType]time.Time

	store   Store
	pub     Publisher
	stopped *atomic.Bool
	log     zerolog.Logger
}

func newViolationAggregator(sessionID, quizID uuid.UUID, seedRisk int, policy Policy, store Store, pub Publisher, stopped *atomic.Bool, log zerolog.Logger) *ViolationAggregator {
	if seedRisk < 0 {
		seedRisk = 0
	}
	if seedRisk > 100 {
		seedRisk = 100
	}
	return &ViolationAggregator{
		sessionID: sessionID,
		quizID:    quizID,
		policy:    policy,
		now:       time.Now,
		risk:      seedRisk,
		lastSeen:  make(map[model.ViolationType]time.Time),
		store:     store,
		pub:       pub,
		stopped:   stopped,
		log:       log.With().Str("component", "violation_aggregator").Logger(),
	}
}

// Report processes one violation event. Returns the recorded violation and
// true when accepted, or false when the event carries an unknown type or
// severity, or collapsed into a recent duplicate of the same type.
func (a *ViolationAggregator) Report(ctx context.Context, typ model.ViolationType, sev model.Severity, description string) (*model.Violation, bool) {
	// The violations table enforces both enums with CHECK constraints; an
	// unknown value must never reach the persist queue.
	if !typ.Valid() || !sev.Valid() {
		return nil, false
	}

	a.mu.Lock()

	if a.stopped.Load() {
		a.mu.Unlock()
		return nil, false
	}

	now := a.now()

	if last, ok := a.lastSeen[typ]; ok && now.Sub(last) < a.policy.DedupWindow {
		a.mu.Unlock()
		return nil, false
	}
	a.lastSeen[typ] = now

	a.risk += a.policy.Weight(sev)
	if a.risk > 100 {
		a.risk = 100
	}
	if sev == model.SeverityHigh {
		a.highSeen = true
	}

	v := model.Violation{
		SessionID:   a.sessionID,
		Type:        typ,
		Severity:    sev,
		Description: description,
		OccurredAt:  now,
	}
	risk := a.risk
	a.mu.Unlock()

	// The risk score is engine-authoritative; a store hiccup must not
	// undo an accepted violation, so persistence errors are logged and
	// the event still counts.
	if err := a.store.RecordViolation(ctx, v); err != nil {
		a.log.Error().Err(err).
			Str("session_id", a.sessionID.String()).
			Str("type", string(typ)).
			Msg("Violation persist failed")
	}

	a.pub.PublishViolation(a.quizID, v, risk)

	return &v, true
}

// RiskScore returns the current cumulative risk score.
func (a *ViolationAggregator) RiskScore() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.risk
}

// ShouldFlag reports whether the session must transition to Flagged at
// submit time: either the threshold was crossed or any single
// high-severity violation was recorded.
func (a *ViolationAggregator) ShouldFlag() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.risk >= a.policy.SuspiciousThreshold || a.highSeen
}
