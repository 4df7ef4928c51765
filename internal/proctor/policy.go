package proctor

import (
	"time"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/model"
)

// Policy bundles the tunable proctoring constants. Severity weights and the
// suspicious threshold are deliberately configuration, not law: quizzes can
// override the threshold per record, and tests parameterize all of it.
type Policy struct {
	WeightLow    int
	WeightMedium int
	WeightHigh   int

	// SuspiciousThreshold is the risk score at or above which a session is
	// flagged for review at submit time.
	SuspiciousThreshold int

	// DedupWindow collapses same-type violations reported within it into
	// one, absorbing detector jitter.
	DedupWindow time.Duration

	// LowTimeWarning is the remaining time at which the one-shot low-time
	// warning fires.
	LowTimeWarning time.Duration

	// AutosaveInterval is the debounce delay between an answer edit and
	// the background flush it schedules.
	AutosaveInterval time.Duration
}

// DefaultPolicy returns the stock weights and windows.
func DefaultPolicy() Policy {
	return Policy{
		WeightLow:           5,
		WeightMedium:        15,
		WeightHigh:          30,
		SuspiciousThreshold: 70,
		DedupWindow:         2 * time.Second,
		LowTimeWarning:      5 * time.Minute,
		AutosaveInterval:    30 * time.Second,
	}
}

// PolicyFromConfig builds a Policy from application configuration,
// optionally applying a per-quiz threshold override.
func PolicyFromConfig(cfg *config.Config, quizThreshold int) Policy {
	p := DefaultPolicy()
	p.SuspiciousThreshold = cfg.RiskThreshold
	p.DedupWindow = cfg.ViolationDedup
	p.LowTimeWarning = cfg.LowTimeWarning
	p.AutosaveInterval = cfg.AutosaveInterval
	if quizThreshold > 0 {
		p.SuspiciousThreshold = quizThreshold
	}
	return p
}

// Weight maps a severity to its risk contribution.
func (p Policy) Weight(sev model.Severity) int {
	switch sev {
	case model.SeverityLow:
		return p.WeightLow
	case model.SeverityMedium:
		return p.WeightMedium
	case model.SeverityHigh:
		return p.WeightHigh
	}
	return 0
}
