package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviewDecisionApplyTo(t *testing.T) {
	tests := []struct {
		name       string
		outcome    ReviewOutcome
		adjustment int
		score      float64
		want       float64
	}{
		{"accept keeps score", ReviewAccept, 0, 80, 80},
		{"reject zeroes score", ReviewReject, 0, 80, 0},
		{"partial credit subtracts", ReviewPartialCredit, -20, 80, 60},
		{"partial credit adds", ReviewPartialCredit, 15, 80, 95},
		{"partial credit clamps low", ReviewPartialCredit, -100, 30, 0},
		{"partial credit clamps high", ReviewPartialCredit, 50, 80, 100},
		{"retake keeps score", ReviewRetakeRequired, 0, 42.5, 42.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &ReviewDecision{Outcome: tt.outcome, ScoreAdjustment: tt.adjustment}
			assert.Equal(t, tt.want, d.ApplyTo(tt.score))
		})
	}
}

func TestReviewOutcomeValid(t *testing.T) {
	assert.True(t, ReviewAccept.Valid())
	assert.True(t, ReviewRetakeRequired.Valid())
	assert.False(t, ReviewOutcome("appeal").Valid())
}

func TestSessionStateTransitionsHelpers(t *testing.T) {
	assert.True(t, SessionInProgress.Active())
	assert.True(t, SessionEnvironmentCheck.Active())
	assert.False(t, SessionSubmitted.Active())

	assert.True(t, SessionSubmitted.Reviewable())
	assert.True(t, SessionFlagged.Reviewable())
	assert.True(t, SessionUnderReview.Reviewable())
	assert.False(t, SessionInProgress.Reviewable())
	assert.False(t, SessionReviewed.Reviewable())

	assert.True(t, SessionReviewed.Terminal())
	assert.False(t, SessionFlagged.Terminal())
}
