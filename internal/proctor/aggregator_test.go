package proctor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoint/proctor-backend/internal/model"
)

type aggFixture struct {
	agg   *ViolationAggregator
	store *fakeStore
	pub   *fakePublisher
	now   time.Time
}

func newAggFixture(t *testing.T, seedRisk int) *aggFixture {
	t.Helper()
	f := &aggFixture{
		store: &fakeStore{},
		pub:   &fakePublisher{},
		now:   time.Now(),
	}
	var stopped atomic.Bool
	f.agg = newViolationAggregator(uuid.New(), uuid.New(), seedRisk, testPolicy(), f.store, f.pub, &stopped, zerolog.Nop())
	f.agg.now = func() time.Time { return f.now }
	return f
}

func (f *aggFixture) report(typ model.ViolationType, sev model.Severity) bool {
	_, ok := f.agg.Report(context.Background(), typ, sev, "")
	return ok
}

func TestAggregatorWeightsAccumulate(t *testing.T) {
	f := newAggFixture(t, 0)

	require.True(t, f.report(model.ViolationWindowBlur, model.SeverityLow))
	assert.Equal(t, 5, f.agg.RiskScore())

	f.now = f.now.Add(3 * time.Second)
	require.True(t, f.report(model.ViolationTabSwitch, model.SeverityMedium))
	assert.Equal(t, 20, f.agg.RiskScore())

	f.now = f.now.Add(3 * time.Second)
	require.True(t, f.report(model.ViolationMultipleFaces, model.SeverityHigh))
	assert.Equal(t, 50, f.agg.RiskScore())

	assert.Equal(t, 3, f.store.storedViolations())
}

func TestAggregatorDedupWindow(t *testing.T) {
	f := newAggFixture(t, 0)

	require.True(t, f.report(model.ViolationTabSwitch, model.SeverityMedium))

	// Same type inside the window collapses into the first report.
	f.now = f.now.Add(time.Second)
	assert.False(t, f.report(model.ViolationTabSwitch, model.SeverityMedium))
	assert.Equal(t, 15, f.agg.RiskScore())
	assert.Equal(t, 1, f.store.storedViolations())

	// A different type is never deduplicated against it.
	assert.True(t, f.report(model.ViolationWindowBlur, model.SeverityLow))

	// The same type is accepted again once the window has passed.
	f.now = f.now.Add(2 * time.Second)
	assert.True(t, f.report(model.ViolationTabSwitch, model.SeverityMedium))
	assert.Equal(t, 35, f.agg.RiskScore())
}

func TestAggregatorRiskClampsAtHundred(t *testing.T) {
	f := newAggFixture(t, 90)

	require.True(t, f.report(model.ViolationMultipleFaces, model.SeverityHigh))
	assert.Equal(t, 100, f.agg.RiskScore())

	f.now = f.now.Add(3 * time.Second)
	require.True(t, f.report(model.ViolationDevtoolsOpen, model.SeverityHigh))
	assert.Equal(t, 100, f.agg.RiskScore())
}

func TestAggregatorShouldFlag(t *testing.T) {
	t.Run("threshold crossed", func(t *testing.T) {
		f := newAggFixture(t, 0)
		for i := 0; i < 5; i++ {
			require.True(t, f.report(model.ViolationTabSwitch, model.SeverityMedium))
			f.now = f.now.Add(3 * time.Second)
		}
		assert.Equal(t, 75, f.agg.RiskScore())
		assert.True(t, f.agg.ShouldFlag())
	})

	t.Run("single high severity flags below threshold", func(t *testing.T) {
		f := newAggFixture(t, 0)
		require.True(t, f.report(model.ViolationMultipleFaces, model.SeverityHigh))
		assert.Equal(t, 30, f.agg.RiskScore())
		assert.True(t, f.agg.ShouldFlag())
	})

	t.Run("low risk does not flag", func(t *testing.T) {
		f := newAggFixture(t, 0)
		require.True(t, f.report(model.ViolationWindowBlur, model.SeverityLow))
		assert.False(t, f.agg.ShouldFlag())
	})
}

func TestAggregatorRejectsUnknownEnums(t *testing.T) {
	f := newAggFixture(t, 0)

	// The violations table CHECK-constrains both enums; an event that
	// cannot be persisted must be rejected, not scored with weight zero
	// and left poisoning the persist queue.
	t.Run("unknown severity", func(t *testing.T) {
		v, ok := f.agg.Report(context.Background(), model.ViolationTabSwitch, model.Severity("banana"), "")
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("unknown type", func(t *testing.T) {
		v, ok := f.agg.Report(context.Background(), model.ViolationType("screaming"), model.SeverityLow, "")
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	assert.Equal(t, 0, f.agg.RiskScore())
	assert.Equal(t, 0, f.store.storedViolations())
	assert.Equal(t, 0, f.pub.violations)
}

func TestAggregatorStoreFailureStillCounts(t *testing.T) {
	f := newAggFixture(t, 0)
	f.store.violationErr = errors.New("pg down")

	// The risk score is engine-authoritative: a persistence hiccup must
	// not undo an accepted violation.
	v, ok := f.agg.Report(context.Background(), model.ViolationTabSwitch, model.SeverityMedium, "switched tab")
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, 15, f.agg.RiskScore())
	assert.Equal(t, 1, f.pub.violations)
}

func TestAggregatorSeedRiskClamped(t *testing.T) {
	f := newAggFixture(t, 250)
	assert.Equal(t, 100, f.agg.RiskScore())

	g := newAggFixture(t, -10)
	assert.Equal(t, 0, g.agg.RiskScore())
}
