package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoint/proctor-backend/internal/model"
)

type runtimeFixture struct {
	rt    *Runtime
	store *fakeStore
	pub   *fakePublisher
}

func newRuntimeFixture(t *testing.T, session model.QuizSession, saved map[string]string, opts ...RuntimeOption) *runtimeFixture {
	t.Helper()
	f := &runtimeFixture{store: &fakeStore{}, pub: &fakePublisher{}}

	rt, err := NewRuntime(session, saved, testPolicy(), f.store, f.pub, zerolog.Nop(), opts...)
	require.NoError(t, err)
	f.rt = rt
	t.Cleanup(rt.Close)
	return f
}

func TestNewRuntimeRejectsNonRunnableSessions(t *testing.T) {
	session := inProgressSession(3600)
	session.State = model.SessionSubmitted
	_, err := NewRuntime(session, nil, testPolicy(), &fakeStore{}, &fakePublisher{}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNotInProgress)

	session = inProgressSession(3600)
	session.StartedAt = nil
	_, err = NewRuntime(session, nil, testPolicy(), &fakeStore{}, &fakePublisher{}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestRuntimeSaveNowFlushesBuffer(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), map[string]string{"q1": "A"})

	require.NoError(t, f.rt.UpdateAnswer("q2", "B"))
	require.NoError(t, f.rt.SaveNow(context.Background()))

	assert.Equal(t, map[string]string{"q2": "B"}, f.store.lastAnswers)
	assert.Equal(t, map[string]string{"q1": "A", "q2": "B"}, f.rt.Answers())
}

func TestRuntimeSubmitExactlyOnceUnderRace(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), nil)

	require.NoError(t, f.rt.UpdateAnswer("q1", "A"))

	// Manual submit and deadline expiry race through the same path; the
	// store must see exactly one submission no matter how many callers.
	var wg sync.WaitGroup
	results := make([]*model.SubmitResult, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.rt.Submit(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.store.submitted())
	for _, res := range results {
		assert.Same(t, results[0], res, "repeat submits must return the recorded result")
	}
	assert.True(t, f.rt.Submitted())
	assert.Equal(t, 1, f.pub.completedCount())
}

func TestRuntimeSubmitFlagsOnHighRisk(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), nil)

	_, risk, ok := f.rt.ReportViolation(context.Background(), model.ViolationMultipleFaces, model.SeverityHigh, "second face")
	require.True(t, ok)
	assert.Equal(t, 30, risk)

	res, err := f.rt.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SessionFlagged, res.State)
	assert.True(t, f.store.lastFlagged)
	assert.Equal(t, 30, f.store.lastRisk)
}

func TestRuntimeSubmitFailureLeavesRuntimeLive(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), nil)
	f.store.setSubmitErr(errors.New("pg down"))

	_, err := f.rt.Submit(context.Background())
	require.Error(t, err)
	assert.False(t, f.rt.Submitted())

	// The session is still editable and a retried submit succeeds.
	require.NoError(t, f.rt.UpdateAnswer("q1", "A"))
	f.store.setSubmitErr(nil)

	res, err := f.rt.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SessionSubmitted, res.State)
	assert.Equal(t, "A", f.store.lastAnswers["q1"])
}

func TestRuntimeRejectsEditsAfterSubmit(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), nil)

	_, err := f.rt.Submit(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, f.rt.UpdateAnswer("q1", "A"), ErrStopped)
	require.ErrorIs(t, f.rt.SaveNow(context.Background()), ErrStopped)

	_, _, ok := f.rt.ReportViolation(context.Background(), model.ViolationTabSwitch, model.SeverityMedium, "")
	assert.False(t, ok)
}

func TestRuntimeDeadlineExpiryAutoSubmits(t *testing.T) {
	// Deadline already behind the first tick: the clock force-submits.
	session := inProgressSession(1)
	past := time.Now().Add(-2 * time.Second)
	session.StartedAt = &past

	f := newRuntimeFixture(t, session, map[string]string{"q1": "A"}, WithTickInterval(5*time.Millisecond))
	f.rt.Start()

	require.Eventually(t, func() bool { return f.rt.Submitted() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.submitted())

	// A late manual submit returns the recorded result without a second
	// store call.
	res, err := f.rt.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SessionSubmitted, res.State)
	assert.Equal(t, 1, f.store.submitted())
}

func TestRuntimeCloseFlushesWithoutSubmitting(t *testing.T) {
	f := newRuntimeFixture(t, inProgressSession(3600), nil)

	require.NoError(t, f.rt.UpdateAnswer("q1", "A"))
	f.rt.Close()

	assert.Equal(t, "A", f.store.lastAnswers["q1"])
	assert.Equal(t, 0, f.store.submitted())
	assert.False(t, f.rt.Submitted())
}

func TestRegistryAttachPrefersExisting(t *testing.T) {
	reg := NewRegistry()
	session := inProgressSession(3600)

	first, err := NewRuntime(session, nil, testPolicy(), &fakeStore{}, &fakePublisher{}, zerolog.Nop())
	require.NoError(t, err)
	second, err := NewRuntime(session, nil, testPolicy(), &fakeStore{}, &fakePublisher{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Same(t, first, reg.Attach(first))
	// A reconnect builds a fresh runtime but the registered one wins.
	assert.Same(t, first, reg.Attach(second))
	assert.Same(t, first, reg.Get(session.ID))

	reg.Remove(session.ID)
	assert.Nil(t, reg.Get(session.ID))

	reg.Attach(first)
	reg.CloseAll()
	assert.Nil(t, reg.Get(session.ID))
}
