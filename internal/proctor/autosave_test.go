package proctor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFlush captures each flushed batch and can fail on demand.
type recordingFlush struct {
	mu      sync.Mutex
	batches []map[string]string
	err     error
}

func (f *recordingFlush) fn(_ context.Context, answers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	batch := make(map[string]string, len(answers))
	for k, v := range answers {
		batch[k] = v
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *recordingFlush) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *recordingFlush) last() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func (f *recordingFlush) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestAutosave(seed map[string]string, interval time.Duration, flush *recordingFlush) (*AutosaveManager, *atomic.Bool) {
	var stopped atomic.Bool
	m := newAutosaveManager(seed, interval, flush.fn, &stopped, zerolog.Nop())
	return m, &stopped
}

func TestAutosaveSeedsFromSavedAnswers(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(map[string]string{"q1": "A"}, time.Minute, flush)

	assert.Equal(t, map[string]string{"q1": "A"}, m.Answers())
	assert.Equal(t, 1, m.AnsweredCount())

	// Seeded answers are already persisted, so nothing is dirty.
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 0, flush.count())
}

func TestAutosaveDebouncesIntoOneFlush(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(nil, 40*time.Millisecond, flush)

	// Edits inside one debounce window must coalesce; a later edit does
	// not push the already-armed timer further out.
	m.Set("q1", "A")
	time.Sleep(10 * time.Millisecond)
	m.Set("q2", "B")
	m.Set("q1", "C")

	require.Eventually(t, func() bool { return flush.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]string{"q1": "C", "q2": "B"}, flush.last())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, flush.count(), "no timer should remain armed after a clean flush")
}

func TestAutosaveForcedFlushCancelsTimer(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(nil, 40*time.Millisecond, flush)

	m.Set("q1", "A")
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 1, flush.count())

	// The debounced flush for the same edit must not fire again.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, flush.count())
}

func TestAutosaveForcedFlushSurfacesError(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(nil, time.Minute, flush)

	flushErr := errors.New("redis down")
	flush.setErr(flushErr)

	m.Set("q1", "A")
	require.ErrorIs(t, m.Flush(context.Background()), flushErr)

	// The dirty set survives the failure so a retry delivers the edit.
	flush.setErr(nil)
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, map[string]string{"q1": "A"}, flush.last())
}

func TestAutosaveBackgroundFailureRetries(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(nil, 20*time.Millisecond, flush)

	flush.setErr(errors.New("redis down"))
	m.Set("q1", "A")

	// Let at least one background flush fail, then recover.
	time.Sleep(30 * time.Millisecond)
	flush.setErr(nil)

	require.Eventually(t, func() bool { return flush.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]string{"q1": "A"}, flush.last())
}

func TestAutosaveMidFlightEditWins(t *testing.T) {
	flush := &recordingFlush{}
	m, _ := newTestAutosave(nil, time.Minute, flush)

	m.Set("q1", "A")
	m.mu.Lock()
	batch := m.snapshotDirtyLocked()
	m.mu.Unlock()

	// An edit landing while the batch is in flight must stay dirty.
	m.Set("q1", "B")
	m.clearFlushed(batch)

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, map[string]string{"q1": "B"}, flush.last())
}

func TestAutosaveStoppedGuardDropsEdits(t *testing.T) {
	flush := &recordingFlush{}
	m, stopped := newTestAutosave(nil, time.Minute, flush)

	stopped.Store(true)
	m.Set("q1", "A")

	assert.Equal(t, 0, m.AnsweredCount())
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 0, flush.count())
}
