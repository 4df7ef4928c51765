package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FlushFunc persists a batch of answers to the session store.
type FlushFunc func(ctx context.Context, answers map[string]string) error

// AutosaveManager buffers answer edits and flushes them on a debounced
// timer or on demand. Every edit lands in the buffer immediately; the
// flush timer is armed only when no flush is already pending, so repeated
// edits never push an elapsed wait further out.
type AutosaveManager struct {
	mu sync.Mutex

	// buffer mirrors the session's full answers map.
	buffer map[string]string
	// dirty holds edits not yet confirmed flushed.
	dirty map[string]string

	interval time.Duration
	timer    *time.Timer
	flush    FlushFunc

	stopped *atomic.Bool
	log     zerolog.Logger
}

func newAutosaveManager(seed map[string]string, interval time.Duration, flush FlushFunc, stopped *atomic.Bool, log zerolog.Logger) *AutosaveManager {
	buffer := make(map[string]string, len(seed))
	for k, v := range seed {
		buffer[k] = v
	}
	return &AutosaveManager{
		buffer:   buffer,
		dirty:    make(map[string]string),
		interval: interval,
		flush:    flush,
		stopped:  stopped,
		log:      log.With().Str("component", "autosave").Logger(),
	}
}

// Set records an answer edit and schedules a debounced flush. The buffer
// update is synchronous; persistence is not.
func (m *AutosaveManager) Set(questionID, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped.Load() {
		return
	}

	m.buffer[questionID] = value
	m.dirty[questionID] = value

	if m.timer == nil {
		m.timer = time.AfterFunc(m.interval, m.backgroundFlush)
	}
}

// Answers returns a copy of the current answer buffer.
func (m *AutosaveManager) Answers() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.buffer))
	for k, v := range m.buffer {
		out[k] = v
	}
	return out
}

// AnsweredCount returns the number of distinct answered questions.
func (m *AutosaveManager) AnsweredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Flush forces an immediate flush of all pending edits, cancelling any
// debounced timer. Errors are returned to the caller: a manual save or a
// submit must see them.
func (m *AutosaveManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	batch := m.snapshotDirtyLocked()
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := m.flush(ctx, batch); err != nil {
		return err
	}

	m.clearFlushed(batch)
	return nil
}

// backgroundFlush is the debounced flush path. Failures are swallowed: the
// dirty set is retained and the timer re-armed, so the next cycle retries.
func (m *AutosaveManager) backgroundFlush() {
	if m.stopped.Load() {
		return
	}

	m.mu.Lock()
	m.timer = nil
	batch := m.snapshotDirtyLocked()
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.flush(ctx, batch); err != nil {
		m.log.Warn().Err(err).Int("pending", len(batch)).Msg("Autosave flush failed, will retry")
		m.rearm()
		return
	}

	m.clearFlushed(batch)
}

func (m *AutosaveManager) rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped.Load() || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.interval, m.backgroundFlush)
}

func (m *AutosaveManager) snapshotDirtyLocked() map[string]string {
	batch := make(map[string]string, len(m.dirty))
	for k, v := range m.dirty {
		batch[k] = v
	}
	return batch
}

// clearFlushed drops flushed entries from the dirty set unless they were
// edited again mid-flight (last write wins).
func (m *AutosaveManager) clearFlushed(batch map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range batch {
		if m.dirty[k] == v {
			delete(m.dirty, k)
		}
	}
}

// stop cancels any pending timer. Buffered edits stay readable so a final
// forced flush can still drain them.
func (m *AutosaveManager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
