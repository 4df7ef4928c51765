package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/proctor"
)

const subscriberBuffer = 64

// Subscriber receives raw envelope JSON for one attached client. The
// channel is buffered and sends are non-blocking: a slow consumer loses
// events, never stalls the publisher.
type Subscriber struct {
	C chan []byte

	// sessionID is set for student subscribers, who only receive
	// interventions targeted at their session.
	sessionID uuid.UUID
	quizID    uuid.UUID
}

type quizRoom struct {
	instructors map[*Subscriber]struct{}
	students    map[uuid.UUID]*Subscriber
	pubsub      *redis.PubSub
	cancel      context.CancelFunc
}

// Hub is the per-quiz monitoring channel. All events (student progress,
// violations, completions, instructor interventions) flow through one
// Redis pub/sub channel per quiz, so every node fans out the same feed to
// its local subscribers. Reconnection is a plain resubscribe; no history
// is replayed.
//
// Hub implements proctor.Publisher for the session engine.
type Hub struct {
	rdb *redis.Client
	log zerolog.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]*quizRoom
}

// NewHub creates a Hub backed by the given Redis client.
func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		rdb:   rdb,
		log:   log.With().Str("component", "monitor_hub").Logger(),
		rooms: make(map[uuid.UUID]*quizRoom),
	}
}

// ─── Subscriptions ──────────────────────────────────────────────────

// SubscribeInstructor attaches an instructor client to a quiz's feed.
func (h *Hub) SubscribeInstructor(quizID uuid.UUID) *Subscriber {
	sub := &Subscriber{C: make(chan []byte, subscriberBuffer), quizID: quizID}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.roomLocked(quizID)
	room.instructors[sub] = struct{}{}
	return sub
}

// SubscribeStudent attaches a student session so targeted interventions
// reach it. Only one subscriber per session; a reconnect replaces the
// previous one.
func (h *Hub) SubscribeStudent(quizID, sessionID uuid.UUID) *Subscriber {
	sub := &Subscriber{C: make(chan []byte, subscriberBuffer), quizID: quizID, sessionID: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.roomLocked(quizID)
	if old, ok := room.students[sessionID]; ok {
		close(old.C)
	}
	room.students[sessionID] = sub
	return sub
}

// Unsubscribe detaches a subscriber. The last subscriber of a quiz tears
// down the room and its Redis subscription.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sub.quizID]
	if !ok {
		return
	}

	if sub.sessionID != uuid.Nil {
		if current, ok := room.students[sub.sessionID]; ok && current == sub {
			delete(room.students, sub.sessionID)
			close(sub.C)
		}
	} else if _, ok := room.instructors[sub]; ok {
		delete(room.instructors, sub)
		close(sub.C)
	}

	if len(room.instructors) == 0 && len(room.students) == 0 {
		room.cancel()
		_ = room.pubsub.Close()
		delete(h.rooms, sub.quizID)
	}
}

// roomLocked returns the quiz room, creating it and starting its Redis
// subscription on first use. Caller holds h.mu.
func (h *Hub) roomLocked(quizID uuid.UUID) *quizRoom {
	if room, ok := h.rooms[quizID]; ok {
		return room
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.QuizMonitorChannel(quizID.String()))

	room := &quizRoom{
		instructors: make(map[*Subscriber]struct{}),
		students:    make(map[uuid.UUID]*Subscriber),
		pubsub:      pubsub,
		cancel:      cancel,
	}
	h.rooms[quizID] = room

	go h.fanOut(quizID, pubsub)

	h.log.Debug().Str("quiz_id", quizID.String()).Msg("Monitor room opened")
	return room
}

// fanOut pumps the quiz's Redis channel to local subscribers. Instructors
// get everything; students only get interventions addressed to them.
func (h *Hub) fanOut(quizID uuid.UUID, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		payload := []byte(msg.Payload)

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.log.Warn().Err(err).Msg("Discarding malformed monitor event")
			continue
		}

		h.mu.Lock()
		room, ok := h.rooms[quizID]
		if !ok {
			h.mu.Unlock()
			return
		}

		if env.Kind == EventIntervention && env.Intervention != nil {
			if sub, ok := room.students[env.Intervention.SessionID]; ok {
				deliver(sub, payload)
			}
		} else {
			for sub := range room.instructors {
				deliver(sub, payload)
			}
			// Low-time warnings also go to the owning student.
			if env.Kind == EventLowTime {
				if sub, ok := room.students[env.SessionID]; ok {
					deliver(sub, payload)
				}
			}
		}
		h.mu.Unlock()
	}
}

// deliver is a non-blocking send; a full subscriber buffer drops the event.
func deliver(sub *Subscriber, payload []byte) {
	select {
	case sub.C <- payload:
	default:
	}
}

// ─── Publishing (proctor.Publisher) ─────────────────────────────────

func (h *Hub) publish(quizID uuid.UUID, env Envelope) {
	env.QuizID = quizID
	if env.At.IsZero() {
		env.At = time.Now()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Msg("Monitor event marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.rdb.Publish(ctx, config.CacheKey.QuizMonitorChannel(quizID.String()), payload).Err(); err != nil {
		// Best-effort by contract: monitoring must never affect session
		// correctness.
		h.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Monitor publish failed")
	}
}

// PublishProgress implements proctor.Publisher.
func (h *Hub) PublishProgress(quizID uuid.UUID, p proctor.Progress) {
	h.publish(quizID, Envelope{
		Kind:      EventProgress,
		SessionID: p.SessionID,
		Progress:  &p,
	})
}

// PublishViolation implements proctor.Publisher.
func (h *Hub) PublishViolation(quizID uuid.UUID, v model.Violation, riskScore int) {
	h.publish(quizID, Envelope{
		Kind:      EventViolation,
		SessionID: v.SessionID,
		Violation: &v,
		RiskScore: riskScore,
	})
}

// PublishCompleted implements proctor.Publisher.
func (h *Hub) PublishCompleted(quizID, sessionID uuid.UUID, state model.SessionState) {
	h.publish(quizID, Envelope{
		Kind:      EventCompleted,
		SessionID: sessionID,
		State:     string(state),
	})
}

// PublishLowTime implements proctor.Publisher.
func (h *Hub) PublishLowTime(quizID, sessionID uuid.UUID, remaining time.Duration) {
	h.publish(quizID, Envelope{
		Kind:             EventLowTime,
		SessionID:        sessionID,
		RemainingSeconds: remaining.Seconds(),
	})
}

// SendIntervention publishes an instructor intervention onto the quiz
// channel; the node hosting the target session delivers it.
func (h *Hub) SendIntervention(quizID uuid.UUID, iv Intervention) {
	h.publish(quizID, Envelope{
		Kind:         EventIntervention,
		SessionID:    iv.SessionID,
		Intervention: &iv,
	})
}
