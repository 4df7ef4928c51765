package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpoint/proctor-backend/internal/model"
)

// fakeStore records every engine write and lets tests inject failures.
type fakeStore struct {
	mu sync.Mutex

	saveCalls   int
	saveErr     error
	lastAnswers map[string]string

	violations   []model.Violation
	violationErr error

	submitCalls int
	submitErr   error
	lastRisk    int
	lastFlagged bool
}

func (s *fakeStore) SaveAnswers(_ context.Context, _ uuid.UUID, answers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.lastAnswers = answers
	return nil
}

func (s *fakeStore) SubmitSession(_ context.Context, sessionID uuid.UUID, riskScore int, flagged bool) (*model.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submitCalls++
	s.lastRisk = riskScore
	s.lastFlagged = flagged
	state := model.SessionSubmitted
	if flagged {
		state = model.SessionFlagged
	}
	return &model.SubmitResult{
		SessionID:  sessionID,
		State:      state,
		Percentage: 50,
	}, nil
}

func (s *fakeStore) RecordViolation(_ context.Context, v model.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.violationErr != nil {
		return s.violationErr
	}
	s.violations = append(s.violations, v)
	return nil
}

func (s *fakeStore) submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

func (s *fakeStore) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

func (s *fakeStore) storedViolations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.violations)
}

func (s *fakeStore) setSubmitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// fakePublisher counts events per kind.
type fakePublisher struct {
	mu         sync.Mutex
	progress   int
	violations int
	completed  int
	lowTime    int
	lastState  model.SessionState
}

func (p *fakePublisher) PublishProgress(uuid.UUID, Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress++
}

func (p *fakePublisher) PublishViolation(uuid.UUID, model.Violation, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations++
}

func (p *fakePublisher) PublishCompleted(_ uuid.UUID, _ uuid.UUID, state model.SessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.lastState = state
}

func (p *fakePublisher) PublishLowTime(uuid.UUID, uuid.UUID, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowTime++
}

func (p *fakePublisher) completedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// testPolicy keeps timing windows short enough for tests.
func testPolicy() Policy {
	p := DefaultPolicy()
	p.DedupWindow = 2 * time.Second
	p.LowTimeWarning = 50 * time.Millisecond
	p.AutosaveInterval = 20 * time.Millisecond
	return p
}

func inProgressSession(durationSeconds int) model.QuizSession {
	started := time.Now()
	return model.QuizSession{
		ID:              uuid.New(),
		QuizID:          uuid.New(),
		StudentID:       1,
		AttemptNumber:   1,
		State:           model.SessionInProgress,
		StartedAt:       &started,
		DurationSeconds: durationSeconds,
	}
}
