package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/repository"
)

// MonitorService builds the roster snapshot an instructor sees when the
// monitoring dashboard connects, before any live events arrive.
type MonitorService struct {
	sessionRepo   *repository.SessionRepository
	monitorRepo   *repository.MonitorRepository
	violationRepo *repository.ViolationRepository
	studentRepo   *repository.StudentRepository
	log           zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	sessionRepo *repository.SessionRepository,
	monitorRepo *repository.MonitorRepository,
	violationRepo *repository.ViolationRepository,
	studentRepo *repository.StudentRepository,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		sessionRepo:   sessionRepo,
		monitorRepo:   monitorRepo,
		violationRepo: violationRepo,
		studentRepo:   studentRepo,
		log:           log.With().Str("component", "monitor_service").Logger(),
	}
}

// SessionSnapshot is one roster row of the quiz monitoring dashboard.
type SessionSnapshot struct {
	SessionID        uuid.UUID          `json:"session_id"`
	StudentID        int                `json:"student_id"`
	StudentName      string             `json:"student_name"`
	State            model.SessionState `json:"state"`
	AnsweredCount    int64              `json:"answered_count"`
	ViolationCount   int64              `json:"violation_count"`
	RiskScore        int                `json:"risk_score"`
	RemainingSeconds float64            `json:"remaining_seconds"`
}

// QuizSnapshot returns one row per session of the quiz, answered and
// violation counts fetched concurrently. Violation counts are best-effort;
// the roster itself is not.
func (s *MonitorService) QuizSnapshot(ctx context.Context, quizID uuid.UUID) ([]SessionSnapshot, error) {
	sessions, err := s.sessionRepo.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var (
		answeredCounts  map[uuid.UUID]int64
		violationCounts map[uuid.UUID]int64
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, quizID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.violationRepo.CountByQuiz(ctx, quizID)
	}()

	wg.Wait()

	if answeredErr != nil {
		return nil, fmt.Errorf("answered counts: %w", answeredErr)
	}
	if violationErr != nil {
		s.log.Warn().Err(violationErr).Str("quiz_id", quizID.String()).Msg("Violation counts unavailable for snapshot")
		violationCounts = nil
	}

	now := time.Now()
	snapshots := make([]SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		row := SessionSnapshot{
			SessionID:      session.ID,
			StudentID:      session.StudentID,
			State:          session.State,
			AnsweredCount:  answeredCounts[session.ID],
			ViolationCount: violationCounts[session.ID],
			RiskScore:      session.RiskScore,
		}
		if session.State == model.SessionInProgress {
			row.RemainingSeconds = session.Remaining(now).Seconds()
		}
		if student, err := s.studentRepo.GetByID(ctx, session.StudentID); err == nil {
			row.StudentName = student.Name
		}
		snapshots = append(snapshots, row)
	}

	return snapshots, nil
}
