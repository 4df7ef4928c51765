package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/proctor"
	"github.com/classpoint/proctor-backend/internal/repository"
)

// Session domain errors.
var (
	ErrAlreadyActiveSession = errors.New("an active session already exists for this quiz")
	ErrRetakeNotAllowed     = errors.New("retakes are not allowed for this quiz")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotSessionOwner      = errors.New("session belongs to another student")
	ErrStateConflict        = errors.New("session is not in a valid state for this operation")
)

// SessionService owns the quiz session lifecycle. It implements
// proctor.Store, so active runtimes write answers, violations, and
// submissions back through it.
type SessionService struct {
	sessionRepo   *repository.SessionRepository
	quizRepo      *repository.QuizRepository
	violationRepo *repository.ViolationRepository
	reviewRepo    *repository.ReviewRepository
	quizService   *QuizService

	rdb      *redis.Client
	registry *proctor.Registry
	pub      proctor.Publisher
	cfg      *config.Config
	log      zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	quizRepo *repository.QuizRepository,
	violationRepo *repository.ViolationRepository,
	reviewRepo *repository.ReviewRepository,
	quizService *QuizService,
	rdb *redis.Client,
	registry *proctor.Registry,
	pub proctor.Publisher,
	cfg *config.Config,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo:   sessionRepo,
		quizRepo:      quizRepo,
		violationRepo: violationRepo,
		reviewRepo:    reviewRepo,
		quizService:   quizService,
		rdb:           rdb,
		registry:      registry,
		pub:           pub,
		cfg:           cfg,
		log:           log.With().Str("component", "session_service").Logger(),
	}
}

// ─── Lifecycle operations ───────────────────────────────────────────

// StartSession creates a new attempt for (student, quiz). Fails with
// ErrAlreadyActiveSession when a non-terminal attempt exists, and with
// ErrRetakeNotAllowed when a finished attempt exists and neither the quiz
// nor a retake_required review permits another one.
//
// Proctored quizzes enter EnvironmentCheck first; the deadline clock does
// not start until the environment is confirmed. Unproctored quizzes go
// straight to InProgress.
func (s *SessionService) StartSession(ctx context.Context, quizID uuid.UUID, studentID int, proctoringData map[string]any) (*model.QuizSession, error) {
	quiz, err := s.quizRepo.GetByID(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	if err := s.quizService.CheckAvailable(quiz, time.Now()); err != nil {
		return nil, err
	}

	if _, err := s.sessionRepo.GetActive(ctx, quizID, studentID); err == nil {
		return nil, ErrAlreadyActiveSession
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	latest, err := s.sessionRepo.GetLatest(ctx, quizID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check previous attempts: %w", err)
	}
	if latest != nil && !s.retakePermitted(ctx, quiz, latest) {
		return nil, ErrRetakeNotAllowed
	}

	session := &model.QuizSession{
		QuizID:          quizID,
		StudentID:       studentID,
		DurationSeconds: quiz.DurationSeconds,
	}

	if quiz.RequireProctoring {
		session.State = model.SessionEnvironmentCheck
	} else {
		now := time.Now()
		session.State = model.SessionInProgress
		session.StartedAt = &now
		session.EnvironmentConfirmedAt = nil
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if len(proctoringData) > 0 {
		s.log.Debug().
			Str("session_id", session.ID.String()).
			Interface("proctoring_data", proctoringData).
			Msg("Proctoring environment data received at start")
	}

	if session.StartedAt != nil {
		if _, err := s.ensureRuntime(ctx, session); err != nil {
			s.log.Error().Err(err).Str("session_id", session.ID.String()).Msg("Runtime attach failed at start")
		}
	}

	return session, nil
}

// ConfirmEnvironment completes the proctoring environment check. For an
// EnvironmentCheck session this is the explicit start: started_at is set
// and the deadline clock begins. For a resumed InProgress session whose
// environment was never confirmed it re-runs setup exactly once without
// touching the original started_at.
func (s *SessionService) ConfirmEnvironment(ctx context.Context, sessionID uuid.UUID, studentID int, proctoringData map[string]any) (*model.QuizSession, error) {
	session, err := s.getOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	switch {
	case session.State == model.SessionEnvironmentCheck:
		if err := s.sessionRepo.MarkInProgress(ctx, sessionID, now); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrStateConflict
			}
			return nil, fmt.Errorf("mark in progress: %w", err)
		}
		session.State = model.SessionInProgress
		session.StartedAt = &now
		session.EnvironmentConfirmedAt = &now

	case session.State == model.SessionInProgress && session.EnvironmentConfirmedAt == nil:
		if err := s.sessionRepo.ConfirmEnvironment(ctx, sessionID, now); err != nil {
			return nil, fmt.Errorf("confirm environment: %w", err)
		}
		session.EnvironmentConfirmedAt = &now

	default:
		return nil, ErrStateConflict
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Interface("proctoring_data", proctoringData).
		Msg("Environment check confirmed")

	if _, err := s.ensureRuntime(ctx, session); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Runtime attach failed after environment check")
	}

	return session, nil
}

// GetState returns what a reloading client needs to resume: the session,
// its saved answers, and the remaining time recomputed from the absolute
// deadline. A session found past its deadline is force-submitted first.
func (s *SessionService) GetState(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.SessionStateView, error) {
	session, err := s.getOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if session.State == model.SessionInProgress && session.Remaining(now) == 0 {
		// Deadline passed while the client was away. The submit path is
		// idempotent, so racing the runtime's own expiry is harmless.
		if rt, err := s.ensureRuntime(ctx, session); err == nil {
			if _, err := rt.Submit(ctx); err != nil {
				s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Forced submit on resume failed")
			}
		}
		session, err = s.getOwned(ctx, sessionID, studentID)
		if err != nil {
			return nil, err
		}
	}

	var answers map[string]string
	if rt := s.registry.Get(sessionID); rt != nil {
		answers = rt.Answers()
	} else {
		answers, err = s.loadAnswers(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	needsEnv := false
	if session.State == model.SessionInProgress && session.EnvironmentConfirmedAt == nil {
		quiz, err := s.quizRepo.GetByID(ctx, session.QuizID)
		if err != nil {
			return nil, fmt.Errorf("get quiz: %w", err)
		}
		needsEnv = quiz.RequireProctoring
	}

	if session.State == model.SessionInProgress && !needsEnv {
		if _, err := s.ensureRuntime(ctx, session); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Runtime attach failed on resume")
		}
	}

	return &model.SessionStateView{
		Session:               session,
		Answers:               answers,
		RemainingSeconds:      session.Remaining(now).Seconds(),
		NeedsEnvironmentCheck: needsEnv,
	}, nil
}

// Runtime returns the live runtime for an owned, in-progress session,
// attaching one from persisted state if this node has none.
func (s *SessionService) Runtime(ctx context.Context, sessionID uuid.UUID, studentID int) (*proctor.Runtime, error) {
	session, err := s.getOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if session.State != model.SessionInProgress {
		return nil, ErrStateConflict
	}
	return s.ensureRuntime(ctx, session)
}

// SaveAnswersForced applies a batch of edits and forces an immediate
// flush. Unlike the debounced autosave path, a flush failure here is
// returned to the caller.
func (s *SessionService) SaveAnswersForced(ctx context.Context, sessionID uuid.UUID, studentID int, answers map[string]string) error {
	rt, err := s.Runtime(ctx, sessionID, studentID)
	if err != nil {
		return err
	}
	for questionID, answer := range answers {
		if err := rt.UpdateAnswer(questionID, answer); err != nil {
			return err
		}
	}
	return rt.SaveNow(ctx)
}

// Submit finalizes an owned session. Idempotent: an already-finalized
// session returns its recorded result.
func (s *SessionService) Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.SubmitResult, error) {
	session, err := s.getOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	if !session.State.Active() {
		return s.recordedResult(ctx, session)
	}
	if session.State == model.SessionEnvironmentCheck {
		return nil, ErrStateConflict
	}

	rt, err := s.ensureRuntime(ctx, session)
	if err != nil {
		return nil, err
	}
	return rt.Submit(ctx)
}

// ReportViolation feeds one proctoring event into the session's
// aggregator and mirrors the updated risk score to PostgreSQL.
func (s *SessionService) ReportViolation(ctx context.Context, sessionID uuid.UUID, studentID int, typ model.ViolationType, sev model.Severity, description string) (int, bool, error) {
	rt, err := s.Runtime(ctx, sessionID, studentID)
	if err != nil {
		return 0, false, err
	}

	_, risk, accepted := rt.ReportViolation(ctx, typ, sev, description)
	if accepted {
		if err := s.sessionRepo.UpdateRiskScore(ctx, sessionID, risk); err != nil {
			// The engine's score is authoritative; the mirror catches up
			// on the next accepted violation or at submit.
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Risk score mirror failed")
		}
	}
	return risk, accepted, nil
}

// Violations returns the persisted violation log for an owned session.
func (s *SessionService) Violations(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	return s.violationRepo.ListBySession(ctx, sessionID)
}

// ─── proctor.Store implementation ───────────────────────────────────

// SaveAnswers writes answers to the Redis hot buffer and queues them for
// durable persistence by the answer worker. Idempotent, last write wins.
func (s *SessionService) SaveAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}

	key := config.CacheKey.SessionAnswersKey(sessionID.String())

	pipe := s.rdb.Pipeline()
	flat := make([]interface{}, 0, len(answers)*2)
	for questionID, answer := range answers {
		flat = append(flat, questionID, answer)

		payload, _ := json.Marshal(map[string]interface{}{
			"session_id":  sessionID.String(),
			"question_id": questionID,
			"answer":      answer,
		})
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	}
	pipe.HSet(ctx, key, flat...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	return nil
}

// RecordViolation queues a violation for durable persistence by the
// violation worker. The append-only log order is preserved by the queue.
func (s *SessionService) RecordViolation(ctx context.Context, v model.Violation) error {
	payload, err := json.Marshal(map[string]interface{}{
		"session_id":  v.SessionID.String(),
		"type":        string(v.Type),
		"severity":    string(v.Severity),
		"description": v.Description,
		"occurred_at": v.OccurredAt.Unix(),
	})
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err()
}

// SubmitSession grades the session in RAM from the cached answer key and
// finalizes it as Submitted or Flagged. Idempotent: when another path
// finalized first, the recorded result is returned unchanged.
func (s *SessionService) SubmitSession(ctx context.Context, sessionID uuid.UUID, riskScore int, flagged bool) (*model.SubmitResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	answers, err := s.loadAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	answerKey, err := s.quizService.GetAnswerKey(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}

	earned, total := grade(answers, answerKey)
	percentage := 0.0
	if total > 0 {
		percentage = float64(earned) / float64(total) * 100
	}

	state := model.SessionSubmitted
	if flagged {
		state = model.SessionFlagged
	}

	submittedAt := time.Now()
	if err := s.sessionRepo.Finalize(ctx, sessionID, state, percentage, riskScore, submittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race: someone already finalized. Return theirs.
			existing, fetchErr := s.sessionRepo.GetByID(ctx, sessionID)
			if fetchErr != nil {
				return nil, fmt.Errorf("session already finalized, fetch failed: %w", fetchErr)
			}
			return s.recordedResult(ctx, existing)
		}
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.registry.Remove(sessionID)

	timeSpent := 0
	if session.StartedAt != nil {
		timeSpent = int(submittedAt.Sub(*session.StartedAt).Seconds())
		if timeSpent > session.DurationSeconds {
			timeSpent = session.DurationSeconds
		}
	}

	return &model.SubmitResult{
		SessionID:        sessionID,
		State:            state,
		Score:            float64(earned),
		TotalPoints:      total,
		Percentage:       percentage,
		TimeSpentSeconds: timeSpent,
	}, nil
}

// ─── Internals ──────────────────────────────────────────────────────

func (s *SessionService) getOwned(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.QuizSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.StudentID != studentID {
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

// retakePermitted reports whether a new attempt may follow the given one.
func (s *SessionService) retakePermitted(ctx context.Context, quiz *model.Quiz, latest *model.QuizSession) bool {
	if quiz.AllowRetakes {
		return true
	}
	if latest.State != model.SessionReviewed {
		return false
	}
	decision, err := s.reviewRepo.GetBySession(ctx, latest.ID)
	if err != nil {
		return false
	}
	return decision.Outcome == model.ReviewRetakeRequired
}

// ensureRuntime returns the node's runtime for the session, building one
// from persisted state when missing. The registry resolves attach races:
// the loser's runtime is discarded before it ever starts a goroutine.
func (s *SessionService) ensureRuntime(ctx context.Context, session *model.QuizSession) (*proctor.Runtime, error) {
	if rt := s.registry.Get(session.ID); rt != nil {
		return rt, nil
	}
	if session.State != model.SessionInProgress || session.StartedAt == nil {
		return nil, proctor.ErrNotInProgress
	}

	quiz, err := s.quizRepo.GetByID(ctx, session.QuizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	saved, err := s.loadAnswers(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	policy := proctor.PolicyFromConfig(s.cfg, quiz.RiskThreshold)
	rt, err := proctor.NewRuntime(*session, saved, policy, s, s.pub, s.log)
	if err != nil {
		return nil, err
	}

	attached := s.registry.Attach(rt)
	if attached == rt {
		rt.Start()
	}
	return attached, nil
}

// loadAnswers reads the session's answers from the Redis hot buffer,
// falling back to PostgreSQL with a self-heal write on a cache miss.
func (s *SessionService) loadAnswers(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())

	answers, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	if len(answers) > 0 {
		return answers, nil
	}

	persisted, err := s.sessionRepo.GetAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load persisted answers: %w", err)
	}

	if len(persisted) > 0 {
		flat := make([]interface{}, 0, len(persisted)*2)
		for k, v := range persisted {
			flat = append(flat, k, v)
		}
		if err := s.rdb.HSet(ctx, key, flat...).Err(); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Answer cache self-heal failed")
		}
	}

	return persisted, nil
}

// recordedResult rebuilds the submit result of an already-finalized
// session. The total comes from the answer key, the same source the
// original grading summed, so repeat submits return identical results.
func (s *SessionService) recordedResult(ctx context.Context, session *model.QuizSession) (*model.SubmitResult, error) {
	if session.State.Active() {
		return nil, ErrStateConflict
	}

	answerKey, err := s.quizService.GetAnswerKey(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, entry := range answerKey {
		total += entry.Points
	}

	percentage := 0.0
	if session.Score != nil {
		percentage = *session.Score
	}

	timeSpent := 0
	if session.StartedAt != nil && session.SubmittedAt != nil {
		timeSpent = int(session.SubmittedAt.Sub(*session.StartedAt).Seconds())
		if timeSpent > session.DurationSeconds {
			timeSpent = session.DurationSeconds
		}
	}

	return &model.SubmitResult{
		SessionID:        session.ID,
		State:            session.State,
		Score:            percentage / 100 * float64(total),
		TotalPoints:      total,
		Percentage:       percentage,
		TimeSpentSeconds: timeSpent,
	}, nil
}

// grade scores answers against the key. Unanswered and wrong answers earn
// nothing; the total always covers every question in the key.
func grade(answers map[string]string, key map[string]AnswerKeyEntry) (earned, total int) {
	for questionID, entry := range key {
		total += entry.Points
		if answer, ok := answers[questionID]; ok && answer == entry.Correct {
			earned += entry.Points
		}
	}
	return earned, total
}
