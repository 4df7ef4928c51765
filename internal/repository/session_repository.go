package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpoint/proctor-backend/internal/model"
)

// SessionRepository handles quiz session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, quiz_id, student_id, attempt_number, state, started_at,
	duration_seconds, environment_confirmed_at, risk_score, submitted_at, score,
	final_score, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.QuizSession, error) {
	s := &model.QuizSession{}
	err := row.Scan(
		&s.ID, &s.QuizID, &s.StudentID, &s.AttemptNumber, &s.State, &s.StartedAt,
		&s.DurationSeconds, &s.EnvironmentConfirmedAt, &s.RiskScore, &s.SubmittedAt,
		&s.Score, &s.FinalScore, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QuizSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetActive retrieves the non-terminal, non-submitted session for a
// (quiz, student) pair, if one exists.
func (r *SessionRepository) GetActive(ctx context.Context, quizID uuid.UUID, studentID int) (*model.QuizSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions
		 WHERE quiz_id = $1 AND student_id = $2
		   AND state IN ('NOT_STARTED', 'ENVIRONMENT_CHECK', 'IN_PROGRESS')
		 ORDER BY attempt_number DESC
		 LIMIT 1`, quizID, studentID)
	return scanSession(row)
}

// GetLatest retrieves the most recent session (any state) for a
// (quiz, student) pair.
func (r *SessionRepository) GetLatest(ctx context.Context, quizID uuid.UUID, studentID int) (*model.QuizSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions
		 WHERE quiz_id = $1 AND student_id = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`, quizID, studentID)
	return scanSession(row)
}

// Create inserts a new session. The attempt number is derived inside the
// insert so concurrent starts cannot collide on the
// (quiz_id, student_id, attempt_number) uniqueness constraint.
func (r *SessionRepository) Create(ctx context.Context, s *model.QuizSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO quiz_sessions (quiz_id, student_id, attempt_number, state, started_at, duration_seconds, environment_confirmed_at)
		 SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, $3, $4, $5, $6
		 FROM quiz_sessions
		 WHERE quiz_id = $1 AND student_id = $2
		 RETURNING id, attempt_number, created_at, updated_at`,
		s.QuizID, s.StudentID, s.State, s.StartedAt, s.DurationSeconds, s.EnvironmentConfirmedAt,
	).Scan(&s.ID, &s.AttemptNumber, &s.CreatedAt, &s.UpdatedAt)
}

// MarkInProgress transitions a session out of the environment check:
// started_at is recorded exactly once and is immutable afterwards.
func (r *SessionRepository) MarkInProgress(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET state = $1, started_at = COALESCE(started_at, $2),
		     environment_confirmed_at = $2, updated_at = NOW()
		 WHERE id = $3 AND state IN ('NOT_STARTED', 'ENVIRONMENT_CHECK')`,
		model.SessionInProgress, startedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ConfirmEnvironment stamps the environment check on a session that is
// already running, used for resumed sessions that never confirmed it.
func (r *SessionRepository) ConfirmEnvironment(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET environment_confirmed_at = $1, updated_at = NOW()
		 WHERE id = $2 AND environment_confirmed_at IS NULL`,
		at, id)
	return err
}

// UpdateRiskScore raises a session's persisted risk score. The GREATEST
// keeps the score monotone even if updates arrive out of order.
func (r *SessionRepository) UpdateRiskScore(ctx context.Context, id uuid.UUID, riskScore int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET risk_score = GREATEST(risk_score, $1), updated_at = NOW()
		 WHERE id = $2 AND state = 'IN_PROGRESS'`,
		riskScore, id)
	return err
}

// Finalize transitions an in-progress session to Submitted or Flagged with
// its graded score. Returns pgx.ErrNoRows when the session was already
// finalized; callers treat that as "read the existing result" for
// idempotency.
func (r *SessionRepository) Finalize(ctx context.Context, id uuid.UUID, state model.SessionState, score float64, riskScore int, submittedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET state = $1, score = $2, final_score = $2,
		     risk_score = GREATEST(risk_score, $3),
		     submitted_at = $4, updated_at = NOW()
		 WHERE id = $5 AND state IN ('ENVIRONMENT_CHECK', 'IN_PROGRESS')`,
		state, score, riskScore, submittedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkUnderReview applies a manual instructor flag to a reviewable session.
func (r *SessionRepository) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET state = $1, updated_at = NOW()
		 WHERE id = $2 AND state IN ('SUBMITTED', 'FLAGGED')`,
		model.SessionUnderReview, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FinalizeReview records the reviewed final score and moves the session to
// its terminal state. Guarded on reviewable states so a concurrent second
// review cannot overwrite the first.
func (r *SessionRepository) FinalizeReview(ctx context.Context, id uuid.UUID, finalScore float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET state = $1, final_score = $2, updated_at = NOW()
		 WHERE id = $3 AND state IN ('SUBMITTED', 'FLAGGED', 'UNDER_REVIEW')`,
		model.SessionReviewed, finalScore, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListForReview retrieves the review queue for a classroom: reviewed-able
// sessions joined with student and quiz metadata plus violation counts.
func (r *SessionRepository) ListForReview(ctx context.Context, classroomID int, filters model.ReviewQueueFilters) ([]model.ReviewQueueEntry, error) {
	baseQuery := `
		FROM quiz_sessions qs
		JOIN students st ON qs.student_id = st.id
		JOIN quizzes q ON qs.quiz_id = q.id
		WHERE q.classroom_id = $1
		  AND qs.state IN ('SUBMITTED', 'FLAGGED', 'UNDER_REVIEW')
	`
	args := []any{classroomID}

	if filters.QuizID != nil {
		args = append(args, *filters.QuizID)
		baseQuery += fmt.Sprintf(" AND qs.quiz_id = $%d", len(args))
	}
	if filters.State != nil {
		args = append(args, *filters.State)
		baseQuery += fmt.Sprintf(" AND qs.state = $%d", len(args))
	}
	if filters.MinRiskScore != nil {
		args = append(args, *filters.MinRiskScore)
		baseQuery += fmt.Sprintf(" AND qs.risk_score >= $%d", len(args))
	}

	query := `
		SELECT qs.id, qs.quiz_id, qs.student_id, qs.attempt_number, qs.state,
		       qs.started_at, qs.duration_seconds, qs.environment_confirmed_at,
		       qs.risk_score, qs.submitted_at, qs.score, qs.final_score,
		       qs.created_at, qs.updated_at,
		       st.name, q.title,
		       (SELECT COUNT(*) FROM violations v WHERE v.session_id = qs.id)
		` + baseQuery + `
		ORDER BY qs.risk_score DESC, qs.submitted_at ASC
	`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ReviewQueueEntry
	for rows.Next() {
		var e model.ReviewQueueEntry
		s := &e.Session
		if err := rows.Scan(
			&s.ID, &s.QuizID, &s.StudentID, &s.AttemptNumber, &s.State,
			&s.StartedAt, &s.DurationSeconds, &s.EnvironmentConfirmedAt,
			&s.RiskScore, &s.SubmittedAt, &s.Score, &s.FinalScore,
			&s.CreatedAt, &s.UpdatedAt,
			&e.StudentName, &e.QuizTitle, &e.Violations,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByQuiz retrieves every session of a quiz, for the monitor roster.
func (r *SessionRepository) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.QuizSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions
		 WHERE quiz_id = $1
		 ORDER BY created_at ASC`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.QuizSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetAnswers retrieves all persisted answers of a session.
func (r *SessionRepository) GetAnswers(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM session_answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		// question_id is TEXT: clients may save under ids that are not
		// UUIDs, and a saved key must round-trip unchanged.
		var questionID, answer string
		if err := rows.Scan(&questionID, &answer); err != nil {
			return nil, err
		}
		answers[questionID] = answer
	}
	return answers, rows.Err()
}
