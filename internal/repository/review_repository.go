package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpoint/proctor-backend/internal/model"
)

// ReviewRepository handles review decision data access.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Insert records a review decision. The unique constraint on session_id
// makes a concurrent double review fail loudly instead of overwriting.
func (r *ReviewRepository) Insert(ctx context.Context, d *model.ReviewDecision) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO reviews (session_id, instructor_id, outcome, notes, score_adjustment, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		d.SessionID, d.InstructorID, d.Outcome, d.Notes, d.ScoreAdjustment, d.DecidedAt,
	).Scan(&d.ID)
}

// GetBySession retrieves the decision recorded for a session, if any.
func (r *ReviewRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.ReviewDecision, error) {
	d := &model.ReviewDecision{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, instructor_id, outcome, notes, score_adjustment, decided_at
		 FROM reviews
		 WHERE session_id = $1`, sessionID,
	).Scan(&d.ID, &d.SessionID, &d.InstructorID, &d.Outcome, &d.Notes, &d.ScoreAdjustment, &d.DecidedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
