package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpoint/proctor-backend/internal/model"
)

// ViolationRepository handles the append-only violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Insert appends a single violation.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.Violation) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO violations (session_id, type, severity, description, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		v.SessionID, v.Type, v.Severity, v.Description, v.OccurredAt,
	).Scan(&v.ID)
}

// BatchInsert appends a batch of violations via COPY. Used by the
// persistence worker's fast path.
func (r *ViolationRepository) BatchInsert(ctx context.Context, batch []*model.Violation) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []interface{}{
			v.SessionID, v.Type, v.Severity, v.Description, v.OccurredAt,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violations"},
		[]string{"session_id", "type", "severity", "description", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListBySession retrieves a session's violations in occurrence order.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, type, severity, description, occurred_at
		 FROM violations
		 WHERE session_id = $1
		 ORDER BY occurred_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &v.Severity, &v.Description, &v.OccurredAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// CountByQuiz returns the violation count per session for every session of
// the given quiz.
func (r *ViolationRepository) CountByQuiz(ctx context.Context, quizID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.session_id, COUNT(*)
		 FROM violations v
		 JOIN quiz_sessions qs ON v.session_id = qs.id
		 WHERE qs.quiz_id = $1
		 GROUP BY v.session_id`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var sid uuid.UUID
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}
