package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/repository"
)

// Domain errors.
var (
	ErrQuizNotAvailable = errors.New("quiz is not available")
	ErrNoQuestions      = errors.New("quiz has no questions")
)

// AnswerKeyEntry is one graded question in the cached answer key.
type AnswerKeyEntry struct {
	Correct string `json:"correct"`
	Points  int    `json:"points"`
}

// QuizService handles quiz lookups and the Redis hot cache (payload,
// answer key) that the session engine grades from.
type QuizService struct {
	quizRepo *repository.QuizRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewQuizService creates a new QuizService.
func NewQuizService(quizRepo *repository.QuizRepository, rdb *redis.Client, log zerolog.Logger) *QuizService {
	return &QuizService{
		quizRepo: quizRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "quiz_service").Logger(),
	}
}

// GetByID retrieves a quiz by its UUID.
func (s *QuizService) GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	return s.quizRepo.GetByID(ctx, id)
}

// ListAvailable returns all published quizzes for the student lobby.
func (s *QuizService) ListAvailable(ctx context.Context) ([]model.Quiz, error) {
	return s.quizRepo.ListPublished(ctx)
}

// CheckAvailable verifies the quiz is published and inside its scheduled
// window at the given instant.
func (s *QuizService) CheckAvailable(quiz *model.Quiz, now time.Time) error {
	if quiz.Status != model.QuizStatusPublished {
		return ErrQuizNotAvailable
	}
	if quiz.ScheduledStart != nil && now.Before(*quiz.ScheduledStart) {
		return ErrQuizNotAvailable
	}
	if quiz.ScheduledEnd != nil && now.After(*quiz.ScheduledEnd) {
		return ErrQuizNotAvailable
	}
	return nil
}

// GetPayload returns the student-facing quiz payload from Redis, falling
// back to PostgreSQL with a self-heal write.
func (s *QuizService) GetPayload(ctx context.Context, quizID uuid.UUID) (*model.QuizPayload, error) {
	key := config.CacheKey.QuizPayloadKey(quizID.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		payload := &model.QuizPayload{}
		if err := json.Unmarshal([]byte(raw), payload); err == nil {
			return payload, nil
		}
		// Corrupt cache entry: rebuild below.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get quiz payload: %w", err)
	}

	quiz, err := s.quizRepo.GetByID(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	if err := s.WarmQuizCache(ctx, quiz); err != nil {
		return nil, err
	}

	raw, err = s.rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get quiz payload after warm: %w", err)
	}
	payload := &model.QuizPayload{}
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return nil, fmt.Errorf("decode quiz payload: %w", err)
	}
	return payload, nil
}

// GetAnswerKey returns the quiz's grading key (question → correct answer
// and points) from Redis, warming the cache on a miss.
func (s *QuizService) GetAnswerKey(ctx context.Context, quizID uuid.UUID) (map[string]AnswerKeyEntry, error) {
	key := config.CacheKey.QuizAnswerKey(quizID.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		quiz, dbErr := s.quizRepo.GetByID(ctx, quizID)
		if dbErr != nil {
			return nil, fmt.Errorf("get quiz: %w", dbErr)
		}
		if err := s.WarmQuizCache(ctx, quiz); err != nil {
			return nil, err
		}
		raw, err = s.rdb.Get(ctx, key).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	answerKey := make(map[string]AnswerKeyEntry)
	if err := json.Unmarshal([]byte(raw), &answerKey); err != nil {
		return nil, fmt.Errorf("decode answer key: %w", err)
	}
	return answerKey, nil
}

// WarmQuizCache loads a quiz's payload and answer key into Redis. The
// payload never contains correct answers.
func (s *QuizService) WarmQuizCache(ctx context.Context, quiz *model.Quiz) error {
	questions, err := s.quizRepo.ListQuestions(ctx, quiz.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	payload := model.QuizPayload{
		QuizID:            quiz.ID,
		Title:             quiz.Title,
		DurationSeconds:   quiz.DurationSeconds,
		RequireProctoring: quiz.RequireProctoring,
		Questions:         make([]model.QuestionForStudent, 0, len(questions)),
	}
	answerKey := make(map[string]AnswerKeyEntry, len(questions))

	for _, q := range questions {
		payload.Questions = append(payload.Questions, model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			Options:      q.Options,
			Points:       q.Points,
			OrderNum:     q.OrderNum,
		})
		answerKey[q.ID.String()] = AnswerKeyEntry{Correct: q.CorrectAnswer, Points: q.Points}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	keyJSON, err := json.Marshal(answerKey)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	quizID := quiz.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.QuizPayloadKey(quizID), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.QuizAnswerKey(quizID), keyJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}

	return nil
}

// PrewarmAllCaches loads every published quiz into Redis. Called at boot,
// before traffic, to avoid lazy-load stampedes.
func (s *QuizService) PrewarmAllCaches(ctx context.Context) error {
	quizzes, err := s.quizRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}

	warmed := 0
	for i := range quizzes {
		if err := s.WarmQuizCache(ctx, &quizzes[i]); err != nil {
			s.log.Warn().Err(err).Str("quiz_id", quizzes[i].ID.String()).Msg("Prewarm failed for quiz")
			continue
		}
		warmed++
	}

	s.log.Info().Int("count", warmed).Msg("Quiz caches prewarmed")
	return nil
}
