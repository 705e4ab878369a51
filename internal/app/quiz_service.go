package app

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptLedger is the durable record of graded attempts and the only
// surface through which reward states change. Every transition method is a
// compare-and-set: it succeeds for exactly one caller when racing.
type AttemptLedger interface {
	Record(ctx context.Context, attempt domain.Attempt) error
	Find(ctx context.Context, attemptID string) (domain.Attempt, error)
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Attempt, int, error)
	AllByUser(ctx context.Context, userID string) ([]domain.Attempt, error)

	// BeginSettlement moves unrewarded (or failed, on an explicit retry)
	// to pending. Returns domain.ErrAlreadySettled when the attempt is
	// already pending or credited.
	BeginSettlement(ctx context.Context, attemptID string) error
	// ReleaseSettlement undoes a pending reservation when no transfer was
	// ever submitted, returning the attempt to unrewarded.
	ReleaseSettlement(ctx context.Context, attemptID string) error
	// MarkTransferSubmitted stores the in-flight transaction hash on a
	// pending attempt so reconciliation can look it up after a crash.
	MarkTransferSubmitted(ctx context.Context, attemptID, txHash string) error
	// CompleteSettlement moves pending to credited, stamping the attempt
	// with the transaction hash and amount and crediting the user's token
	// balance. Both writes land atomically or not at all.
	CompleteSettlement(ctx context.Context, attemptID, txHash string, amount int64) error
	// FailSettlement moves pending to failed, clearing any pending hash.
	FailSettlement(ctx context.Context, attemptID string) error
}

// UserStore reads and mutates user aggregates. OnAttemptCompleted is the
// only path that grows totalScore/quizzesTaken; token balance grows only
// through AttemptLedger.CompleteSettlement.
type UserStore interface {
	Get(ctx context.Context, userID string) (domain.UserAggregate, error)
	OnAttemptCompleted(ctx context.Context, userID string, score int) error
	Page(ctx context.Context, key domain.SortKey, page, pageSize int) ([]domain.UserAggregate, int, error)
	CountGreater(ctx context.Context, key domain.SortKey, value int64) (int, error)
}

// Notifier is poked after any aggregate change so live leaderboard
// subscribers see fresh standings.
type Notifier interface {
	Broadcast(ctx context.Context)
}

// SubmissionResult is what the submission entry point returns.
type SubmissionResult struct {
	AttemptID      string  `json:"attemptId"`
	Score          int     `json:"score"`
	TotalQuestions int     `json:"totalQuestions"`
	Percentage     float64 `json:"percentage"`
	CorrectAnswers int     `json:"correctAnswers"`
	TimeTaken      int     `json:"timeTaken"`
}

// PageMeta carries pagination metadata for list endpoints.
type PageMeta struct {
	Count       int `json:"count"`
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"currentPage"`
}

// UserStats summarizes a user's quiz record.
type UserStats struct {
	TotalScore     int              `json:"totalScore"`
	QuizzesTaken   int              `json:"quizzesTaken"`
	TokenBalance   int64            `json:"tokenBalance"`
	AverageScore   float64          `json:"averageScore"`
	BestScore      float64          `json:"bestScore"`
	RecentAttempts []domain.Attempt `json:"recentAttempts"`
}

// QuizService owns the submission use case: grade, record, update aggregates.
type QuizService struct {
	quizzes  QuizRepository
	attempts AttemptLedger
	users    UserStore
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
	newID    func() string
}

func NewQuizService(quizzes QuizRepository, attempts AttemptLedger, users UserStore, notifier Notifier, log *logrus.Entry) *QuizService {
	return &QuizService{
		quizzes:  quizzes,
		attempts: attempts,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps and IDs.
func (s *QuizService) WithClock(now func() time.Time, newID func() string) *QuizService {
	s.now = now
	s.newID = newID
	return s
}

// Submit grades an answer vector and records the attempt. Scoring and
// reward settlement are decoupled failure domains: a submission succeeds
// whether or not the user ever connects a wallet.
func (s *QuizService) Submit(ctx context.Context, userID, quizID string, answers domain.AnswerVector, timeTaken int) (SubmissionResult, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return SubmissionResult{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return SubmissionResult{}, err
	}

	graded := Grade(quiz, answers)
	attempt := domain.Attempt{
		ID:             s.newID(),
		UserID:         userID,
		QuizID:         quizID,
		Answers:        graded.Answers,
		Score:          graded.Score,
		TotalQuestions: graded.TotalQuestions,
		Percentage:     graded.Percentage,
		TimeTaken:      timeTaken,
		RewardState:    domain.RewardUnrewarded,
		CompletedAt:    s.now(),
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		return SubmissionResult{}, err
	}
	if err := s.users.OnAttemptCompleted(ctx, userID, graded.Score); err != nil {
		return SubmissionResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"user_id":    userID,
		"quiz_id":    quizID,
		"score":      graded.Score,
	}).Info("attempt recorded")

	if s.notifier != nil {
		s.notifier.Broadcast(ctx)
	}
	return SubmissionResult{
		AttemptID:      attempt.ID,
		Score:          graded.Score,
		TotalQuestions: graded.TotalQuestions,
		Percentage:     graded.Percentage,
		CorrectAnswers: graded.CorrectCount,
		TimeTaken:      timeTaken,
	}, nil
}

// History returns a user's attempts, newest first.
func (s *QuizService) History(ctx context.Context, userID string, page, pageSize int) ([]domain.Attempt, PageMeta, error) {
	page, pageSize = normalizePage(page, pageSize)
	attempts, total, err := s.attempts.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, PageMeta{}, err
	}
	return attempts, PageMeta{
		Count:       len(attempts),
		Total:       total,
		Pages:       totalPages(total, pageSize),
		CurrentPage: page,
	}, nil
}

// Stats derives average/best percentages and recent attempts for a user.
func (s *QuizService) Stats(ctx context.Context, userID string) (UserStats, error) {
	agg, err := s.users.Get(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	attempts, err := s.attempts.AllByUser(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}

	stats := UserStats{
		TotalScore:   agg.TotalScore,
		QuizzesTaken: agg.QuizzesTaken,
		TokenBalance: agg.TokenBalance,
	}
	if len(attempts) > 0 {
		var sum float64
		for _, a := range attempts {
			sum += a.Percentage
			if a.Percentage > stats.BestScore {
				stats.BestScore = a.Percentage
			}
		}
		stats.AverageScore = sum / float64(len(attempts))
		recent := len(attempts)
		if recent > 5 {
			recent = 5
		}
		stats.RecentAttempts = attempts[:recent]
	}
	return stats, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
