package app_test

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/memory"
)

func intp(v int) *int { return &v }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{Prompt: "q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1, Points: 1},
			{Prompt: "q2", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0, Points: 1},
			{Prompt: "q3", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 2, Points: 2},
			{Prompt: "q4", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 3, Points: 1},
		},
	}
}

type env struct {
	store       *memory.Store
	ledger      *memory.LedgerClient
	quiz        *app.QuizService
	settlement  *app.SettlementService
	leaderboard *app.LeaderboardService
	feed        *app.Feed
}

func newEnv(t *testing.T, confirmTimeout time.Duration) *env {
	t.Helper()
	store := memory.NewStore()
	store.SeedUser(domain.UserAggregate{UserID: "u1", Username: "alice", WalletAddress: "0xa1"})
	store.SeedUser(domain.UserAggregate{UserID: "u2", Username: "bob"})

	quizzes := memory.NewQuizCache(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": testQuiz(),
	}), time.Minute)
	ledger := memory.NewLedgerClient()
	log := testLogger()

	feed := app.NewFeed()
	leaderboard := app.NewLeaderboardService(store, feed, log)
	counter := 0
	quiz := app.NewQuizService(quizzes, store, store, leaderboard, log).
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
			func() string { counter++; return fmt.Sprintf("attempt-%d", counter) })
	settlement := app.NewSettlementService(store, store, ledger, leaderboard, log, 10, confirmTimeout)
	return &env{store: store, ledger: ledger, quiz: quiz, settlement: settlement, leaderboard: leaderboard, feed: feed}
}

func TestSubmitRoundTrip(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	result, err := e.quiz.Submit(ctx, "u1", "quiz-1", domain.AnswerVector{intp(1), intp(3), intp(2), intp(0)}, 42)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 3 || result.TotalQuestions != 4 || result.Percentage != 75.0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	attempt, err := e.store.Find(ctx, result.AttemptID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if attempt.Score != result.Score || attempt.Percentage != result.Percentage || attempt.TotalQuestions != result.TotalQuestions {
		t.Fatalf("stored attempt differs from result: %+v vs %+v", attempt, result)
	}
	if attempt.RewardState != domain.RewardUnrewarded {
		t.Fatalf("fresh attempt must be unrewarded, got %s", attempt.RewardState)
	}
	if attempt.TimeTaken != 42 {
		t.Fatalf("expected elapsed time persisted, got %d", attempt.TimeTaken)
	}
	if len(attempt.Answers) != 4 {
		t.Fatalf("expected graded answers persisted, got %d", len(attempt.Answers))
	}
}

func TestSubmitUnknownUserOrQuiz(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	if _, err := e.quiz.Submit(ctx, "ghost", "quiz-1", nil, 0); err != domain.ErrUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := e.quiz.Submit(ctx, "u1", "ghost-quiz", nil, 0); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestAggregatesAreMonotonic(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	prevScore, prevTaken := 0, 0
	for i := 0; i < 5; i++ {
		if _, err := e.quiz.Submit(ctx, "u1", "quiz-1", domain.AnswerVector{intp(1)}, 0); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		agg, err := e.store.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("get aggregate: %v", err)
		}
		if agg.TotalScore < prevScore || agg.QuizzesTaken <= prevTaken {
			t.Fatalf("aggregate went backwards: %+v", agg)
		}
		prevScore, prevTaken = agg.TotalScore, agg.QuizzesTaken
	}
	if prevTaken != 5 {
		t.Fatalf("expected 5 attempts counted, got %d", prevTaken)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		result, err := e.quiz.Submit(ctx, "u1", "quiz-1", nil, 0)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, result.AttemptID)
	}

	attempts, meta, err := e.quiz.History(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if meta.Total != 3 || meta.Pages != 2 || meta.CurrentPage != 1 || meta.Count != 2 {
		t.Fatalf("unexpected pagination: %+v", meta)
	}
	got := []string{attempts[0].ID, attempts[1].ID}
	want := []string{ids[2], ids[1]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected newest first %v, got %v", want, got)
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	// 75% then 100% (capped) attempts.
	if _, err := e.quiz.Submit(ctx, "u1", "quiz-1", domain.AnswerVector{intp(1), intp(3), intp(2), intp(0)}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.quiz.Submit(ctx, "u1", "quiz-1", domain.AnswerVector{intp(1), intp(0), intp(2), intp(3)}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats, err := e.quiz.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QuizzesTaken != 2 || stats.TotalScore != 8 {
		t.Fatalf("unexpected aggregate stats: %+v", stats)
	}
	if stats.BestScore != 100 {
		t.Fatalf("expected best 100, got %v", stats.BestScore)
	}
	if stats.AverageScore != 87.5 {
		t.Fatalf("expected average 87.5, got %v", stats.AverageScore)
	}
	if len(stats.RecentAttempts) != 2 {
		t.Fatalf("expected 2 recent attempts, got %d", len(stats.RecentAttempts))
	}
}
