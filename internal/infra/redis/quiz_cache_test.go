package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/memory"
)

func TestQuizCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	cache := NewQuizCache(client, loader, time.Minute)

	quiz, err := cache.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(quiz.Questions) != 1 || quiz.Questions[0].CorrectIndex != 1 {
		t.Fatalf("unexpected quiz: %+v", quiz)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	// Second call should hit cache, loader not incremented.
	_, _ = cache.GetQuiz(context.Background(), "quiz-1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

func TestQuizCacheExpiresInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	cache := NewQuizCache(newClient(mr), loader, time.Minute)

	if _, err := cache.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cache.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}
}

func TestQuizCacheConcurrentMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	quizzes := make(map[string]domain.Quiz)
	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("quiz-%d", i)
		quiz := sampleQuiz()
		quiz.ID = id
		quizzes[id] = quiz
	}
	cache := NewQuizCache(newClient(mr), memory.NewStaticQuizLoader(quizzes), time.Minute)

	// Misses for distinct keys are not serialized by the singleflight
	// group, so their cache fills run concurrently.
	var wg sync.WaitGroup
	errs := make([]error, len(quizzes))
	i := 0
	for id := range quizzes {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = cache.GetQuiz(context.Background(), id)
		}(i, id)
		i++
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("concurrent get: %v", err)
		}
	}
}

func TestQuizCacheMissPropagates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewQuizCache(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)
	if _, err := cache.GetQuiz(context.Background(), "nope"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{Prompt: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectIndex: 1, Points: 1},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
