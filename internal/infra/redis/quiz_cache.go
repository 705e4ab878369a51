package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-reward-service/internal/domain"
)

// QuizLoader fetches quiz definitions from the backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache caches whole quiz definitions in Redis as JSON, one key per
// quiz, falling back to the loader on a miss. The full definition is cached
// (not just answers) because grading needs option counts and point values.
type QuizCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := c.key(quizID)

	if quiz, ok := c.fromCache(ctx, key); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key.
		if quiz, ok := c.fromCache(ctx, key); ok {
			return quiz, nil
		}

		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		if raw, err := json.Marshal(quiz); err == nil {
			// Cache write is best-effort; a failed SET just means the
			// next read goes back to the loader.
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) fromCache(ctx context.Context, key string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:" + quizID + ":definition"
}

// up to 10% jitter to spread expirations; misses for different quizzes run
// concurrently, so this uses the locked package-level source
func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
