package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// Store is the in-memory implementation of app.AttemptLedger and
// app.UserStore. One mutex covers both maps so the credited transition
// (attempt stamp + balance credit) is atomic, mirroring the single
// transaction the postgres store uses.
type Store struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	order    []string // attempt ids in record order
	users    map[string]domain.UserAggregate
}

func NewStore() *Store {
	return &Store{
		attempts: make(map[string]domain.Attempt),
		users:    make(map[string]domain.UserAggregate),
	}
}

// SeedUser registers a user aggregate, for wiring demos and tests.
func (s *Store) SeedUser(user domain.UserAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
}

func (s *Store) Record(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	s.order = append(s.order, attempt.ID)
	return nil
}

func (s *Store) Find(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Store) ListByUser(_ context.Context, userID string, page, pageSize int) ([]domain.Attempt, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.attemptsByUserLocked(userID)
	total := len(all)
	skip := (page - 1) * pageSize
	if skip >= total {
		return []domain.Attempt{}, total, nil
	}
	end := skip + pageSize
	if end > total {
		end = total
	}
	return all[skip:end], total, nil
}

func (s *Store) AllByUser(_ context.Context, userID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptsByUserLocked(userID), nil
}

// attemptsByUserLocked returns the user's attempts newest first.
func (s *Store) attemptsByUserLocked(userID string) []domain.Attempt {
	var out []domain.Attempt
	for i := len(s.order) - 1; i >= 0; i-- {
		if attempt := s.attempts[s.order[i]]; attempt.UserID == userID {
			out = append(out, attempt)
		}
	}
	return out
}

func (s *Store) BeginSettlement(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	switch attempt.RewardState {
	case domain.RewardUnrewarded, domain.RewardFailed:
		attempt.RewardState = domain.RewardPending
		s.attempts[attemptID] = attempt
		return nil
	default:
		return domain.ErrAlreadySettled
	}
}

func (s *Store) ReleaseSettlement(_ context.Context, attemptID string) error {
	return s.transition(attemptID, domain.RewardPending, func(a *domain.Attempt) {
		a.RewardState = domain.RewardUnrewarded
		a.TxHash = ""
	})
}

func (s *Store) MarkTransferSubmitted(_ context.Context, attemptID, txHash string) error {
	return s.transition(attemptID, domain.RewardPending, func(a *domain.Attempt) {
		a.TxHash = txHash
	})
}

func (s *Store) CompleteSettlement(_ context.Context, attemptID, txHash string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.RewardState != domain.RewardPending {
		return domain.ErrInvalidTransition
	}
	attempt.RewardState = domain.RewardCredited
	attempt.TxHash = txHash
	attempt.RewardedAmount = amount
	s.attempts[attemptID] = attempt

	user := s.users[attempt.UserID]
	user.TokenBalance += amount
	s.users[attempt.UserID] = user
	return nil
}

func (s *Store) FailSettlement(_ context.Context, attemptID string) error {
	return s.transition(attemptID, domain.RewardPending, func(a *domain.Attempt) {
		a.RewardState = domain.RewardFailed
		a.TxHash = ""
	})
}

func (s *Store) transition(attemptID string, from domain.RewardState, apply func(*domain.Attempt)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.RewardState != from {
		return domain.ErrInvalidTransition
	}
	apply(&attempt)
	s.attempts[attemptID] = attempt
	return nil
}

func (s *Store) Get(_ context.Context, userID string) (domain.UserAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.UserAggregate{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) OnAttemptCompleted(_ context.Context, userID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.TotalScore += score
	user.QuizzesTaken++
	s.users[userID] = user
	return nil
}

func (s *Store) Page(_ context.Context, key domain.SortKey, page, pageSize int) ([]domain.UserAggregate, int, error) {
	s.mu.RLock()
	aggregates := make([]domain.UserAggregate, 0, len(s.users))
	for _, user := range s.users {
		aggregates = append(aggregates, user)
	}
	s.mu.RUnlock()

	sort.Slice(aggregates, func(i, j int) bool {
		vi, vj := app.SortValue(aggregates[i], key), app.SortValue(aggregates[j], key)
		if vi != vj {
			return vi > vj
		}
		return aggregates[i].UserID < aggregates[j].UserID
	})

	total := len(aggregates)
	skip := (page - 1) * pageSize
	if skip >= total {
		return []domain.UserAggregate{}, total, nil
	}
	end := skip + pageSize
	if end > total {
		end = total
	}
	return aggregates[skip:end], total, nil
}

func (s *Store) CountGreater(_ context.Context, key domain.SortKey, value int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, user := range s.users {
		if app.SortValue(user, key) > value {
			count++
		}
	}
	return count, nil
}
