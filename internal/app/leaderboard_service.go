package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/domain"
)

// LeaderboardService derives rank ordering from user aggregates at read
// time. There is no stored rank column: position is a pure function of the
// current aggregate snapshot, which sidesteps update-ordering bugs entirely.
type LeaderboardService struct {
	users UserStore
	feed  *Feed
	log   *logrus.Entry
	now   func() time.Time
}

func NewLeaderboardService(users UserStore, feed *Feed, log *logrus.Entry) *LeaderboardService {
	return &LeaderboardService{users: users, feed: feed, log: log, now: time.Now}
}

// WithClock is test-only for deterministic snapshot timestamps.
func (s *LeaderboardService) WithClock(now func() time.Time) *LeaderboardService {
	s.now = now
	return s
}

// Rank returns one page of the leaderboard ordered by the sort key with
// user id as tiebreak, so pagination is deterministic across pages.
// Positions are dense over the full ordering: the first row of page p is
// (p-1)*pageSize + 1.
func (s *LeaderboardService) Rank(ctx context.Context, key domain.SortKey, page, pageSize int) (domain.Leaderboard, error) {
	page, pageSize = normalizePage(page, pageSize)
	aggregates, total, err := s.users.Page(ctx, key, page, pageSize)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	skip := (page - 1) * pageSize
	entries := make([]domain.LeaderboardEntry, 0, len(aggregates))
	for i, agg := range aggregates {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:         skip + i + 1,
			UserID:       agg.UserID,
			Username:     agg.Username,
			TotalScore:   agg.TotalScore,
			QuizzesTaken: agg.QuizzesTaken,
			TokenBalance: agg.TokenBalance,
		})
	}
	return domain.Leaderboard{
		Entries:     entries,
		CurrentPage: page,
		TotalPages:  totalPages(total, pageSize),
		TotalCount:  total,
		UpdatedAt:   s.now(),
	}, nil
}

// RankOf computes a single user's rank as count(strictly greater) + 1.
// Users with exactly equal values share a rank; any other tie handling is
// deliberately out of scope.
func (s *LeaderboardService) RankOf(ctx context.Context, userID string, key domain.SortKey) (int, domain.UserAggregate, error) {
	agg, err := s.users.Get(ctx, userID)
	if err != nil {
		return 0, domain.UserAggregate{}, err
	}
	greater, err := s.users.CountGreater(ctx, key, SortValue(agg, key))
	if err != nil {
		return 0, domain.UserAggregate{}, err
	}
	return greater + 1, agg, nil
}

// Broadcast pushes a fresh first-page snapshot to live subscribers.
func (s *LeaderboardService) Broadcast(ctx context.Context) {
	if s.feed == nil {
		return
	}
	lb, err := s.Rank(ctx, domain.SortByTotalScore, 1, 10)
	if err != nil {
		s.log.WithError(err).Warn("leaderboard snapshot for broadcast")
		return
	}
	s.feed.Publish(lb)
}

// SortValue extracts the numeric field a sort key refers to.
func SortValue(agg domain.UserAggregate, key domain.SortKey) int64 {
	switch key {
	case domain.SortByQuizzesTaken:
		return int64(agg.QuizzesTaken)
	case domain.SortByTokenBalance:
		return agg.TokenBalance
	default:
		return int64(agg.TotalScore)
	}
}
