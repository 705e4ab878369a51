package app_test

import (
	"context"
	"reflect"
	"testing"

	"quiz-reward-service/internal/domain"
)

func seedAggregates(e *env) {
	e.store.SeedUser(domain.UserAggregate{UserID: "u3", Username: "carol", TotalScore: 30, QuizzesTaken: 3, TokenBalance: 300})
	e.store.SeedUser(domain.UserAggregate{UserID: "u4", Username: "dave", TotalScore: 30, QuizzesTaken: 9, TokenBalance: 100})
	e.store.SeedUser(domain.UserAggregate{UserID: "u5", Username: "erin", TotalScore: 50, QuizzesTaken: 1, TokenBalance: 0})
}

func rankedIDs(lb domain.Leaderboard) []string {
	ids := make([]string, len(lb.Entries))
	for i, entry := range lb.Entries {
		ids[i] = entry.UserID
	}
	return ids
}

func TestRankOrderingAndTiebreak(t *testing.T) {
	e := newEnv(t, 0)
	seedAggregates(e)

	lb, err := e.leaderboard.Rank(context.Background(), domain.SortByTotalScore, 1, 10)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	// Equal totalScore ties break on user id, so ordering is total.
	want := []string{"u5", "u3", "u4", "u1", "u2"}
	if got := rankedIDs(lb); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	for i, entry := range lb.Entries {
		if entry.Rank != i+1 {
			t.Fatalf("expected dense positions, entry %d has rank %d", i, entry.Rank)
		}
	}
}

func TestRankIsDeterministic(t *testing.T) {
	e := newEnv(t, 0)
	seedAggregates(e)
	ctx := context.Background()

	first, err := e.leaderboard.Rank(ctx, domain.SortByQuizzesTaken, 1, 10)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	second, err := e.leaderboard.Rank(ctx, domain.SortByQuizzesTaken, 1, 10)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if !reflect.DeepEqual(rankedIDs(first), rankedIDs(second)) {
		t.Fatalf("identical reads disagree: %v vs %v", rankedIDs(first), rankedIDs(second))
	}
}

func TestRankPagination(t *testing.T) {
	e := newEnv(t, 0)
	seedAggregates(e)
	ctx := context.Background()

	page2, err := e.leaderboard.Rank(ctx, domain.SortByTotalScore, 2, 2)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if page2.TotalCount != 5 || page2.TotalPages != 3 || page2.CurrentPage != 2 {
		t.Fatalf("unexpected pagination: %+v", page2)
	}
	if len(page2.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page2.Entries))
	}
	// Positions continue across pages.
	if page2.Entries[0].Rank != 3 || page2.Entries[1].Rank != 4 {
		t.Fatalf("expected ranks 3 and 4, got %d and %d", page2.Entries[0].Rank, page2.Entries[1].Rank)
	}

	beyond, err := e.leaderboard.Rank(ctx, domain.SortByTotalScore, 99, 2)
	if err != nil {
		t.Fatalf("rank past end: %v", err)
	}
	if len(beyond.Entries) != 0 || beyond.TotalCount != 5 {
		t.Fatalf("expected empty page with metadata, got %+v", beyond)
	}
}

func TestRankOfSharesTies(t *testing.T) {
	e := newEnv(t, 0)
	seedAggregates(e)
	ctx := context.Background()

	// u3 and u4 both hold totalScore 30; only u5 (50) is strictly greater.
	for _, userID := range []string{"u3", "u4"} {
		rank, agg, err := e.leaderboard.RankOf(ctx, userID, domain.SortByTotalScore)
		if err != nil {
			t.Fatalf("rank of %s: %v", userID, err)
		}
		if rank != 2 {
			t.Fatalf("expected %s at shared rank 2, got %d", userID, rank)
		}
		if agg.TotalScore != 30 {
			t.Fatalf("unexpected aggregate for %s: %+v", userID, agg)
		}
	}

	rank, _, err := e.leaderboard.RankOf(ctx, "u5", domain.SortByTotalScore)
	if err != nil {
		t.Fatalf("rank of u5: %v", err)
	}
	if rank != 1 {
		t.Fatalf("expected u5 at rank 1, got %d", rank)
	}

	if _, _, err := e.leaderboard.RankOf(ctx, "ghost", domain.SortByTotalScore); err != domain.ErrUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestBroadcastPublishesSnapshot(t *testing.T) {
	e := newEnv(t, 0)
	seedAggregates(e)
	ctx := context.Background()

	updates, cancel := e.feed.Subscribe()
	defer cancel()

	e.leaderboard.Broadcast(ctx)
	select {
	case lb := <-updates:
		if len(lb.Entries) == 0 || lb.Entries[0].UserID != "u5" {
			t.Fatalf("unexpected snapshot: %+v", lb)
		}
	default:
		t.Fatalf("expected a snapshot on the feed")
	}
}
