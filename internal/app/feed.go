package app

import (
	"sync"

	"quiz-reward-service/internal/domain"
)

// Feed fans leaderboard snapshots out to live subscribers. Slow consumers
// never block a broadcast: a stale snapshot in their buffer is dropped and
// replaced with the latest.
type Feed struct {
	mu          sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[chan domain.Leaderboard]struct{})}
}

// Subscribe returns a channel of snapshots. The caller must invoke the
// returned cancel function to avoid leaks.
func (f *Feed) Subscribe() (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber.
func (f *Feed) Publish(lb domain.Leaderboard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}
