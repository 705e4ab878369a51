package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestLeaderboardStream(t *testing.T) {
	f := newFixture(t)

	u := "ws" + f.server.URL[len("http"):] + "/ws/leaderboard"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The current standings arrive on connect.
	msg := readNext(conn, t)
	if msg.Type != "leaderboard" {
		t.Fatalf("expected leaderboard, got %s", msg.Type)
	}
	if len(msg.Payload.Entries) != 2 {
		t.Fatalf("expected seeded entries, got %d", len(msg.Payload.Entries))
	}

	// A submission pushes a fresh snapshot.
	resp, _ := f.do(t, http.MethodPost, "/api/quizzes/quiz-1/submit", "u1", map[string]any{
		"answers": []any{1, 1},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d", resp.StatusCode)
	}

	msg = readNext(conn, t)
	if msg.Type != "leaderboard" {
		t.Fatalf("expected leaderboard update, got %s", msg.Type)
	}
	top := msg.Payload.Entries[0]
	if top.UserID != "u1" || top.TotalScore != 3 {
		t.Fatalf("expected u1 on top with score 3, got %+v", top)
	}
}

func readNext(conn *websocket.Conn, t *testing.T) outboundMessage {
	t.Helper()
	var msg outboundMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return msg
}
