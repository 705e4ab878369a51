package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// WSHandler streams leaderboard snapshots to websocket clients. Each client
// gets the current standings on connect and a fresh snapshot whenever an
// attempt is recorded or a reward credited.
type WSHandler struct {
	feed        *app.Feed
	leaderboard *app.LeaderboardService
	log         *logrus.Entry
	upgrader    websocket.Upgrader
}

func NewWSHandler(feed *app.Feed, leaderboard *app.LeaderboardService, log *logrus.Entry) *WSHandler {
	return &WSHandler{
		feed:        feed,
		leaderboard: leaderboard,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string             `json:"type"`
	Payload domain.Leaderboard `json:"payload"`
}

// ServeWS upgrades the request and relays feed snapshots until the client
// disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	if initial, err := h.leaderboard.Rank(r.Context(), domain.SortByTotalScore, 1, 10); err == nil {
		if err := conn.WriteJSON(outboundMessage{Type: "leaderboard", Payload: initial}); err != nil {
			return
		}
	}

	// Reader goroutine exists only to observe the close; inbound frames
	// are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "leaderboard", Payload: update}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
