package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// Handler is the thin REST surface over the core use cases. Authentication
// is upstream's job: the authenticated user arrives in the X-User-ID header.
type Handler struct {
	quiz        *app.QuizService
	settlement  *app.SettlementService
	leaderboard *app.LeaderboardService
	log         *logrus.Entry
}

func NewHandler(quiz *app.QuizService, settlement *app.SettlementService, leaderboard *app.LeaderboardService, log *logrus.Entry) *Handler {
	return &Handler{quiz: quiz, settlement: settlement, leaderboard: leaderboard, log: log}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quizzes/{id}/submit", h.submit)
	mux.HandleFunc("POST /api/rewards", h.settle)
	mux.HandleFunc("POST /api/rewards/reconcile", h.reconcile)
	mux.HandleFunc("GET /api/leaderboard", h.rank)
	mux.HandleFunc("GET /api/leaderboard/users/{id}", h.rankOf)
	mux.HandleFunc("GET /api/users/me/history", h.history)
	mux.HandleFunc("GET /api/users/me/stats", h.stats)
	mux.HandleFunc("GET /api/ledger/balance/{address}", h.balance)
}

type submitRequest struct {
	Answers   []*int `json:"answers"`
	TimeTaken int    `json:"timeTaken"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.quiz.Submit(r.Context(), userID, r.PathValue("id"), domain.AnswerVector(req.Answers), req.TimeTaken)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rewardRequest struct {
	AttemptID string `json:"attemptId"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	h.runSettlement(w, r, h.settlement.Settle)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	h.runSettlement(w, r, h.settlement.Reconcile)
}

func (h *Handler) runSettlement(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, attemptID, userID string) (app.SettlementResult, error)) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AttemptID == "" {
		writeError(w, http.StatusBadRequest, "attemptId is required")
		return
	}
	result, err := op(r.Context(), req.AttemptID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementIndeterminate) {
			// The transfer may still land; surface the pending state
			// and point the caller at reconciliation.
			writeJSON(w, http.StatusAccepted, result)
			return
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) rank(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 10)
	key := domain.ParseSortKey(r.URL.Query().Get("sortBy"))
	lb, err := h.leaderboard.Rank(r.Context(), key, page, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) rankOf(w http.ResponseWriter, r *http.Request) {
	key := domain.ParseSortKey(r.URL.Query().Get("sortBy"))
	rank, user, err := h.leaderboard.RankOf(r.Context(), r.PathValue("id"), key)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rank": rank, "user": user})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	attempts, meta, err := h.quiz.History(r.Context(), userID, intQuery(r, "page", 1), intQuery(r, "limit", 10))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "pagination": meta})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	stats, err := h.quiz.Stats(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.settlement.Balance(r.Context(), r.PathValue("address"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return userID, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrMissingWallet),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLedgerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrLedgerRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
