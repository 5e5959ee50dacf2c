package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/domain"

	"github.com/gorilla/websocket"
)

// Handler exposes the duel engine over JSON REST plus a websocket watch feed.
type Handler struct {
	service  *app.DuelService
	boards   app.LeaderboardAggregator
	upgrader websocket.Upgrader
}

func NewHandler(service *app.DuelService, boards app.LeaderboardAggregator) *Handler {
	return &Handler{
		service: service,
		boards:  boards,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /duels", h.createChallenge)
	mux.HandleFunc("GET /duels/{id}", h.getDuel)
	mux.HandleFunc("POST /duels/{id}/accept", h.acceptChallenge)
	mux.HandleFunc("POST /duels/{id}/answers", h.submitAnswer)
	mux.HandleFunc("POST /duels/{id}/expire", h.expire)
	mux.HandleFunc("GET /leaderboard", h.leaderboard)
	mux.HandleFunc("GET /ws", h.watch)
}

type createChallengeRequest struct {
	ChallengerID  string `json:"challengerId"`
	OpponentID    string `json:"opponentId"`
	ContextID     string `json:"contextId"`
	QuestionCount int    `json:"questionCount"`
}

type createChallengeResponse struct {
	Duel      domain.Duel           `json:"duel"`
	Questions []domain.DuelQuestion `json:"questions"`
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	duel, questions, err := h.service.CreateChallenge(r.Context(), req.ChallengerID, req.OpponentID, req.ContextID, req.QuestionCount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createChallengeResponse{Duel: duel, Questions: questions})
}

func (h *Handler) getDuel(w http.ResponseWriter, r *http.Request) {
	duel, err := h.service.GetDuel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, duel)
}

type acceptRequest struct {
	AccepterID string `json:"accepterId"`
}

func (h *Handler) acceptChallenge(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	duel, err := h.service.AcceptChallenge(r.Context(), r.PathValue("id"), req.AccepterID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, duel)
}

type submitAnswerRequest struct {
	QuestionID string `json:"questionId"`
	PlayerID   string `json:"playerId"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
	LatencyMs  int    `json:"latencyMs"`
}

type submitAnswerResponse struct {
	CausedCompletion bool `json:"causedCompletion"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caused, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), req.QuestionID, req.PlayerID, req.Text, req.IsCorrect, req.LatencyMs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitAnswerResponse{CausedCompletion: caused})
}

type expireResponse struct {
	Expired bool `json:"expired"`
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.ExpireIfOverdue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expireResponse{Expired: expired})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("contextId")
	if contextID == "" {
		writeError(w, http.StatusBadRequest, "missing contextId")
		return
	}
	start, err := parseTimeParam(r, "from", time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	end, err := parseTimeParam(r, "to", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}
	board, err := h.boards.ComputeLeaderboard(r.Context(), contextID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// watch upgrades to a websocket and streams duel snapshots until the client
// disconnects. Read-only: inbound frames other than close are ignored.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	duelID := r.URL.Query().Get("duelId")
	if duelID == "" {
		writeError(w, http.StatusBadRequest, "missing duelId")
		return
	}

	updates, cancel, err := h.service.Watch(r.Context(), duelID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case view, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(view); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

type errorPayload struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Message: msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDuelNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	// Expected concurrent outcomes: clients treat these as "already done".
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrDuplicateAnswer):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidParticipants), errors.Is(err, domain.ErrInsufficientPool):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
