package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/service/dialog"
	"github.com/zhouzirui/botdialog/pkg/utils"
)

const (
	defaultExchangeLimit = 50
	maxExchangeLimit     = 500
	maxMessageBytes      = 64 << 10
)

// Router accepts inbound messages for a session.
type Router interface {
	Route(ctx context.Context, key chat.SessionKey, message string) error
}

// SessionLister exposes the live sessions.
type SessionLister interface {
	Sessions() []dialog.SessionInfo
}

// TranscriptReader reads recorded exchanges.
type TranscriptReader interface {
	ListExchanges(ctx context.Context, key chat.SessionKey, limit int) ([]chat.Exchange, error)
}

// Handler serves message intake, live sessions and transcripts.
type Handler struct {
	router      Router
	sessions    SessionLister
	transcripts TranscriptReader
}

// New creates the chat handler.
func New(router Router, sessions SessionLister, transcripts TranscriptReader) *Handler {
	return &Handler{
		router:      router,
		sessions:    sessions,
		transcripts: transcripts,
	}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSendMessage)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/exchanges", h.handleListExchanges)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  int64  `json:"userId"`
		BotID   int64  `json:"botId"`
		Message string `json:"message"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID <= 0 || payload.BotID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "userId and botId are required")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	key := chat.SessionKey{UserID: payload.UserID, BotID: payload.BotID}
	if err := h.router.Route(r.Context(), key, payload.Message); err != nil {
		status := StatusForRouteError(err)
		slog.Default().Warn("route message failed",
			"component", "handler.chat",
			"user_id", key.UserID,
			"bot_id", key.BotID,
			"status", status,
			"error", err,
		)
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions.Sessions())
}

func (h *Handler) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, err := parseID(query.Get("userId"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid userId")
		return
	}
	botID, err := parseID(query.Get("botId"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid botId")
		return
	}

	limit := defaultExchangeLimit
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	limit = min(limit, maxExchangeLimit)

	exchanges, err := h.transcripts.ListExchanges(r.Context(), chat.SessionKey{UserID: userID, BotID: botID}, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load exchanges")
		return
	}
	if exchanges == nil {
		exchanges = []chat.Exchange{}
	}
	utils.RespondJSON(w, http.StatusOK, exchanges)
}

// StatusForRouteError maps a routing failure onto an HTTP status.
func StatusForRouteError(err error) int {
	switch {
	case errors.Is(err, dialog.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, dialog.ErrDeliveryFailed):
		return http.StatusConflict
	case errors.Is(err, dialog.ErrSessionCreationFailed), errors.Is(err, dialog.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}
