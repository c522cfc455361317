package stream

import (
	"net/http"
	"time"

	"github.com/zhouzirui/botdialog/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams the session's recorded exchanges as Server-Sent Events.
// It is the read-only counterpart of the WebSocket endpoint.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "userId and botId are required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	replies, unsubscribe := h.hub.Subscribe(key)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	logger := h.logger.With("user_id", key.UserID, "bot_id", key.BotID)
	logger.Debug("event stream opened")

	if err := utils.SendSSEEvent(w, flusher, frameConnected, map[string]any{"sessionId": key.String()}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed")
			return
		case e, ok := <-replies:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, frameReply, e); err != nil {
				logger.Warn("write event failed", "error", err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}
