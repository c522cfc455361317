package persona

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/botdialog/internal/model/persona"
	"github.com/zhouzirui/botdialog/internal/service/ai"
	"github.com/zhouzirui/botdialog/pkg/utils"
)

// Handler serves bot registration and lookup. Descriptions can be supplied
// directly or drafted by gen from questionnaire answers.
type Handler struct {
	bots persona.Store
	gen  ai.Generator
}

// New creates the bot handler. A nil gen disables drafting from answers.
func New(bots persona.Store, gen ai.Generator) *Handler {
	return &Handler{
		bots: bots,
		gen:  gen,
	}
}

// RegisterRoutes mounts the bot routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/bots", h.handleCreateBot)
	r.Post("/bots/describe", h.handleDescribe)
	r.Get("/bots/{botID}", h.handleGetBot)
}

// botView omits the bot token.
type botView struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

func viewOf(bot persona.Bot) botView {
	return botView{ID: bot.ID, Description: bot.Description, CreatedAt: bot.CreatedAt}
}

func (h *Handler) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token       string           `json:"token"`
		Description string           `json:"description"`
		Answers     []persona.Answer `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token := strings.TrimSpace(payload.Token)
	switch {
	case token == "":
		utils.RespondError(w, http.StatusBadRequest, persona.ErrTokenRequired.Error())
		return
	case !persona.ValidToken(token):
		utils.RespondError(w, http.StatusBadRequest, persona.ErrInvalidToken.Error())
		return
	case len(payload.Answers) > 0 && strings.TrimSpace(payload.Description) != "":
		utils.RespondError(w, http.StatusBadRequest, "provide either description or answers")
		return
	}

	description := payload.Description
	if len(payload.Answers) > 0 {
		drafted, ok := h.draft(w, r, payload.Answers)
		if !ok {
			return
		}
		description = drafted
	}

	bot, err := h.bots.CreateBot(r.Context(), persona.Bot{
		Token:       token,
		Description: description,
	})
	switch {
	case errors.Is(err, persona.ErrTokenRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, persona.ErrDuplicateToken), errors.Is(err, persona.ErrDuplicateID):
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, viewOf(bot))
}

func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Answers []persona.Answer `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Answers) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "answers are required")
		return
	}

	description, ok := h.draft(w, r, payload.Answers)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"description": description})
}

// draft asks the generator for a persona description. It writes the error
// response itself and reports false on failure.
func (h *Handler) draft(w http.ResponseWriter, r *http.Request, answers []persona.Answer) (string, bool) {
	if h.gen == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "description drafting is not configured")
		return "", false
	}

	description, err := h.gen.Generate(r.Context(), "", ai.BuildDescriptionPrompt(answers))
	if err != nil {
		slog.Warn("persona description generation failed", "component", "handler.persona", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to generate description")
		return "", false
	}
	return strings.TrimSpace(description), true
}

func (h *Handler) handleGetBot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "botID"), 10, 64)
	if err != nil || id <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid bot id")
		return
	}

	bot, err := h.bots.GetBot(r.Context(), id)
	if errors.Is(err, persona.ErrBotNotFound) {
		utils.RespondError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load bot")
		return
	}

	utils.RespondJSON(w, http.StatusOK, viewOf(bot))
}
