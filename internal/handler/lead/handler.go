package lead

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
	"github.com/digitalforce/flexi/backend/internal/service/prompt"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

const (
	maxLeadBytes = 8 << 10

	invalidNameMessage  = "Inserisci un nome valido (almeno 2 lettere)."
	invalidEmailMessage = "Inserisci un indirizzo email valido."
)

// Handler serves lead capture and the widget bootstrap data.
type Handler struct {
	leads  lead.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a lead handler.
func New(leads lead.Store, clock clockwork.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{leads: leads, clock: clock, logger: logging.OrDefault(logger)}
}

// RegisterRoutes registers POST /leads. Callers wrap r with the session middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/leads", h.handleCreateLead)
}

// RegisterPublicRoutes registers GET /suggestions.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/suggestions", h.handleSuggestions)
}

type leadResponse struct {
	Lead     lead.Lead    `json:"lead"`
	Greeting chat.Message `json:"greeting"`
}

// handleCreateLead validates and records a visitor's contact details.
func (h *Handler) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	if err := utils.DecodeJSON(w, r, &payload, maxLeadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name, email, err := lead.Normalize(payload.Name, payload.Email)
	switch {
	case errors.Is(err, lead.ErrInvalidName):
		utils.RespondError(w, http.StatusBadRequest, invalidNameMessage)
		return
	case errors.Is(err, lead.ErrInvalidEmail):
		utils.RespondError(w, http.StatusBadRequest, invalidEmailMessage)
		return
	case err != nil:
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock.Now().UTC()
	captured := lead.Lead{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		SessionID:  identity.SessionIDFromContext(r.Context()),
		CapturedAt: now,
	}

	if err := h.leads.SaveLead(r.Context(), captured); err != nil {
		h.logger.Error("[lead] failed to save lead", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	metrics.LeadsCaptured.Inc()
	h.logger.Info("[lead] captured", "session", captured.SessionID, "lead", captured.ID)

	utils.RespondJSON(w, http.StatusCreated, leadResponse{
		Lead: captured,
		Greeting: chat.Message{
			ID:        1,
			Text:      prompt.Greeting(name),
			Sender:    chat.SenderBot,
			Timestamp: now,
		},
	})
}

// handleSuggestions lists the quick questions offered by the widget.
func (h *Handler) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"questions": prompt.SuggestedQuestions()})
}
