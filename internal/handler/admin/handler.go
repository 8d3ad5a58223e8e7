// Package admin serves the operator endpoints: external endpoint diagnostics,
// runtime configuration overrides and the captured lead list.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
	"github.com/digitalforce/flexi/backend/internal/service/external"
	"github.com/digitalforce/flexi/backend/internal/service/prompt"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

const (
	PasswordHeader = "X-ADMIN-PASSWORD"

	maxConfigBytes   = 16 << 10
	defaultLeadLimit = 100
)

// Handler serves the admin routes.
type Handler struct {
	config *config.Holder
	prober *external.Prober
	leads  lead.Store
	logger *slog.Logger
}

// New creates an admin handler.
func New(holder *config.Holder, prober *external.Prober, leads lead.Store, logger *slog.Logger) *Handler {
	return &Handler{config: holder, prober: prober, leads: leads, logger: logging.OrDefault(logger)}
}

// RegisterPreviewRoutes registers the diagnostics route. Callers guard it
// with the same-origin or token gate.
func (h *Handler) RegisterPreviewRoutes(r chi.Router) {
	r.Get("/admin/external-preview", h.handlePreview)
}

// RegisterRoutes registers the password protected routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/admin/config", h.handleConfig)
	r.Get("/admin/leads", h.handleListLeads)
}

type externalSummary struct {
	URL       string `json:"url"`
	Header    string `json:"header"`
	KeyPrefix string `json:"keyPrefix"`
	APIKeySet bool   `json:"apiKeySet"`
}

func summarize(cfg config.ExternalConfig) externalSummary {
	return externalSummary{
		URL:       cfg.URL,
		Header:    cfg.Header,
		KeyPrefix: cfg.KeyPrefix,
		APIKeySet: cfg.APIKey != "",
	}
}

type previewResponse struct {
	External   externalSummary      `json:"external"`
	Diagnostic *external.Diagnostic `json:"diagnostic"`
}

// handlePreview returns the last probe record. With ?question= a fresh probe
// is run first against the current configuration.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Current()

	if question := strings.TrimSpace(r.URL.Query().Get("question")); question != "" && cfg.External.Enabled() {
		h.prober.Probe(r.Context(), external.TargetFromConfig(cfg.External), prompt.Build(question, nil), nil)
	}

	resp := previewResponse{External: summarize(cfg.External)}
	if diag, ok := h.prober.LastDiagnostic(); ok {
		resp.Diagnostic = &diag
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

type configRequest struct {
	Password             string  `json:"password"`
	ExternalModelURL     *string `json:"externalModelUrl"`
	ExternalAPIKey       *string `json:"externalApiKey"`
	ExternalAPIHeader    *string `json:"externalApiHeader"`
	ExternalAPIKeyPrefix *string `json:"externalApiKeyPrefix"`
}

func (p configRequest) overrides() map[string]string {
	values := make(map[string]string)
	set := func(key string, v *string) {
		if v != nil {
			values[key] = *v
		}
	}
	set(config.KeyExternalURL, p.ExternalModelURL)
	set(config.KeyExternalAPIKey, p.ExternalAPIKey)
	set(config.KeyExternalHeader, p.ExternalAPIHeader)
	set(config.KeyExternalPrefix, p.ExternalAPIKeyPrefix)
	return values
}

// handleConfig persists external endpoint overrides and reloads configuration.
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	var payload configRequest
	if err := utils.DecodeJSON(w, r, &payload, maxConfigBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	password := payload.Password
	if password == "" {
		password = r.Header.Get(PasswordHeader)
	}
	if !h.authorize(w, password) {
		return
	}

	values := payload.overrides()
	if raw, ok := values[config.KeyExternalURL]; ok && raw != "" {
		if err := validateEndpoint(raw); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cfg, err := h.config.ApplyOverrides(values)
	if err != nil {
		if errors.Is(err, config.ErrNoOverrides) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("[admin] failed to apply overrides", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	h.logger.Info("[admin] configuration updated", "keys", strings.Join(keys, ","))

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"external": summarize(cfg.External),
	})
}

// handleListLeads returns captured leads, newest first.
func (h *Handler) handleListLeads(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r.Header.Get(PasswordHeader)) {
		return
	}

	limit := defaultLeadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	leads, err := h.leads.ListLeads(r.Context(), limit)
	if err != nil {
		h.logger.Error("[admin] failed to list leads", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (h *Handler) authorize(w http.ResponseWriter, password string) bool {
	err := h.config.Current().Access.CheckAdmin(password)
	switch {
	case err == nil:
		return true
	case errors.Is(err, config.ErrAdminDisabled):
		metrics.AccessDenied.WithLabelValues("admin_disabled").Inc()
		utils.RespondError(w, http.StatusForbidden, "Admin disabled - ADMIN_PASSWORD is not set")
	default:
		metrics.AccessDenied.WithLabelValues("admin").Inc()
		h.logger.Warn("[admin] rejected password")
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized - invalid admin password")
	}
	return false
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("externalModelUrl must be an absolute http or https URL")
	}
	return nil
}
