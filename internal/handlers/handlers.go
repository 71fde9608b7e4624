// Package handlers provides the HTTP control surface: health checks and the
// thin relay endpoints that translate requests into campaign/monitor service
// calls. This is control glue over the workflow layer, not the product API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/outflowhq/outflow/internal/service"
	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/pkg/database"
	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/models"
)

// Config holds the handler configuration.
type Config struct {
	DB        *database.DB
	Logger    *logger.Logger
	Campaigns *service.CampaignService
	Monitors  *service.MonitorService
	Env       string
	Version   string
}

// Handler serves the control API.
type Handler struct {
	db        *database.DB
	log       *logger.Logger
	campaigns *service.CampaignService
	monitors  *service.MonitorService
	env       string
	version   string
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	return &Handler{
		db:        cfg.DB,
		log:       cfg.Logger.WithComponent("handlers"),
		campaigns: cfg.Campaigns,
		monitors:  cfg.Monitors,
		env:       cfg.Env,
		version:   cfg.Version,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.loggingMiddleware)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Get("/ready", h.readyCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/start", h.startCampaign)
			r.Post("/pause", h.pauseCampaign)
			r.Post("/resume", h.resumeCampaign)
			r.Post("/stop", h.stopCampaign)
			r.Get("/status", h.campaignStatus)
		})
		r.Route("/monitors/{entityType}/{entityID}", func(r chi.Router) {
			r.Post("/start", h.startMonitor)
			r.Post("/pause", h.pauseMonitor)
			r.Post("/resume", h.resumeMonitor)
			r.Post("/rotate", h.rotateMonitor)
			r.Delete("/", h.stopMonitor)
			r.Get("/status", h.monitorStatus)
		})
		r.Post("/accounts/{accountID}/disconnect", h.disconnectAccount)
	})

	return r
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "outflow",
		"version":   h.version,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) readyCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	if err := h.db.Health(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	h.respond(w, status, map[string]interface{}{
		"ready":  status == http.StatusOK,
		"checks": checks,
	})
}

func (h *Handler) startCampaign(w http.ResponseWriter, r *http.Request) {
	var req service.StartCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.CampaignID = chi.URLParam(r, "campaignID")

	if err := h.campaigns.Start(r.Context(), req); err != nil {
		if errors.Is(err, oftemporal.ErrAlreadyRunning) {
			h.respondError(w, http.StatusConflict, "campaign already running", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to start campaign", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"campaign_id": req.CampaignID, "status": "starting"})
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`

	// CompleteCurrentExecutions applies to stop only.
	CompleteCurrentExecutions bool `json:"complete_current_executions,omitempty"`
}

func (h *Handler) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	campaignID := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Pause(r.Context(), campaignID, req.Reason); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to pause campaign", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "pausing"})
}

func (h *Handler) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Resume(r.Context(), campaignID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to resume campaign", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "resuming"})
}

func (h *Handler) stopCampaign(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	campaignID := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Stop(r.Context(), campaignID, req.Reason, req.CompleteCurrentExecutions); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to stop campaign", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "stopping"})
}

func (h *Handler) campaignStatus(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	report, err := h.campaigns.Status(r.Context(), campaignID)
	if err != nil {
		// Closed executions no longer answer queries; fall back to describe.
		desc, derr := h.campaigns.Describe(r.Context(), campaignID)
		if derr != nil {
			h.respondError(w, http.StatusNotFound, "campaign not found", err)
			return
		}
		h.respond(w, http.StatusOK, desc)
		return
	}
	h.respond(w, http.StatusOK, report)
}

func (h *Handler) monitorRequest(r *http.Request) (service.MonitorRequest, bool) {
	entityType := models.MonitorEntityType(chi.URLParam(r, "entityType"))
	if entityType != models.MonitorEntityLead && entityType != models.MonitorEntityCompany {
		return service.MonitorRequest{}, false
	}

	req := service.MonitorRequest{
		EntityType: entityType,
		EntityID:   chi.URLParam(r, "entityID"),
	}

	var body struct {
		OrgID     string `json:"orgId"`
		AccountID string `json:"accountId"`
		TargetRef string `json:"targetRef"`
		Reason    string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	req.OrgID = body.OrgID
	req.AccountID = body.AccountID
	req.TargetRef = body.TargetRef
	return req, true
}

func (h *Handler) startMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	if err := h.monitors.Start(r.Context(), req); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to start monitor", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID, "status": "monitoring"})
}

func (h *Handler) pauseMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	if err := h.monitors.Pause(r.Context(), req, ""); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to pause monitor", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID, "status": "pausing"})
}

func (h *Handler) resumeMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	if err := h.monitors.Resume(r.Context(), req); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to resume monitor", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID, "status": "resuming"})
}

func (h *Handler) rotateMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	if err := h.monitors.Rotate(r.Context(), req.EntityType, req.EntityID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to rotate monitor", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID, "status": "rotating"})
}

func (h *Handler) stopMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	if err := h.monitors.Stop(r.Context(), req.EntityType, req.EntityID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to stop monitor", err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID, "status": "stopping"})
}

func (h *Handler) monitorStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := h.monitorRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "entity type must be lead or company", nil)
		return
	}
	status, err := h.monitors.Status(r.Context(), req.EntityType, req.EntityID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "monitor not found", err)
		return
	}
	h.respond(w, http.StatusOK, status)
}

func (h *Handler) disconnectAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := h.monitors.DisconnectAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, service.ErrActiveMonitors) {
			h.respondError(w, http.StatusConflict, "pause all running monitors before disconnecting", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to disconnect account", err)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"account_id": accountID, "status": "disconnected"})
}

func (h *Handler) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.log.Error(message, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil && h.env != "production" {
		response["details"] = err.Error()
	}
	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		h.log.Error("failed to encode error response", "error", encErr)
	}
}
