package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/runtime"
)

// GeneralController serves health and queue administration endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers:
// - GET    /healthz
// - GET    /queue          (?tenant=&limit=)
// - DELETE /queue/{id}
// - POST   /sync
// - DELETE /cache          (?tenant=)
func (c *GeneralController) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", c.handleHealth)
	r.Get("/queue", c.handleListQueue)
	r.Delete("/queue/{id}", c.handleDiscard)
	r.Post("/sync", c.handleSync)
	r.Delete("/cache", c.handlePurgeCache)
}

// handleHealth returns 200 with {"status":"ok"} when storage answers,
// 503 otherwise. Connectivity does not affect health.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := c.rt.CheckHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, healthResp{Status: "ok", Online: c.rt.Monitor().State(), Pending: pending})
}

// handleListQueue lists a tenant's pending records, or every tenant with a
// backlog when no tenant is given.
func (c *GeneralController) handleListQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := c.rt.Store()
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant"))
	if tenantID == "" {
		tenants, err := store.Tenants(ctx)
		if err != nil {
			writeError(w, statusFor(err), "Failed to list tenants")
			return
		}
		out := make([]tenantBacklog, 0, len(tenants))
		for _, t := range tenants {
			n, err := store.Count(ctx, t)
			if err != nil {
				writeError(w, statusFor(err), "Failed to count pending records")
				return
			}
			out = append(out, tenantBacklog{Tenant: t, Pending: n})
		}
		writeJSON(w, map[string]any{"tenants": out})
		return
	}
	recs, err := store.GetPending(ctx, tenantID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list pending records")
		return
	}
	resp := queueListResp{Tenant: tenantID, Total: len(recs), Pending: recs}
	if limit := parseLimit(r.URL.Query().Get("limit")); limit > 0 && limit < len(recs) {
		resp.Pending = recs[:limit]
	}
	writeJSON(w, resp)
}

// handleDiscard drops one queued record without replaying it.
func (c *GeneralController) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := c.rt.Store().Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "Failed to discard record")
		return
	}
	writeNoContent(w)
}

// handleSync runs one replay pass for a tenant and returns its result. A
// pass that stops early answers 502 with the partial result.
func (c *GeneralController) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Tenant = strings.TrimSpace(req.Tenant)
	if req.Tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}
	res, err := c.rt.Replayer().Replay(r.Context(), req.Tenant)
	if err != nil {
		if errs.Is(err, errs.ErrReplayFailure) {
			writeJSONStatus(w, http.StatusBadGateway, map[string]any{"result": res, "error": err.Error()})
			return
		}
		writeError(w, statusFor(err), "Replay failed")
		return
	}
	writeJSON(w, res)
}

// handlePurgeCache drops a tenant's cached read responses.
func (c *GeneralController) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}
	store := c.rt.Cache()
	if store == nil {
		writeError(w, http.StatusNotFound, "read cache is disabled")
		return
	}
	n, err := store.PurgeTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to purge cache")
		return
	}
	writeJSON(w, cachePurgeResp{Tenant: tenantID, Purged: n})
}
