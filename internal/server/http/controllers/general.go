package controllers

import (
	"net/http"

	"github.com/rzbill/roomledger/internal/runtime"
)

// GeneralController handles operational endpoints: health, metrics, pending
// entries and dead letters.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Prometheus metrics (/metrics)
// - Pending entries of the consumer group (/v1/pending)
// - Dead letters of the consumer group (/v1/deadletters)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	mux.Handle("GET /metrics", c.rt.Metrics().Handler())
	mux.HandleFunc("GET /v1/pending", c.handlePending)
	mux.HandleFunc("GET /v1/deadletters", c.handleDeadLetters)
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503 Service
// Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, healthResponse{Status: "ok"})
}

func (c *GeneralController) handlePending(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = c.rt.Config().Stream.Group
	}
	entries, err := c.rt.Stream().Pending(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := pendingResponse{Group: group, Pending: make([]pendingEntry, 0, len(entries))}
	for _, e := range entries {
		out.Pending = append(out.Pending, pendingEntry{
			ID:             e.ID,
			Consumer:       e.Consumer,
			Deliveries:     e.Deliveries,
			LastDeliveryMs: e.LastDelivery.UnixMilli(),
		})
	}
	writeJSON(w, out)
}

func (c *GeneralController) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	dlq := c.rt.DeadLetters()
	list, err := dlq.List(parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	writeJSON(w, deadLettersResponse{Group: c.rt.Config().Stream.Group, Total: dlq.Count(), DeadLetters: list})
}
