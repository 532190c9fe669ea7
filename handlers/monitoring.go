package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"hostwarden/internal/journal"
	"hostwarden/models"
	"hostwarden/services/datacenter"
	machinesvc "hostwarden/services/machines"
)

type monitoringService interface {
	ToggleMonitoring(userID string) (machinesvc.MonitorStatus, error)
	ManualRefresh(ctx context.Context, userID string) (*models.DatacenterSnapshot, error)
}

var _ monitoringService = (*machinesvc.Service)(nil)

type deliveryLog interface {
	RecentForUser(ctx context.Context, userID string, limit int) ([]journal.Entry, error)
}

// MonitoringHandler exposes the datacenter-monitoring toggle, the manual
// refresh, and the per-user delivery history.
type MonitoringHandler struct {
	Service    monitoringService
	Deliveries deliveryLog
}

func NewMonitoringHandler(s monitoringService, deliveries deliveryLog) *MonitoringHandler {
	return &MonitoringHandler{Service: s, Deliveries: deliveries}
}

// Register mounts the monitoring routes on the router.
func (h *MonitoringHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/users/{userID}/monitoring/toggle", h.Toggle).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}/monitoring/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}/deliveries", h.RecentDeliveries).Methods(http.MethodGet)
}

// Toggle flips the user's datacenter-change subscription.
func (h *MonitoringHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.ToggleMonitoring(mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Refresh fetches a snapshot synchronously and resets the user's baseline.
func (h *MonitoringHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.ManualRefresh(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		if errors.Is(err, datacenter.ErrUnavailable) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "datacenter snapshot source unavailable"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  snap.Total,
		"counts": snap.Counts,
	})
}

// RecentDeliveries returns the newest journal entries for the user.
func (h *MonitoringHandler) RecentDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.Deliveries == nil {
		writeJSON(w, http.StatusOK, map[string]any{"deliveries": []any{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive number", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.Deliveries.RecentForUser(r.Context(), mux.Vars(r)["userID"], limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type deliveryView struct {
		Kind      string `json:"kind"`
		MachineID string `json:"machineId,omitempty"`
		Outcome   string `json:"outcome"`
		Detail    string `json:"detail,omitempty"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]deliveryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, deliveryView{
			Kind:      e.Kind,
			MachineID: e.MachineID,
			Outcome:   e.Outcome,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": views})
}
