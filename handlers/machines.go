package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	machinesvc "hostwarden/services/machines"
)

type machineService interface {
	List(userID string) ([]machinesvc.MachineView, error)
	Create(userID, label, hostClass, anchorDate string) (machinesvc.MachineView, error)
	Delete(userID string, index int) (string, error)
	AcknowledgeRenewal(userID, machineID string) (machinesvc.MachineView, error)
}

var _ machineService = (*machinesvc.Service)(nil)

// MachineHandler exposes the machine CRUD and renewal actions the
// conversational layer forwards on behalf of users.
type MachineHandler struct {
	Service machineService
}

func NewMachineHandler(s machineService) *MachineHandler {
	return &MachineHandler{Service: s}
}

// Register mounts the machine routes on the router.
func (h *MachineHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/users/{userID}/machines", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userID}/machines", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}/machines/{index:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/users/{userID}/machines/{machineID}/renewed", h.AcknowledgeRenewal).Methods(http.MethodPost)
}

// List returns the user's machines with computed remaining time.
func (h *MachineHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	views, err := h.Service.List(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if views == nil {
		views = []machinesvc.MachineView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": views})
}

// Create registers a new machine for the user.
func (h *MachineHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var request struct {
		Label      string `json:"label"`
		HostClass  string `json:"hostClass"`
		AnchorDate string `json:"anchorDate"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.Service.Create(userID, request.Label, request.HostClass, request.AnchorDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Delete removes the machine at the given display index.
func (h *MachineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		http.Error(w, "index must be a number", http.StatusBadRequest)
		return
	}

	label, err := h.Service.Delete(vars["userID"], index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": label})
}

// AcknowledgeRenewal processes the user's "I have renewed" action.
func (h *MachineHandler) AcknowledgeRenewal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	view, err := h.Service.AcknowledgeRenewal(vars["userID"], vars["machineID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps service errors onto HTTP statuses. Input mistakes are
// the caller's to retry; a missing machine is a normal not-found outcome.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, machinesvc.ErrInvalidInput), errors.Is(err, machinesvc.ErrInvalidIndex):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, machinesvc.ErrMachineNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "machine not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
