package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"hostwarden/models"
	"hostwarden/services/datacenter"
	machinesvc "hostwarden/services/machines"
)

type fakeMachineService struct {
	views     []machinesvc.MachineView
	created   machinesvc.MachineView
	createErr error
	renewErr  error

	lastUserID string
	lastLabel  string
}

func (f *fakeMachineService) List(userID string) ([]machinesvc.MachineView, error) {
	f.lastUserID = userID
	return f.views, nil
}

func (f *fakeMachineService) Create(userID, label, hostClass, anchorDate string) (machinesvc.MachineView, error) {
	f.lastUserID = userID
	f.lastLabel = label
	if f.createErr != nil {
		return machinesvc.MachineView{}, f.createErr
	}
	return f.created, nil
}

func (f *fakeMachineService) Delete(userID string, index int) (string, error) {
	f.lastUserID = userID
	if index != 1 {
		return "", machinesvc.ErrInvalidIndex
	}
	return "edge box", nil
}

func (f *fakeMachineService) AcknowledgeRenewal(userID, machineID string) (machinesvc.MachineView, error) {
	f.lastUserID = userID
	if f.renewErr != nil {
		return machinesvc.MachineView{}, f.renewErr
	}
	return machinesvc.MachineView{ID: machineID, Remaining: "5d0h"}, nil
}

func newMachineRouter(svc *fakeMachineService) *mux.Router {
	r := mux.NewRouter()
	NewMachineHandler(svc).Register(r)
	return r
}

func TestMachineHandlerList(t *testing.T) {
	svc := &fakeMachineService{views: []machinesvc.MachineView{{Index: 1, Label: "edge box"}}}
	r := newMachineRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/1001/machines", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if svc.lastUserID != "1001" {
		t.Fatalf("expected user id from path, got %q", svc.lastUserID)
	}

	var resp struct {
		Machines []machinesvc.MachineView `json:"machines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Machines) != 1 || resp.Machines[0].Label != "edge box" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMachineHandlerCreate(t *testing.T) {
	svc := &fakeMachineService{created: machinesvc.MachineView{ID: "m-1", Label: "edge box"}}
	r := newMachineRouter(svc)

	payload, _ := json.Marshal(map[string]string{
		"label":      "edge box",
		"hostClass":  "hax",
		"anchorDate": "2024-01-01",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/machines", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if svc.lastLabel != "edge box" {
		t.Fatalf("expected label forwarded, got %q", svc.lastLabel)
	}
}

func TestMachineHandlerCreateRejectsUnknownFields(t *testing.T) {
	r := newMachineRouter(&fakeMachineService{})

	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/machines", bytes.NewBufferString(`{"label":"x","bogus":true}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestMachineHandlerCreateInvalidInput(t *testing.T) {
	svc := &fakeMachineService{createErr: machinesvc.ErrInvalidInput}
	r := newMachineRouter(svc)

	payload, _ := json.Marshal(map[string]string{"label": "", "hostClass": "hax", "anchorDate": "bad"})
	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/machines", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestMachineHandlerDeleteOutOfRange(t *testing.T) {
	r := newMachineRouter(&fakeMachineService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/users/1001/machines/9", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestMachineHandlerRenewNotFound(t *testing.T) {
	svc := &fakeMachineService{renewErr: machinesvc.ErrMachineNotFound}
	r := newMachineRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/machines/no-such-id/renewed", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

type fakeMonitoringService struct {
	status     machinesvc.MonitorStatus
	refreshErr error
}

func (f *fakeMonitoringService) ToggleMonitoring(userID string) (machinesvc.MonitorStatus, error) {
	return f.status, nil
}

func (f *fakeMonitoringService) ManualRefresh(ctx context.Context, userID string) (*models.DatacenterSnapshot, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &models.DatacenterSnapshot{Counts: map[string]int{"SG1": 7}, Total: 7}, nil
}

func TestMonitoringHandlerRefresh(t *testing.T) {
	r := mux.NewRouter()
	NewMonitoringHandler(&fakeMonitoringService{}, nil).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/monitoring/refresh", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Total  int            `json:"total"`
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 7 || resp.Counts["SG1"] != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMonitoringHandlerRefreshUnavailable(t *testing.T) {
	r := mux.NewRouter()
	NewMonitoringHandler(&fakeMonitoringService{refreshErr: datacenter.ErrUnavailable}, nil).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/users/1001/monitoring/refresh", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
}
