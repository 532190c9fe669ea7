// Package machines implements the inbound user actions the conversational
// layer forwards: listing, registering and deleting machines, toggling
// datacenter monitoring, manual refreshes, and renewal acknowledgments.
// Every action starts by clearing the user's blocked flag; an inbound
// request is proof the user is reachable again.
package machines

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hostwarden/internal/expiry"
	"hostwarden/internal/store"
	"hostwarden/models"
	"hostwarden/services/datacenter"
)

var (
	// ErrMachineNotFound is a normal outcome for renewal acknowledgments:
	// users double-click buttons and reference machines they deleted.
	ErrMachineNotFound = errors.New("machine not found")
	// ErrInvalidIndex reports a delete index outside the current list.
	ErrInvalidIndex = errors.New("invalid machine index")
	// ErrInvalidInput reports malformed create-machine fields; the caller
	// should ask the user to retry.
	ErrInvalidInput = errors.New("invalid input")
)

// Service processes inbound actions against the shared state store.
type Service struct {
	store  *store.Store
	source datacenter.Source
	nowFn  func() time.Time
}

// NewService wires the action processor to the store and snapshot source.
func NewService(st *store.Store, src datacenter.Source) *Service {
	return &Service{store: st, source: src, nowFn: time.Now}
}

// SetNowFunc overrides the clock, for tests.
func (s *Service) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// MachineView is one row of the user's machine list.
type MachineView struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Label       string `json:"label"`
	HostClass   string `json:"hostClass"`
	Remaining   string `json:"remaining"`
	ExpiresAt   string `json:"expiresAt"`
	ExpiresAtIn string `json:"expiresAtDisplay"`
}

// List returns the user's machines in display order with computed
// remaining time. An unknown user simply has an empty list.
func (s *Service) List(userID string) ([]MachineView, error) {
	s.store.Unblock(userID)

	profile, ok := s.store.Get(userID)
	if !ok {
		return nil, nil
	}

	now := s.nowFn()
	views := make([]MachineView, 0, len(profile.Machines))
	for i, m := range profile.Machines {
		exp, err := expiry.ExpirationTime(m.AnchorDate, m.HostClass.RenewalPeriod())
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", m.ID, err)
		}
		views = append(views, MachineView{
			Index:       i + 1,
			ID:          m.ID,
			Label:       m.Label,
			HostClass:   m.HostClass.DisplayName(),
			Remaining:   expiry.FormatRemaining(exp.Sub(now)),
			ExpiresAt:   exp.Format("2006-01-02 15:04"),
			ExpiresAtIn: exp.In(expiry.DisplayZone()).Format("2006-01-02 15:04"),
		})
	}
	return views, nil
}

// Create registers a new machine. The anchor date accepts the full
// YYYY-MM-DD form or the MM-DD shorthand resolved against the current
// year in the reference timezone.
func (s *Service) Create(userID, label, hostClassRaw, anchorDateRaw string) (MachineView, error) {
	s.store.Unblock(userID)

	label = strings.TrimSpace(label)
	if label == "" {
		return MachineView{}, fmt.Errorf("%w: label is required", ErrInvalidInput)
	}
	hostClass, err := models.ParseHostClass(strings.TrimSpace(hostClassRaw))
	if err != nil {
		return MachineView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	anchorDate, err := s.parseAnchorDate(anchorDateRaw)
	if err != nil {
		return MachineView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	record := models.MachineRecord{
		ID:         uuid.NewString(),
		Label:      label,
		HostClass:  hostClass,
		AnchorDate: anchorDate,
	}
	var index int
	if err := s.store.Update(userID, func(u *models.UserProfile) error {
		u.Machines = append(u.Machines, record)
		index = len(u.Machines)
		return nil
	}); err != nil {
		return MachineView{}, err
	}

	return s.viewOf(record, index)
}

// Delete removes the machine at the 1-based display index and returns its
// label for the confirmation message.
func (s *Service) Delete(userID string, index int) (string, error) {
	s.store.Unblock(userID)

	var label string
	err := s.store.Update(userID, func(u *models.UserProfile) error {
		i := index - 1
		if i < 0 || i >= len(u.Machines) {
			return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(u.Machines))
		}
		label = u.Machines[i].Label
		u.Machines = append(u.Machines[:i], u.Machines[i+1:]...)
		return nil
	})
	return label, err
}

// MonitorStatus is the state shown after toggling datacenter monitoring.
type MonitorStatus struct {
	Enabled        bool `json:"enabled"`
	LastKnownTotal *int `json:"lastKnownTotal"`
}

// ToggleMonitoring flips the user's datacenter-change subscription.
func (s *Service) ToggleMonitoring(userID string) (MonitorStatus, error) {
	s.store.Unblock(userID)

	var status MonitorStatus
	err := s.store.Update(userID, func(u *models.UserProfile) error {
		u.MonitoringEnabled = !u.MonitoringEnabled
		status.Enabled = u.MonitoringEnabled
		status.LastKnownTotal = u.LastKnownTotal
		return nil
	})
	return status, err
}

// ManualRefresh fetches a snapshot synchronously and unconditionally
// resets the user's baseline to it, monitoring subscription or not.
func (s *Service) ManualRefresh(ctx context.Context, userID string) (*models.DatacenterSnapshot, error) {
	s.store.Unblock(userID)

	snap, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(userID, func(u *models.UserProfile) error {
		total := snap.Total
		u.LastKnownTotal = &total
		return nil
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// AcknowledgeRenewal resets the machine's anchor date to today and clears
// its reminder throttle, then reports the fresh deadline. An unknown id
// is ErrMachineNotFound with no state mutated.
func (s *Service) AcknowledgeRenewal(userID, machineID string) (MachineView, error) {
	s.store.Unblock(userID)

	var renewed models.MachineRecord
	var index int
	err := s.store.Update(userID, func(u *models.UserProfile) error {
		for i := range u.Machines {
			if u.Machines[i].ID != machineID {
				continue
			}
			u.Machines[i].AnchorDate = expiry.Today(s.nowFn())
			u.Machines[i].LastReminderSentAt = nil
			renewed = u.Machines[i]
			index = i + 1
			return nil
		}
		return ErrMachineNotFound
	})
	if err != nil {
		return MachineView{}, err
	}
	return s.viewOf(renewed, index)
}

func (s *Service) viewOf(m models.MachineRecord, index int) (MachineView, error) {
	exp, err := expiry.ExpirationTime(m.AnchorDate, m.HostClass.RenewalPeriod())
	if err != nil {
		return MachineView{}, fmt.Errorf("machine %s: %w", m.ID, err)
	}
	return MachineView{
		Index:       index,
		ID:          m.ID,
		Label:       m.Label,
		HostClass:   m.HostClass.DisplayName(),
		Remaining:   expiry.FormatRemaining(exp.Sub(s.nowFn())),
		ExpiresAt:   exp.Format("2006-01-02 15:04"),
		ExpiresAtIn: exp.In(expiry.DisplayZone()).Format("2006-01-02 15:04"),
	}, nil
}

func (s *Service) parseAnchorDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if _, err := time.ParseInLocation(expiry.AnchorDateLayout, raw, expiry.ReferenceZone()); err == nil {
		return raw, nil
	}
	// MM-DD shorthand: the conversational layer lets users type just the
	// month and day of the creation event.
	md, err := time.ParseInLocation("01-02", raw, expiry.ReferenceZone())
	if err != nil {
		return "", fmt.Errorf("date %q is not YYYY-MM-DD or MM-DD", raw)
	}
	year := s.nowFn().In(expiry.ReferenceZone()).Year()
	return time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, expiry.ReferenceZone()).Format(expiry.AnchorDateLayout), nil
}
