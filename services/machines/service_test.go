package machines_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"hostwarden/internal/expiry"
	"hostwarden/internal/store"
	"hostwarden/models"
	"hostwarden/services/datacenter"
	"hostwarden/services/machines"
)

type staticSource struct {
	snap *models.DatacenterSnapshot
	err  error
}

func (s *staticSource) Fetch(ctx context.Context) (*models.DatacenterSnapshot, error) {
	return s.snap, s.err
}

func newService(t *testing.T, src datacenter.Source) (*machines.Service, *store.Store) {
	t.Helper()
	st, err := store.Open(afero.NewMemMapFs(), "state.json")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := machines.NewService(st, src)
	svc.SetNowFunc(func() time.Time {
		return time.Date(2024, 1, 3, 10, 0, 0, 0, expiry.ReferenceZone())
	})
	return svc, st
}

func TestCreateAndList(t *testing.T) {
	svc, _ := newService(t, nil)

	created, err := svc.Create("1001", "edge box", "hax", "2024-01-01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated machine id")
	}
	// 2024-01-01 + 5 days, midnight UTC+7.
	if created.ExpiresAt != "2024-01-06 00:00" {
		t.Fatalf("unexpected expiry %q", created.ExpiresAt)
	}

	views, err := svc.List("1001")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 machine, got %d", len(views))
	}
	if views[0].Index != 1 || views[0].Label != "edge box" || views[0].HostClass != "Hax" {
		t.Fatalf("unexpected view: %+v", views[0])
	}
	// now = Jan 3 10:00, expiry Jan 6 00:00 -> 2d14h left.
	if views[0].Remaining != "2d14h" {
		t.Fatalf("unexpected remaining %q", views[0].Remaining)
	}
}

func TestCreateAcceptsMonthDayShorthand(t *testing.T) {
	svc, st := newService(t, nil)

	if _, err := svc.Create("1001", "mini", "woiden", "01-02"); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, _ := st.Get("1001")
	if u.Machines[0].AnchorDate != "2024-01-02" {
		t.Fatalf("expected shorthand resolved to 2024-01-02, got %q", u.Machines[0].AnchorDate)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newService(t, nil)

	cases := []struct {
		label, class, date string
	}{
		{"", "hax", "2024-01-01"},
		{"box", "ec2", "2024-01-01"},
		{"box", "hax", "01/02/2024"},
	}
	for _, tc := range cases {
		if _, err := svc.Create("1001", tc.label, tc.class, tc.date); !errors.Is(err, machines.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}

	views, err := svc.List("1001")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("rejected creates must not add machines, got %d", len(views))
	}
}

func TestDeleteByDisplayIndex(t *testing.T) {
	svc, _ := newService(t, nil)

	if _, err := svc.Create("1001", "first", "hax", "2024-01-01"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create("1001", "second", "woiden", "2024-01-02"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Delete("1001", 3); !errors.Is(err, machines.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := svc.Delete("1001", 0); !errors.Is(err, machines.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}

	label, err := svc.Delete("1001", 1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if label != "first" {
		t.Fatalf("expected to delete %q, got %q", "first", label)
	}

	views, _ := svc.List("1001")
	if len(views) != 1 || views[0].Label != "second" {
		t.Fatalf("unexpected machines after delete: %+v", views)
	}
}

func TestAcknowledgeRenewalResetsAnchor(t *testing.T) {
	svc, st := newService(t, nil)

	created, err := svc.Create("1001", "edge box", "hax", "2024-01-01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Simulate a reminder already sent so we can verify the reset.
	sent := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	if err := st.Update("1001", func(u *models.UserProfile) error {
		u.Machines[0].LastReminderSentAt = &sent
		return nil
	}); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}

	view, err := svc.AcknowledgeRenewal("1001", created.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	// today (Jan 3) + 5 days = Jan 8 midnight.
	if view.ExpiresAt != "2024-01-08 00:00" {
		t.Fatalf("unexpected new expiry %q", view.ExpiresAt)
	}

	u, _ := st.Get("1001")
	if u.Machines[0].AnchorDate != "2024-01-03" {
		t.Fatalf("expected anchor reset to today, got %q", u.Machines[0].AnchorDate)
	}
	if u.Machines[0].LastReminderSentAt != nil {
		t.Fatalf("expected reminder throttle cleared")
	}
}

func TestAcknowledgeRenewalUnknownMachine(t *testing.T) {
	svc, st := newService(t, nil)

	if _, err := svc.Create("1001", "edge box", "hax", "2024-01-01"); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := st.Get("1001")

	if _, err := svc.AcknowledgeRenewal("1001", "no-such-id"); !errors.Is(err, machines.ErrMachineNotFound) {
		t.Fatalf("expected ErrMachineNotFound, got %v", err)
	}

	after, _ := st.Get("1001")
	if before.Machines[0].AnchorDate != after.Machines[0].AnchorDate {
		t.Fatalf("not-found renewal must not mutate state")
	}
}

func TestToggleMonitoring(t *testing.T) {
	svc, _ := newService(t, nil)

	status, err := svc.ToggleMonitoring("1001")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !status.Enabled {
		t.Fatalf("expected monitoring enabled after first toggle")
	}

	status, err = svc.ToggleMonitoring("1001")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if status.Enabled {
		t.Fatalf("expected monitoring disabled after second toggle")
	}
}

func TestManualRefreshSetsBaselineUnconditionally(t *testing.T) {
	src := &staticSource{snap: &models.DatacenterSnapshot{Counts: map[string]int{"SG1": 7}, Total: 7}}
	svc, st := newService(t, src)

	snap, err := svc.ManualRefresh(context.Background(), "1001")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.Total != 7 {
		t.Fatalf("unexpected total %d", snap.Total)
	}

	u, _ := st.Get("1001")
	if u.LastKnownTotal == nil || *u.LastKnownTotal != 7 {
		t.Fatalf("expected baseline 7, got %v", u.LastKnownTotal)
	}
	if u.MonitoringEnabled {
		t.Fatalf("manual refresh must not enable monitoring")
	}
}

func TestManualRefreshUnavailableSource(t *testing.T) {
	src := &staticSource{err: datacenter.ErrUnavailable}
	svc, st := newService(t, src)

	if _, err := svc.ManualRefresh(context.Background(), "1001"); !errors.Is(err, datacenter.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if u, ok := st.Get("1001"); ok && u.LastKnownTotal != nil {
		t.Fatalf("failed refresh must not touch the baseline")
	}
}

func TestInboundActionsUnblockUser(t *testing.T) {
	svc, st := newService(t, nil)

	if err := st.Update("1001", func(u *models.UserProfile) error { return nil }); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	st.Block("1001")

	if _, err := svc.List("1001"); err != nil {
		t.Fatalf("list: %v", err)
	}

	u, _ := st.Get("1001")
	if u.Blocked {
		t.Fatalf("inbound action must clear the blocked flag")
	}
}
