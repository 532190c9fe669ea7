package models

import (
	"fmt"
	"time"
)

// HostClass identifies the hosting product a machine was provisioned on.
// Each class fixes the renewal period the provider enforces.
type HostClass string

const (
	HostClassHax    HostClass = "hax"
	HostClassWoiden HostClass = "woiden"
)

// hostClassInfo carries the per-class constants used for reminders.
var hostClassInfo = map[HostClass]struct {
	name        string
	renewalDays int
	renewURL    string
}{
	HostClassHax:    {"Hax", 5, "https://hax.co.id/vps-renew/"},
	HostClassWoiden: {"Woiden", 3, "https://woiden.id/vps-renew/"},
}

// ParseHostClass validates a raw class string from an inbound request.
func ParseHostClass(raw string) (HostClass, error) {
	hc := HostClass(raw)
	if _, ok := hostClassInfo[hc]; !ok {
		return "", fmt.Errorf("unknown host class %q", raw)
	}
	return hc, nil
}

// HostClasses returns the supported classes in a stable order.
func HostClasses() []HostClass {
	return []HostClass{HostClassHax, HostClassWoiden}
}

// DisplayName returns the human-facing provider name.
func (hc HostClass) DisplayName() string {
	return hostClassInfo[hc].name
}

// RenewalPeriod returns the class-fixed period between renewals.
func (hc HostClass) RenewalPeriod() time.Duration {
	return time.Duration(hostClassInfo[hc].renewalDays) * 24 * time.Hour
}

// RenewalURL returns the provider's renewal page, empty for unknown classes.
func (hc HostClass) RenewalURL() string {
	return hostClassInfo[hc].renewURL
}

// MachineRecord tracks one registered virtual host. The ID is generated at
// creation and never changes; renew acknowledgments are correlated by it.
type MachineRecord struct {
	ID                 string     `json:"id"`
	Label              string     `json:"label"`
	HostClass          HostClass  `json:"hostClass"`
	AnchorDate         string     `json:"anchorDate"`
	LastReminderSentAt *time.Time `json:"lastReminderSentAt"`
}
