// Package expiry implements the renewal-deadline arithmetic shared by the
// monitors and the inbound machine actions. All deadlines are computed in a
// fixed reference timezone (UTC+7, where the provider renews hosts at
// midnight), independent of the user's locale.
package expiry

import (
	"fmt"
	"time"
)

const (
	// AnchorDateLayout is the storage format for machine anchor dates.
	AnchorDateLayout = "2006-01-02"

	referenceZoneName = "Asia/Bangkok"  // UTC+7, provider renewal clock
	displayZoneName   = "Asia/Shanghai" // UTC+8, what users are shown
)

var (
	referenceZone = mustLoadZone(referenceZoneName, 7*3600)
	displayZone   = mustLoadZone(displayZoneName, 8*3600)
)

// mustLoadZone falls back to a fixed offset when the tzdata is absent; both
// zones here are fixed-offset in practice so the fallback is equivalent.
func mustLoadZone(name string, offsetSeconds int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offsetSeconds)
	}
	return loc
}

// ReferenceZone returns the fixed UTC+7 zone all deadlines are computed in.
func ReferenceZone() *time.Location { return referenceZone }

// DisplayZone returns the zone expiry timestamps are rendered in.
func DisplayZone() *time.Location { return displayZone }

// Today returns now's calendar date in the reference zone, in storage format.
func Today(now time.Time) string {
	return now.In(referenceZone).Format(AnchorDateLayout)
}

// ExpirationTime interprets anchorDate as midnight in the reference zone,
// adds the renewal period, and floors the result back to midnight of the
// resulting day. Deterministic for a given (anchorDate, period) pair.
func ExpirationTime(anchorDate string, period time.Duration) (time.Time, error) {
	anchor, err := time.ParseInLocation(AnchorDateLayout, anchorDate, referenceZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse anchor date %q: %w", anchorDate, err)
	}
	exp := anchor.Add(period)
	return time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, referenceZone), nil
}

// FormatRemaining renders a coarse days+hours view of the time left before
// a deadline. Hours are truncated from the remainder, not rounded, so
// "0d0h" is shown right up until the deadline passes.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
