// Package monitor runs the two periodic jobs: the expiration scan that
// dispatches renewal reminders, and the datacenter diff that notifies
// subscribed users when the provider's online-VPS total moves.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"hostwarden/internal/expiry"
	"hostwarden/internal/journal"
	"hostwarden/internal/store"
	"hostwarden/models"
	"hostwarden/services/notify"
)

const (
	// reminderWindow is how close to expiry a machine must be before
	// reminders start. Machines already past expiry are excluded: once
	// the deadline is gone the user consults the list action instead.
	reminderWindow = 48 * time.Hour
	// reminderThrottle caps reminders at one per machine per rolling hour.
	reminderThrottle = time.Hour
)

// deliveryJournal is the subset of the journal the monitors need. A nil
// journal disables auditing without changing behavior.
type deliveryJournal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// ExpirationMonitor scans every machine of every reachable user and sends
// time-boxed renewal reminders.
type ExpirationMonitor struct {
	store   *store.Store
	sender  notify.Sender
	journal deliveryJournal

	interval     time.Duration
	startupDelay time.Duration
}

// NewExpirationMonitor builds the reminder job. jrnl may be nil.
func NewExpirationMonitor(st *store.Store, sender notify.Sender, jrnl deliveryJournal, interval, startupDelay time.Duration) *ExpirationMonitor {
	return &ExpirationMonitor{
		store:        st,
		sender:       sender,
		journal:      jrnl,
		interval:     interval,
		startupDelay: startupDelay,
	}
}

// Run ticks until ctx is cancelled. The first scan happens after the
// startup delay, then once per interval.
func (m *ExpirationMonitor) Run(ctx context.Context) {
	if !sleepCtx(ctx, m.startupDelay) {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.CheckOnce(ctx, time.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce performs a single scan at the given instant. Exposed so tests
// drive the tick clock directly.
func (m *ExpirationMonitor) CheckOnce(ctx context.Context, now time.Time) {
	for userID, profile := range m.store.Snapshot() {
		if profile.Blocked {
			continue
		}
		m.checkUser(ctx, now, userID, profile)
	}
}

func (m *ExpirationMonitor) checkUser(ctx context.Context, now time.Time, userID string, profile models.UserProfile) {
	for _, machine := range profile.Machines {
		exp, err := expiry.ExpirationTime(machine.AnchorDate, machine.HostClass.RenewalPeriod())
		if err != nil {
			log.Printf("[monitor] user %s machine %s has unusable anchor date: %v", userID, machine.ID, err)
			continue
		}

		timeLeft := exp.Sub(now)
		if timeLeft <= 0 || timeLeft > reminderWindow {
			continue
		}
		if last := machine.LastReminderSentAt; last != nil && now.Sub(*last) < reminderThrottle {
			continue
		}

		msg := reminderMessage(machine, exp, timeLeft)
		err = m.sender.Send(ctx, userID, msg)
		switch {
		case err == nil:
			m.record(ctx, userID, machine.ID, journal.OutcomeDelivered, "")
			m.stampReminder(userID, machine.ID, now)
		case notify.IsPermanent(err):
			m.record(ctx, userID, machine.ID, journal.OutcomePermanentFailure, err.Error())
			m.store.Block(userID)
			// The user is gone; skip their remaining machines this tick.
			return
		default:
			m.record(ctx, userID, machine.ID, journal.OutcomeTransientFailure, err.Error())
			log.Printf("[monitor] reminder to %s for machine %s failed, will retry next tick: %v", userID, machine.ID, err)
		}
	}
}

// stampReminder records the successful send on the live profile. The
// machine may have been deleted or renewed mid-send; then there is
// nothing to stamp.
func (m *ExpirationMonitor) stampReminder(userID, machineID string, now time.Time) {
	err := m.store.Update(userID, func(u *models.UserProfile) error {
		if rec := u.MachineByID(machineID); rec != nil {
			sent := now
			rec.LastReminderSentAt = &sent
		}
		return nil
	})
	if err != nil {
		log.Printf("[monitor] stamp reminder for %s/%s: %v", userID, machineID, err)
	}
}

func (m *ExpirationMonitor) record(ctx context.Context, userID, machineID, outcome, detail string) {
	if m.journal == nil {
		return
	}
	err := m.journal.Record(ctx, journal.Entry{
		UserID:    userID,
		Kind:      journal.KindReminder,
		MachineID: machineID,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("[monitor] journal reminder attempt: %v", err)
	}
}

func reminderMessage(machine models.MachineRecord, exp time.Time, timeLeft time.Duration) notify.Message {
	text := fmt.Sprintf(
		"Your machine %q expires in %s.\nDeadline: %s (%s)",
		machine.Label,
		expiry.FormatRemaining(timeLeft),
		exp.In(expiry.DisplayZone()).Format("2006-01-02 15:04"),
		expiry.DisplayZone(),
	)
	if url := machine.HostClass.RenewalURL(); url != "" {
		text += "\nRenew at: " + url
	}
	return notify.Message{
		Text:          text,
		RenewActionID: machine.ID,
	}
}

// sleepCtx waits d or until ctx is done; it reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
