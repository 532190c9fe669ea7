package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"hostwarden/internal/journal"
	"hostwarden/internal/store"
	"hostwarden/models"
	"hostwarden/services/datacenter"
	"hostwarden/services/notify"
)

// maxChangeSendWorkers bounds the fan-out when many users subscribe to
// datacenter changes. One slow recipient must not serialize the batch.
const maxChangeSendWorkers = 4

// DatacenterMonitor polls the snapshot source and notifies subscribed
// users whenever the total online count moves away from their baseline.
type DatacenterMonitor struct {
	store   *store.Store
	source  datacenter.Source
	sender  notify.Sender
	journal deliveryJournal

	interval     time.Duration
	startupDelay time.Duration
}

// NewDatacenterMonitor builds the change-detection job. jrnl may be nil.
func NewDatacenterMonitor(st *store.Store, src datacenter.Source, sender notify.Sender, jrnl deliveryJournal, interval, startupDelay time.Duration) *DatacenterMonitor {
	return &DatacenterMonitor{
		store:        st,
		source:       src,
		sender:       sender,
		journal:      jrnl,
		interval:     interval,
		startupDelay: startupDelay,
	}
}

// Run ticks until ctx is cancelled. The startup delay is deliberately
// different from the expiration monitor's so the two jobs don't wake up
// together.
func (m *DatacenterMonitor) Run(ctx context.Context) {
	if !sleepCtx(ctx, m.startupDelay) {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.CheckOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// changeCandidate is one subscribed user due a comparison this tick.
type changeCandidate struct {
	userID   string
	baseline *int

	// filled in by the send fan-out
	sendErr error
}

// CheckOnce fetches one snapshot and converges every subscribed user's
// baseline against it. An unavailable source is a silent no-op for the
// tick; per-user delivery failures never abort the rest of the batch.
func (m *DatacenterMonitor) CheckOnce(ctx context.Context) {
	users := m.store.Snapshot()

	candidates := make([]*changeCandidate, 0, len(users))
	for userID, profile := range users {
		if !profile.MonitoringEnabled || profile.Blocked {
			continue
		}
		candidates = append(candidates, &changeCandidate{userID: userID, baseline: profile.LastKnownTotal})
	}
	if len(candidates) == 0 {
		return
	}

	snap, err := m.source.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, datacenter.ErrUnavailable) {
			log.Printf("[monitor] datacenter snapshot fetch failed: %v", err)
		}
		return
	}

	// Send change notifications concurrently; baseline bookkeeping stays
	// on this goroutine afterwards.
	p := pool.New().WithMaxGoroutines(maxChangeSendWorkers)
	for _, c := range candidates {
		if c.baseline == nil || *c.baseline == snap.Total {
			// First observation sets the baseline silently; an unchanged
			// total needs nothing at all.
			continue
		}
		p.Go(func() {
			msg := changeMessage(*c.baseline, snap)
			c.sendErr = m.sender.Send(ctx, c.userID, msg)
			switch {
			case c.sendErr == nil:
				m.recordChange(ctx, c.userID, journal.OutcomeDelivered, "")
			case notify.IsPermanent(c.sendErr):
				m.recordChange(ctx, c.userID, journal.OutcomePermanentFailure, c.sendErr.Error())
			default:
				m.recordChange(ctx, c.userID, journal.OutcomeTransientFailure, c.sendErr.Error())
				log.Printf("[monitor] change notification to %s failed: %v", c.userID, c.sendErr)
			}
		})
	}
	p.Wait()

	// One flush for the whole tick: every candidate's baseline converges
	// to the observed total, permanently unreachable users get blocked.
	m.store.UpdateAll(func(live map[string]*models.UserProfile) bool {
		changed := false
		for _, c := range candidates {
			u, ok := live[c.userID]
			if !ok {
				continue
			}
			if c.sendErr != nil && notify.IsPermanent(c.sendErr) {
				u.Blocked = true
				changed = true
			}
			if u.LastKnownTotal == nil || *u.LastKnownTotal != snap.Total {
				total := snap.Total
				u.LastKnownTotal = &total
				changed = true
			}
		}
		return changed
	})
}

func (m *DatacenterMonitor) recordChange(ctx context.Context, userID, outcome, detail string) {
	if m.journal == nil {
		return
	}
	err := m.journal.Record(ctx, journal.Entry{
		UserID:  userID,
		Kind:    journal.KindDatacenterChange,
		Outcome: outcome,
		Detail:  detail,
	})
	if err != nil {
		log.Printf("[monitor] journal change attempt: %v", err)
	}
}

func changeMessage(oldTotal int, snap *models.DatacenterSnapshot) notify.Message {
	return notify.Message{
		Text: fmt.Sprintf(
			"Datacenter server count changed: %d -> %d.\n\nBreakdown:\n%s",
			oldTotal, snap.Total, snap.Breakdown(),
		),
	}
}
