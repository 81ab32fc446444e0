package coordinator

import (
	"fmt"
	"log"
	"time"

	"github.com/majlis/chat-app/internal/metrics"
	"github.com/majlis/chat-app/internal/protocol"
)

// StartReaper begins the background inactivity sweep. Every SweepInterval it
// disconnects connections whose last activity is older than
// InactivityTimeout. It returns immediately; the goroutine exits when the
// coordinator is closed.
func (c *Coordinator) StartReaper() {
	go func() {
		ticker := time.NewTicker(c.limits.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.sweepIdle(time.Now())
			}
		}
	}()
}

// sweepIdle runs one reaper pass. It holds the coordinator mutex for the
// whole pass, so no event can observe a half-reaped connection: the
// inactivity notice, departure bookkeeping, and presence purge are one
// critical section. The transport-level disconnects happen after the lock is
// released; by then the ids are already purged, so the disconnect callbacks
// no-op.
func (c *Coordinator) sweepIdle(now time.Time) {
	cutoff := now.Add(-c.limits.InactivityTimeout)

	c.mu.Lock()
	ids := c.presence.IdleSince(cutoff)
	reaped := make([]string, 0, len(ids))
	for _, id := range ids {
		entry, ok := c.presence.Get(id)
		if !ok {
			continue
		}
		if entry.Room != "" && entry.Username != "" {
			notice := c.systemMessage(fmt.Sprintf("%s was disconnected due to inactivity", entry.Username))
			c.broadcastRoomLocked(entry.Room, protocol.TypeMessage, notice)
		}
		c.purgeLocked(id)
		reaped = append(reaped, id)
		metrics.ModerationActionsTotal.WithLabelValues("reaped").Inc()
		log.Printf("coordinator: reaped idle conn=%s user=%s room=%s", id, entry.Username, entry.Room)
	}
	c.mu.Unlock()

	for _, id := range reaped {
		c.transport.Disconnect(id)
		metrics.ConnectionsTotal.Dec()
	}
}
