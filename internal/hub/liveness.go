package hub

import (
	"time"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

// runSweeper drives the application-level presence signal. It is
// deliberately independent of the transport ping in the write pump: a
// participant whose client stopped sending heartbeats goes inactive and is
// announced as gone even while the socket underneath still answers pings.
func (h *Hub) runSweeper() {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep(time.Now())
		case <-h.ctx.Done():
			return
		}
	}
}

// sweep flips participants silent past the presence timeout to inactive
// and broadcasts their departure.
func (h *Hub) sweep(now time.Time) {
	cutoff := now.Add(-h.cfg.PresenceTimeout)
	flipped := h.presence.MarkInactive(cutoff)
	if len(flipped) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pid := range flipped {
		h.logger.Info(h.ctx, "participant inactive", "participant_id", pid)
		h.publishLocked(protocol.NewPresenceEvent(protocol.TypePresenceLeave, pid), "")
	}
}
