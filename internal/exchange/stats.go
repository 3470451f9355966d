package exchange

import "time"

// Stats is a snapshot of the exchange counters.
type Stats struct {
	Writes        uint64        // frames published
	Grabs         uint64        // frames handed to the consumer
	Drops         uint64        // ready frames overwritten before being read
	Timeouts      uint64        // reads that gave up waiting
	Rejected      uint64        // writes whose decode failed
	LastTransform time.Duration // duration of the last view call
	Pending       bool          // a frame is ready and unread
}

// Stats returns the current counters. Counters are read atomically and may
// be slightly out of step with each other.
func (x *Exchange) Stats() Stats {
	x.mu.Lock()
	pending := x.arrived
	x.mu.Unlock()

	return Stats{
		Writes:        x.writes.Load(),
		Grabs:         x.grabs.Load(),
		Drops:         x.drops.Load(),
		Timeouts:      x.timeouts.Load(),
		Rejected:      x.rejected.Load(),
		LastTransform: time.Duration(x.lastTransform.Load()),
		Pending:       pending,
	}
}
