package lockstore

import "time"

// LockInfo describes the current holder of a key, derived from a queue
// head. AcquiredAt is always UTC (see clock.Real.Now).
type LockInfo struct {
	Session    string    `json:"session"`
	File       string    `json:"file"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// QueueInfo describes the full state of one key's queue: the holder (if
// any), its acquisition instant, the queue length, and the ordered tail
// of waiter session ids. Exists is false for a key with no queue at all;
// a present queue always has a holder, so AcquiredAt is only meaningful
// when Exists is true. AcquiredAt is always UTC (see clock.Real.Now).
// time.Time has no "empty" JSON value, so AcquiredAt is emitted even for
// its zero value rather than using omitempty, which would be a no-op.
type QueueInfo struct {
	File        string    `json:"file"`
	Holder      string    `json:"holder,omitempty"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	QueueLength int       `json:"queueLength"`
	Waiters     []string  `json:"waiters,omitempty"`
	Exists      bool      `json:"-"`
}
