// Package lockstore implements the process-wide registry of per-key
// FIFO lock queues: admission (enqueue-or-acquire), release, session-wide
// release, introspection, blocking wait-for-turn, and TTL eviction.
package lockstore

import (
	"context"
	"sync"
	"time"

	"github.com/lockcoord/lockd/internal/clock"
	"github.com/lockcoord/lockd/internal/lockqueue"
	"github.com/lockcoord/lockd/internal/metrics"
)

const (
	// DefaultTTL is the maximum duration a holder may retain a key before
	// eviction becomes permissible.
	DefaultTTL = 5 * time.Minute

	// DefaultWaitTick is the internal liveness backstop inside WaitForTurn.
	// It never propagates out as a caller-visible cancellation; it only
	// bounds how stale a lost-wakeup can get. Any value in
	// [1s, 15s].
	DefaultWaitTick = 5 * time.Second
)

// Store owns the key -> *lockqueue.Queue registry and implements every
// LockStore operation.
type Store struct {
	ttl         time.Duration
	sweepPeriod time.Duration
	waitTick    time.Duration
	clock       clock.Clock

	mu     sync.Mutex
	queues map[string]*lockqueue.Queue

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Store at construction.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepPeriod overrides the TTL sweeper's period, which otherwise
// defaults to the store's TTL.
func WithSweepPeriod(period time.Duration) Option {
	return func(s *Store) { s.sweepPeriod = period }
}

// WithClock injects a clock.Clock, used by tests to control time deterministically.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithWaitTick overrides the internal WaitForTurn liveness tick.
func WithWaitTick(d time.Duration) Option {
	return func(s *Store) { s.waitTick = d }
}

// New constructs a Store and starts its TTL sweeper at sweepPeriod
// intervals (default: the TTL itself). Callers must eventually call
// Close to stop the sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		ttl:      DefaultTTL,
		waitTick: DefaultWaitTick,
		clock:    clock.Real{},
		queues:   make(map[string]*lockqueue.Queue),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepPeriod <= 0 {
		s.sweepPeriod = s.ttl
	}
	s.startSweeper()
	return s
}

// getOrCreateLocked returns the queue for key, creating it if absent. The
// store's map mutex must be held by the caller; this is the "obtain-or-
// create under map-level synchronization" step of admission.
func (s *Store) getOrCreateLocked(key string) *lockqueue.Queue {
	q, ok := s.queues[key]
	if !ok {
		q = lockqueue.New()
		s.queues[key] = q
		metrics.QueuesActive.Set(float64(len(s.queues)))
	}
	return q
}

// getLocked returns the existing queue for key, or nil.
func (s *Store) getLocked(key string) *lockqueue.Queue {
	return s.queues[key]
}

// acquireCurrentQueue returns key's queue locked under its own token,
// guaranteed not to be a stale orphan that removeIfEmptyLocked has already
// evicted from the map. It retries against a fresh queue if the one it
// fetched was marked removed between the map lookup and taking the token.
func (s *Store) acquireCurrentQueue(key string) *lockqueue.Queue {
	for {
		s.mu.Lock()
		q := s.getOrCreateLocked(key)
		s.mu.Unlock()

		q.Lock()
		if !q.RemovedLocked() {
			return q
		}
		q.Unlock()
	}
}

// removeIfEmptyLocked deletes key's queue from the map if q is still
// empty and is still the queue the map holds for key (a stale q that was
// already removed leaves a newer queue for the same key in place), and
// marks the queue removed in the same critical section as the
// deletion. Caller must hold the store mutex. Checking count and deleting
// under one continuous hold of the queue's token (rather than releasing it
// between the check and the delete) closes the window where a concurrent
// EnqueueOrAcquire could enqueue into this exact queue object after the
// emptiness check but before the delete, which would otherwise orphan that
// enqueue outside the map; EnqueueOrAcquire checks RemovedLocked after
// taking the token to detect exactly this and retries against a fresh
// queue instead.
func (s *Store) removeIfEmptyLocked(key string, q *lockqueue.Queue) {
	q.Lock()
	defer q.Unlock()
	if q.CountLocked() == 0 && s.queues[key] == q {
		q.MarkRemovedLocked()
		delete(s.queues, key)
		metrics.QueuesActive.Set(float64(len(s.queues)))
	}
}

// EnqueueOrAcquire is idempotent if session
// already holds a position; otherwise evicts an expired holder (at most
// once) before enqueuing the new arrival.
func (s *Store) EnqueueOrAcquire(key, session string) (position, queueLength int, acquired bool) {
	q := s.acquireCurrentQueue(key)
	defer q.Unlock()

	if pos := q.PositionLocked(session); pos > 0 {
		return pos, q.CountLocked(), pos == 1
	}

	now := s.clock.Now()
	if q.CountLocked() > 0 {
		if now.Sub(q.AcquiredAtLocked()) > s.ttl {
			q.DequeueLocked(now)
			q.NotifyAllLocked()
			metrics.TTLEvictionsTotal.WithLabelValues("acquire").Inc()
		}
	}

	q.EnqueueLocked(session, now)
	position = q.CountLocked()
	queueLength = position
	acquired = position == 1

	metrics.ObserveQueueLength(key, queueLength)
	if acquired {
		metrics.AcquireTotal.WithLabelValues("immediate").Inc()
	} else {
		metrics.AcquireTotal.WithLabelValues("queued").Inc()
	}
	return position, queueLength, acquired
}

// TryRelease releases key if session currently holds it.
func (s *Store) TryRelease(key, session string) bool {
	s.mu.Lock()
	q := s.getLocked(key)
	s.mu.Unlock()

	if q == nil {
		metrics.ReleaseTotal.WithLabelValues("absent").Inc()
		return false
	}

	q.Lock()
	holder, ok := q.HolderLocked()
	if !ok || holder != session {
		q.Unlock()
		metrics.ReleaseTotal.WithLabelValues("not_holder").Inc()
		return false
	}

	q.DequeueLocked(s.clock.Now())
	q.NotifyAllLocked()
	remaining := q.CountLocked()
	q.Unlock()

	metrics.ObserveQueueLength(key, remaining)
	if remaining == 0 {
		s.mu.Lock()
		s.removeIfEmptyLocked(key, q)
		s.mu.Unlock()
	}

	metrics.ReleaseTotal.WithLabelValues("ok").Inc()
	return true
}

// ReleaseAll releases every key session holds
// and removes it from every queue it is merely waiting on, without
// notifying on waiter-only removal (a deliberate, non-
// conservative contract). Returns the number of keys released as holder.
func (s *Store) ReleaseAll(session string) int {
	s.mu.Lock()
	keys := make([]string, 0, len(s.queues))
	snapshot := make([]*lockqueue.Queue, 0, len(s.queues))
	for k, q := range s.queues {
		keys = append(keys, k)
		snapshot = append(snapshot, q)
	}
	s.mu.Unlock()

	released := 0
	for i, q := range snapshot {
		key := keys[i]

		q.Lock()
		holder, ok := q.HolderLocked()
		if ok && holder == session {
			q.DequeueLocked(s.clock.Now())
			q.NotifyAllLocked()
			remaining := q.CountLocked()
			q.Unlock()

			metrics.ObserveQueueLength(key, remaining)
			released++
			if remaining == 0 {
				s.mu.Lock()
				s.removeIfEmptyLocked(key, q)
				s.mu.Unlock()
			}
			continue
		}

		q.RemoveWaiterLocked(session)
		length := q.CountLocked()
		q.Unlock()
		metrics.ObserveQueueLength(key, length)
	}

	if released > 0 {
		metrics.ReleaseAllTotal.Add(float64(released))
	}
	return released
}

// GetHolder returns the current holder of key, or "" if unheld.
func (s *Store) GetHolder(key string) (string, bool) {
	s.mu.Lock()
	q := s.getLocked(key)
	s.mu.Unlock()
	if q == nil {
		return "", false
	}
	q.Lock()
	defer q.Unlock()
	return q.HolderLocked()
}

// GetQueueInfo snapshots the full queue state for key.
func (s *Store) GetQueueInfo(key string) QueueInfo {
	s.mu.Lock()
	q := s.getLocked(key)
	s.mu.Unlock()
	if q == nil {
		return QueueInfo{File: key, Exists: false}
	}

	q.Lock()
	defer q.Unlock()
	holder, _ := q.HolderLocked()
	return QueueInfo{
		File:        key,
		Holder:      holder,
		AcquiredAt:  q.AcquiredAtLocked(),
		QueueLength: q.CountLocked(),
		Waiters:     q.WaitersLocked(),
		Exists:      true,
	}
}

// Position returns session's 1-indexed position in key's queue, or 0 if
// it holds no position there (including when the queue doesn't exist).
func (s *Store) Position(key, session string) int {
	s.mu.Lock()
	q := s.getLocked(key)
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	q.Lock()
	defer q.Unlock()
	return q.PositionLocked(session)
}

// GetAllLocks returns one LockInfo per non-empty queue. Ordering across
// keys is unspecified.
func (s *Store) GetAllLocks() []LockInfo {
	s.mu.Lock()
	snapshot := make(map[string]*lockqueue.Queue, len(s.queues))
	for k, q := range s.queues {
		snapshot[k] = q
	}
	s.mu.Unlock()

	out := make([]LockInfo, 0, len(snapshot))
	for key, q := range snapshot {
		q.Lock()
		holder, ok := q.HolderLocked()
		acquiredAt := q.AcquiredAtLocked()
		q.Unlock()
		if ok {
			out = append(out, LockInfo{Session: holder, File: key, AcquiredAt: acquiredAt})
		}
	}
	return out
}

// GetAllQueues returns a QueueInfo, including waiters, for every non-empty
// queue. Ordering across keys is unspecified; waiter order within a queue
// is preserved.
func (s *Store) GetAllQueues() []QueueInfo {
	s.mu.Lock()
	snapshot := make(map[string]*lockqueue.Queue, len(s.queues))
	for k, q := range s.queues {
		snapshot[k] = q
	}
	s.mu.Unlock()

	out := make([]QueueInfo, 0, len(snapshot))
	for key, q := range snapshot {
		q.Lock()
		holder, ok := q.HolderLocked()
		acquiredAt := q.AcquiredAtLocked()
		length := q.CountLocked()
		waiters := q.WaitersLocked()
		q.Unlock()
		if length == 0 {
			continue
		}
		info := QueueInfo{File: key, QueueLength: length, Waiters: waiters, Exists: true}
		if ok {
			info.Holder = holder
			info.AcquiredAt = acquiredAt
		}
		out = append(out, info)
	}
	return out
}

// WaitForTurn blocks until session becomes the
// holder of key (true), is no longer queued (false), or ctx is done
// (false). The internal waitTick is a liveness backstop only; it never
// surfaces as a caller-visible cancellation.
func (s *Store) WaitForTurn(ctx context.Context, key, session string) bool {
	start := s.clock.Now()
	defer func() {
		metrics.WaitDuration.Observe(s.clock.Now().Sub(start).Seconds())
	}()

	for {
		s.mu.Lock()
		q := s.getLocked(key)
		s.mu.Unlock()
		if q == nil {
			return false
		}

		q.Lock()
		pos := q.PositionLocked(session)
		if pos == 0 {
			q.Unlock()
			return false
		}
		if pos == 1 {
			q.Unlock()
			return true
		}
		notifier := q.NotifierLocked()
		q.Unlock()

		select {
		case <-notifier:
			// state changed; loop to re-check position
		case <-s.clock.After(s.waitTick):
			// liveness backstop; loop to re-check position
		case <-ctx.Done():
			return false
		}
	}
}

// startSweeper launches the periodic TTL sweeper goroutine. It uses the
// store's injected clock (rather than a bare time.Ticker) so that tests
// driving a clock.Mock can also drive sweeps deterministically.
func (s *Store) startSweeper() {
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		for {
			select {
			case <-s.clock.After(s.sweepPeriod):
				s.sweepOnce()
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Close stops the sweeper goroutine, waits for it to exit, and then drains
// the store: every queue is emptied and removed from the registry, and any
// WaitForTurn blocked on one is woken (and returns false).
func (s *Store) Close() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	<-s.sweepDone

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, q := range s.queues {
		q.Lock()
		for q.CountLocked() > 0 {
			q.DequeueLocked(s.clock.Now())
		}
		q.MarkRemovedLocked()
		q.NotifyAllLocked()
		q.Unlock()
		delete(s.queues, key)
		metrics.ObserveQueueLength(key, 0)
	}
	metrics.QueuesActive.Set(0)
}

// sweepOnce runs a single sweep pass: one eviction per queue per sweep.
func (s *Store) sweepOnce() {
	s.mu.Lock()
	snapshot := make(map[string]*lockqueue.Queue, len(s.queues))
	for k, q := range s.queues {
		snapshot[k] = q
	}
	s.mu.Unlock()

	now := s.clock.Now()
	for key, q := range snapshot {
		q.Lock()
		if q.CountLocked() > 0 && now.Sub(q.AcquiredAtLocked()) > s.ttl {
			q.DequeueLocked(now)
			q.NotifyAllLocked()
			metrics.TTLEvictionsTotal.WithLabelValues("sweeper").Inc()
		}
		remaining := q.CountLocked()
		q.Unlock()

		metrics.ObserveQueueLength(key, remaining)
		if remaining == 0 {
			s.mu.Lock()
			s.removeIfEmptyLocked(key, q)
			s.mu.Unlock()
		}
	}
}
