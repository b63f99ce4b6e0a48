package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/nus-sys/neobft-artifact/aom"
)

// pendingKey correlates an outstanding accelerator request with its
// eventual response.
type pendingKey struct {
	Session  aom.SessionID
	Sequence uint32
	Shard    aom.ShardID
}

type pendingRequest struct {
	enqueued time.Time
	complete func(signature []byte, ok bool)
}

// Arbiter tracks external accelerator capacity and routes message copies
// to it while slots are available. Saturation is not an error: the caller
// falls back to the internal hashing path. A response that never arrives
// is reclaimed after the configured timeout; the slot is released, the
// condition logged, and the message dropped without retry so a possibly
// duplicate sequence number is never re-injected.
type Arbiter struct {
	capacity int64
	inUse    *atomic.Int64
	timedOut *atomic.Int64
	accel    aom.Accelerator
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey]pendingRequest
}

// NewArbiter creates an arbiter over an accelerator with the given slot
// capacity and response timeout.
func NewArbiter(accel aom.Accelerator, capacity int, timeout time.Duration, log *slog.Logger) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{
		capacity: int64(capacity),
		inUse:    atomic.NewInt64(0),
		timedOut: atomic.NewInt64(0),
		accel:    accel,
		timeout:  timeout,
		log:      log.With("component", "arbiter"),
		pending:  make(map[pendingKey]pendingRequest),
	}
}

// TryAcquire claims an accelerator slot. It returns false once all slots
// are in use; in_use never exceeds capacity.
func (a *Arbiter) TryAcquire() bool {
	for {
		cur := a.inUse.Load()
		if cur >= a.capacity {
			return false
		}
		if a.inUse.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot, saturating at zero.
func (a *Arbiter) Release() {
	for {
		cur := a.inUse.Load()
		if cur == 0 {
			return
		}
		if a.inUse.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// InUse returns the number of currently held slots.
func (a *Arbiter) InUse() int { return int(a.inUse.Load()) }

// TimedOut returns how many accelerator requests expired unanswered.
func (a *Arbiter) TimedOut() int { return int(a.timedOut.Load()) }

// Submit hands a message copy to the accelerator. The caller must hold a
// slot from TryAcquire. complete fires exactly once: with the signature
// when the response arrives, or with ok=false if the wait times out. If
// submission itself fails the slot is released immediately and the caller
// should fall back to the internal path.
func (a *Arbiter) Submit(ctx context.Context, req aom.SignRequest, complete func(signature []byte, ok bool)) error {
	key := pendingKey{Session: req.Session, Sequence: req.Sequence, Shard: req.Shard}

	a.mu.Lock()
	a.pending[key] = pendingRequest{enqueued: time.Now(), complete: complete}
	a.mu.Unlock()

	if err := a.accel.Submit(ctx, req); err != nil {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
		a.Release()
		return fmt.Errorf("accelerator submit: %w", err)
	}
	return nil
}

// Run consumes accelerator responses and expires unanswered requests.
// It returns when ctx is cancelled or the accelerator closes its response
// channel.
func (a *Arbiter) Run(ctx context.Context) {
	interval := a.timeout / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-a.accel.Responses():
			if !ok {
				return
			}
			a.dispatch(resp)
		case <-ticker.C:
			a.expire()
		}
	}
}

func (a *Arbiter) dispatch(resp aom.SignResponse) {
	key := pendingKey{Session: resp.Session, Sequence: resp.Sequence, Shard: resp.Shard}

	a.mu.Lock()
	req, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if !ok {
		// Response for an already-expired request: the slot was reclaimed
		// and the message dropped, nothing to reintegrate.
		a.log.Debug("late accelerator response discarded",
			"sequence", resp.Sequence, "shard", uint64(resp.Shard))
		return
	}

	a.Release()
	req.complete(resp.Signature, true)
}

func (a *Arbiter) expire() {
	deadline := time.Now().Add(-a.timeout)

	a.mu.Lock()
	var expired []pendingRequest
	for key, req := range a.pending {
		if req.enqueued.Before(deadline) {
			delete(a.pending, key)
			expired = append(expired, req)
			a.log.Warn("accelerator response timed out, dropping message",
				"sequence", key.Sequence, "shard", uint64(key.Shard))
		}
	}
	a.mu.Unlock()

	for _, req := range expired {
		a.timedOut.Inc()
		a.Release()
		req.complete(nil, false)
	}
}
