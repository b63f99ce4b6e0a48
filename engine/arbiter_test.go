package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nus-sys/neobft-artifact/aom"
)

func TestTryAcquireNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	a := NewArbiter(aom.NewMockAccelerator(), capacity, time.Second, nil)

	// A burst of capacity+5 concurrent attempts yields exactly capacity
	// successes.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < capacity+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.TryAcquire() {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, successes)
	assert.Equal(t, capacity, a.InUse())
	assert.False(t, a.TryAcquire())
}

func TestReleaseSaturatesAtZero(t *testing.T) {
	a := NewArbiter(aom.NewMockAccelerator(), 2, time.Second, nil)

	a.Release()
	assert.Equal(t, 0, a.InUse())

	require.True(t, a.TryAcquire())
	a.Release()
	a.Release()
	a.Release()
	assert.Equal(t, 0, a.InUse())
}

func TestSubmitDeliversSignature(t *testing.T) {
	accel := aom.NewMockAccelerator()
	a := NewArbiter(accel, 2, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.True(t, a.TryAcquire())

	done := make(chan []byte, 1)
	req := aom.SignRequest{Session: 1, Sequence: 7, Shard: 2, Digest: aom.Digest{1, 2}}
	err := a.Submit(ctx, req, func(sig []byte, ok bool) {
		require.True(t, ok)
		done <- sig
	})
	require.NoError(t, err)

	select {
	case sig := <-done:
		assert.NotEmpty(t, sig)
	case <-time.After(time.Second):
		t.Fatal("no accelerator response dispatched")
	}

	assert.Eventually(t, func() bool { return a.InUse() == 0 },
		time.Second, time.Millisecond, "slot must be released on response")
}

func TestTimeoutReleasesSlotAndDrops(t *testing.T) {
	accel := aom.NewMockAccelerator()
	accel.DropNext(1)
	a := NewArbiter(accel, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.True(t, a.TryAcquire())

	dropped := make(chan struct{}, 1)
	req := aom.SignRequest{Session: 1, Sequence: 8, Shard: 0, Digest: aom.Digest{1, 2}}
	err := a.Submit(ctx, req, func(sig []byte, ok bool) {
		require.False(t, ok)
		require.Nil(t, sig)
		dropped <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("timed-out request never completed")
	}

	assert.Eventually(t, func() bool { return a.InUse() == 0 },
		time.Second, time.Millisecond, "a missing response must not leak its slot")
	assert.Equal(t, 1, a.TimedOut())
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	accel := aom.NewMockAccelerator()
	accel.SetDelay(100 * time.Millisecond)
	a := NewArbiter(accel, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.True(t, a.TryAcquire())

	var (
		mu    sync.Mutex
		calls int
	)
	req := aom.SignRequest{Session: 1, Sequence: 9, Shard: 0, Digest: aom.Digest{1, 2}}
	require.NoError(t, a.Submit(ctx, req, func(_ []byte, ok bool) {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.False(t, ok)
	}))

	// Wait past both the timeout and the delayed response.
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls, "completion must fire exactly once")
	mu.Unlock()
	assert.Equal(t, 0, a.InUse())
}

// failingAccelerator rejects every submission.
type failingAccelerator struct {
	responses chan aom.SignResponse
}

func (f *failingAccelerator) Submit(context.Context, aom.SignRequest) error {
	return errors.New("accelerator unavailable")
}

func (f *failingAccelerator) Responses() <-chan aom.SignResponse { return f.responses }

func TestSubmitFailureReleasesSlot(t *testing.T) {
	a := NewArbiter(&failingAccelerator{responses: make(chan aom.SignResponse)}, 1, time.Second, nil)

	require.True(t, a.TryAcquire())
	err := a.Submit(context.Background(), aom.SignRequest{Sequence: 1, Digest: aom.Digest{1, 2}},
		func([]byte, bool) { t.Fatal("complete must not fire on submit failure") })
	require.Error(t, err)
	assert.Equal(t, 0, a.InUse())
}
