package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/testutil"
)

func newTestFanout(t *testing.T, plan *aom.ShardPlan, lanes int, arbiter *Arbiter) (*Fanout, *testutil.CaptureForwarder) {
	t.Helper()
	cfg := &aom.EngineConfig{Session: 0, Lanes: lanes, Plan: plan}
	require.NoError(t, cfg.Validate())

	fwd := testutil.NewCaptureForwarder()
	f := NewFanout(cfg, NewSequencer(cfg.Session, 0, nil, nil), NewScheduler(), arbiter, fwd, nil)
	return f, fwd
}

func TestFanoutProducesOneTaggedCopyPerShard(t *testing.T) {
	plan := testutil.Plan(3)
	f, fwd := newTestFanout(t, plan, 2, nil)

	require.NoError(t, f.Process(context.Background(), testutil.Message(0, "op")))

	for _, shard := range plan.Shards {
		pkts := fwd.Packets(shard.ID)
		require.Len(t, pkts, 1, "shard %d", shard.ID)
		pkt := pkts[0]
		assert.Equal(t, shard.ID, pkt.Shard)
		assert.Equal(t, uint32(0), pkt.Sequence)
		require.Len(t, pkt.Tags, 2)
		assert.True(t, VerifyTags(shard, pkt.Message, pkt.Tags),
			"shard %d tag must verify under its own keys", shard.ID)
	}
}

func TestShardTagsAreNotInterchangeable(t *testing.T) {
	plan := testutil.Plan(2)
	f, fwd := newTestFanout(t, plan, 1, nil)

	require.NoError(t, f.Process(context.Background(), testutil.Message(0, "op")))

	pkt0 := fwd.Packets(0)[0]
	pkt1 := fwd.Packets(1)[0]
	shard0, _ := plan.Shard(0)
	shard1, _ := plan.Shard(1)

	// Swapping tags between shards must fail verification. The message
	// copies differ in their shard id, so verify each shard's own copy
	// against the other shard's tag.
	assert.False(t, VerifyTags(shard0, pkt0.Message, pkt1.Tags))
	assert.False(t, VerifyTags(shard1, pkt1.Message, pkt0.Tags))
}

func TestEndToEndReferenceVector(t *testing.T) {
	// Shard 2 with the reference key pair; the 42nd admitted message gets
	// sequence number 41 and the pinned tag.
	plan := &aom.ShardPlan{Shards: []aom.Shard{{
		ID:    2,
		Keys:  aom.KeyPair{K0: 0x33323130, K1: 0x42413938},
		Group: "239.0.0.9:59009",
	}}}
	f, fwd := newTestFanout(t, plan, 1, nil)
	f.seq.counter = 41

	msg := aom.Message{
		Session: 0,
		Digest:  aom.Digest{0xAABBCCDD, 0x11223344},
		Payload: []byte("op"),
	}
	require.NoError(t, f.Process(context.Background(), msg))

	pkts := fwd.Packets(2)
	require.Len(t, pkts, 1)
	assert.Equal(t, uint32(41), pkts[0].Sequence)
	require.Len(t, pkts[0].Tags, 1)
	assert.Equal(t, aom.Tag(0x3a514678), pkts[0].Tags[0])
}

func TestMalformedMessagesAreNeverStamped(t *testing.T) {
	f, fwd := newTestFanout(t, testutil.Plan(1), 1, nil)

	err := f.Process(context.Background(), aom.Message{Payload: []byte("op")})
	assert.ErrorIs(t, err, aom.ErrMalformedMessage, "missing digest")

	err = f.Process(context.Background(), aom.Message{Digest: aom.Digest{1, 2}})
	assert.ErrorIs(t, err, aom.ErrMalformedMessage, "missing payload")

	assert.Equal(t, uint32(0), f.seq.Next(), "rejected messages must not consume sequence numbers")
	assert.Equal(t, 0, fwd.Total())
}

func TestAcceleratorPathForwardsSignedPacket(t *testing.T) {
	accel := aom.NewMockAccelerator()
	arbiter := NewArbiter(accel, 1, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arbiter.Run(ctx)

	plan := testutil.Plan(1)
	f, fwd := newTestFanout(t, plan, 1, arbiter)

	require.NoError(t, f.Process(ctx, testutil.Message(0, "op")))

	require.Eventually(t, func() bool { return fwd.Total() == 1 },
		time.Second, time.Millisecond, "signed packet never forwarded")

	pkt := fwd.Packets(0)[0]
	assert.Empty(t, pkt.Tags)
	assert.NotEmpty(t, pkt.Signature)
	assert.Equal(t, 0, arbiter.InUse())
}

func TestSaturatedPoolFallsBackToInternalPath(t *testing.T) {
	accel := aom.NewMockAccelerator()
	accel.SetDelay(time.Hour) // first shard's request stays in flight
	arbiter := NewArbiter(accel, 1, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arbiter.Run(ctx)

	plan := testutil.Plan(2)
	f, fwd := newTestFanout(t, plan, 1, arbiter)

	require.NoError(t, f.Process(ctx, testutil.Message(0, "op")))

	// Shard 0 took the only slot; shard 1 must have hashed internally and
	// forwarded synchronously.
	pkts := fwd.Packets(1)
	require.Len(t, pkts, 1)
	assert.NotEmpty(t, pkts[0].Tags)
	assert.Empty(t, pkts[0].Signature)
	assert.Equal(t, 1, arbiter.InUse())
}

func TestAcceleratorTimeoutDropsWithoutRetry(t *testing.T) {
	accel := aom.NewMockAccelerator()
	accel.DropNext(1)
	arbiter := NewArbiter(accel, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arbiter.Run(ctx)

	f, fwd := newTestFanout(t, testutil.Plan(1), 1, arbiter)
	require.NoError(t, f.Process(ctx, testutil.Message(0, "op")))

	require.Eventually(t, func() bool { return f.Stats().Dropped == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, 0, fwd.Total(), "a dropped message must not be forwarded")
	assert.Equal(t, 0, arbiter.InUse())

	// The sequence number of the dropped message stays consumed.
	assert.Equal(t, uint32(1), f.seq.Next())
}

func TestSubmitFailureFallsBackToInternalPath(t *testing.T) {
	arbiter := NewArbiter(&failingAccelerator{responses: make(chan aom.SignResponse)}, 1, time.Second, nil)

	f, fwd := newTestFanout(t, testutil.Plan(1), 1, arbiter)
	require.NoError(t, f.Process(context.Background(), testutil.Message(0, "op")))

	pkts := fwd.Packets(0)
	require.Len(t, pkts, 1)
	assert.NotEmpty(t, pkts[0].Tags)
	assert.Equal(t, int64(1), f.Stats().Fallbacks)
}

func TestStatsSnapshot(t *testing.T) {
	f, _ := newTestFanout(t, testutil.Plan(2), 1, nil)

	require.NoError(t, f.Process(context.Background(), testutil.Message(0, "a")))
	require.NoError(t, f.Process(context.Background(), testutil.Message(0, "b")))

	stats := f.Stats()
	assert.Equal(t, uint32(2), stats.NextSequence)
	assert.Equal(t, int64(4), stats.Forwarded)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, 0, stats.InFlight)
}
