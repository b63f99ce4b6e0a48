package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/nus-sys/neobft-artifact/aom"
)

// Fanout runs the full admission path: validate, stamp, then authenticate
// and forward one copy of the message per shard of the plan. Shards are
// independent; their relative completion order is unspecified, but a
// shard's copy is only forwarded once that shard's own tag is complete.
type Fanout struct {
	plan    *aom.ShardPlan
	lanes   int
	seq     *Sequencer
	sched   *Scheduler
	arbiter *Arbiter // nil when the accelerator path is disabled
	fwd     aom.Forwarder
	log     *slog.Logger

	forwarded   *atomic.Int64
	dropped     *atomic.Int64
	accelerated *atomic.Int64
	fallbacks   *atomic.Int64
}

// NewFanout wires the fan-out over an already-validated configuration.
// arbiter may be nil to disable the accelerator path.
func NewFanout(cfg *aom.EngineConfig, seq *Sequencer, sched *Scheduler, arbiter *Arbiter, fwd aom.Forwarder, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		plan:        cfg.Plan,
		lanes:       cfg.Lanes,
		seq:         seq,
		sched:       sched,
		arbiter:     arbiter,
		fwd:         fwd,
		log:         log.With("component", "fanout"),
		forwarded:   atomic.NewInt64(0),
		dropped:     atomic.NewInt64(0),
		accelerated: atomic.NewInt64(0),
		fallbacks:   atomic.NewInt64(0),
	}
}

// Process admits one message. Malformed messages are rejected before
// stamping so the sequence stays gapless. The message is stamped exactly
// once, before branching to either authentication path, so both paths see
// the same authoritative sequence number.
func (f *Fanout) Process(ctx context.Context, msg aom.Message) error {
	if msg.Digest.IsZero() || len(msg.Payload) == 0 {
		return aom.ErrMalformedMessage
	}

	if _, err := f.seq.Stamp(&msg); err != nil {
		return fmt.Errorf("stamp: %w", err)
	}

	for _, shard := range f.plan.Shards {
		copy := msg
		copy.Shard = shard.ID

		if f.arbiter != nil && f.arbiter.TryAcquire() {
			f.accelerate(ctx, shard, copy)
			continue
		}
		if err := f.hashAndForward(ctx, shard, copy); err != nil {
			return err
		}
	}
	return nil
}

// hashAndForward runs the internal path for one shard copy: every lane's
// hash to completion, then the forward.
func (f *Fanout) hashAndForward(ctx context.Context, shard aom.Shard, msg aom.Message) error {
	words := msg.Words()
	tags := make([]aom.Tag, f.lanes)
	for lane := 0; lane < f.lanes; lane++ {
		key := StateKey{
			Session:  msg.Session,
			Sequence: msg.Sequence,
			Shard:    shard.ID,
			Lane:     aom.LaneID(lane),
		}
		f.sched.Begin(key, laneKeys(shard.Keys, aom.LaneID(lane)), words)
		tag, err := f.sched.Run(key)
		if err != nil {
			return fmt.Errorf("hash shard %d lane %d: %w", shard.ID, lane, err)
		}
		tags[lane] = tag
	}
	f.forward(ctx, shard, &aom.Packet{Message: msg, Tags: tags})
	return nil
}

// accelerate hands one shard copy to the accelerator. The caller already
// holds the slot. Submission failure falls back to the internal path; a
// missing response drops the copy without retry.
func (f *Fanout) accelerate(ctx context.Context, shard aom.Shard, msg aom.Message) {
	req := aom.SignRequest{
		Session:  msg.Session,
		Sequence: msg.Sequence,
		Shard:    shard.ID,
		Digest:   msg.Digest,
	}
	err := f.arbiter.Submit(ctx, req, func(signature []byte, ok bool) {
		if !ok {
			f.dropped.Inc()
			return
		}
		f.forward(ctx, shard, &aom.Packet{Message: msg, Signature: signature})
	})
	if err != nil {
		f.fallbacks.Inc()
		f.log.Warn("accelerator submit failed, using internal path",
			"err", err, "sequence", msg.Sequence, "shard", uint64(shard.ID))
		if herr := f.hashAndForward(ctx, shard, msg); herr != nil {
			f.log.Error("internal fallback failed", "err", herr)
		}
		return
	}
	f.accelerated.Inc()
}

func (f *Fanout) forward(ctx context.Context, shard aom.Shard, pkt *aom.Packet) {
	if err := f.fwd.Forward(ctx, shard, pkt); err != nil {
		f.dropped.Inc()
		f.log.Error("forward failed", "err", err,
			"sequence", pkt.Sequence, "shard", uint64(shard.ID))
		return
	}
	f.forwarded.Inc()
}

// Stats is a point-in-time snapshot of engine counters for the admin API.
type Stats struct {
	NextSequence  uint32 `json:"next_sequence"`
	Epoch         uint32 `json:"epoch"`
	Forwarded     int64  `json:"forwarded"`
	Dropped       int64  `json:"dropped"`
	Accelerated   int64  `json:"accelerated"`
	Fallbacks     int64  `json:"fallbacks"`
	InFlight      int    `json:"in_flight_hashes"`
	SlotsInUse    int    `json:"accelerator_slots_in_use"`
	AccelTimeouts int    `json:"accelerator_timeouts"`
}

// Stats snapshots the counters.
func (f *Fanout) Stats() Stats {
	s := Stats{
		NextSequence: f.seq.Next(),
		Epoch:        f.seq.Epoch(),
		Forwarded:    f.forwarded.Load(),
		Dropped:      f.dropped.Load(),
		Accelerated:  f.accelerated.Load(),
		Fallbacks:    f.fallbacks.Load(),
		InFlight:     f.sched.InFlight(),
	}
	if f.arbiter != nil {
		s.SlotsInUse = f.arbiter.InUse()
		s.AccelTimeouts = f.arbiter.TimedOut()
	}
	return s
}
