package aom

import (
	"context"
	"encoding/binary"
	"time"
)

// Forwarder delivers a sequenced, tagged packet to one shard's multicast
// group. Implementations must be safe for concurrent use; the fan-out may
// forward different shards from different goroutines.
type Forwarder interface {
	Forward(ctx context.Context, shard Shard, packet *Packet) error
}

// SignRequest identifies one message copy handed to the external signing
// accelerator. The triple (Session, Sequence, Shard) correlates the request
// with its eventual response.
type SignRequest struct {
	Session  SessionID `json:"session"`
	Sequence uint32    `json:"sequence"`
	Shard    ShardID   `json:"shard"`
	Digest   Digest    `json:"digest"`
}

// Canonical returns the byte string the accelerator signs: the sequence
// number, session, shard, and digest in packet order. Both the signer and
// verifying replicas derive it the same way.
func (r SignRequest) Canonical() []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint32(buf[0:4], r.Sequence)
	buf[4] = byte(r.Session)
	buf[5] = byte(r.Shard)
	binary.BigEndian.PutUint32(buf[6:10], r.Digest[0])
	binary.BigEndian.PutUint32(buf[10:14], r.Digest[1])
	return buf
}

// SignResponse carries the accelerator's signature back to the arbiter.
type SignResponse struct {
	SignRequest
	Signature []byte `json:"signature"`
}

// Accelerator is the asymmetric-crypto co-processor the arbiter can route
// messages to instead of the internal round engine. Submission is
// asynchronous: responses arrive on the Responses channel in no particular
// order and are matched back to their request by the arbiter. A response
// may never arrive; the arbiter bounds the wait.
type Accelerator interface {
	// Submit hands one signing request to the accelerator. It returns once
	// the request is enqueued, not once it is signed.
	Submit(ctx context.Context, req SignRequest) error

	// Responses streams completed signatures. The channel is closed when
	// the accelerator shuts down.
	Responses() <-chan SignResponse
}

// EngineConfig carries the startup configuration of the sequencing engine.
// All fields are fixed for the lifetime of the process.
type EngineConfig struct {
	// Session is the identifier stamped into every admitted message.
	Session SessionID `json:"session"`

	// Lanes is the number of independently keyed hashing lanes per shard.
	// Each lane contributes 32 bits to the combined tag.
	Lanes int `json:"lanes"`

	// Plan maps shards to replica multicast groups and key pairs.
	Plan *ShardPlan `json:"plan"`

	// AcceleratorCapacity is the number of signing slots the external
	// accelerator exposes. Zero disables the accelerator path entirely.
	AcceleratorCapacity int `json:"accelerator_capacity"`

	// AcceleratorTimeout bounds the wait for an accelerator response before
	// the slot is reclaimed and the message dropped.
	AcceleratorTimeout time.Duration `json:"accelerator_timeout,string"`
}

// Validate checks the configuration invariants the engine relies on.
func (c *EngineConfig) Validate() error {
	if c.Lanes < 1 {
		return errInvalidLanes
	}
	if c.Plan == nil {
		return ErrEmptyPlan
	}
	if err := c.Plan.Validate(); err != nil {
		return err
	}
	if c.AcceleratorCapacity < 0 {
		return errInvalidCapacity
	}
	if c.AcceleratorCapacity > 0 && c.AcceleratorTimeout <= 0 {
		return errInvalidTimeout
	}
	return nil
}
