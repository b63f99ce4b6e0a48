package aom

import "fmt"

// SessionID identifies a sequencing session. A deployment runs one live
// session at a time; the identifier is carried in every packet so replicas
// can discard traffic from a stale session.
type SessionID uint8

// ShardID identifies one replica subgroup of the multicast fan-out.
type ShardID uint8

// LaneID identifies one independently keyed hashing lane within a shard.
type LaneID uint8

// Digest is the 64-bit message digest authenticated by the engine, carried
// as two 32-bit words in packet order.
type Digest [2]uint32

// IsZero reports whether the digest is absent. Admission treats an all-zero
// digest as a malformed message.
func (d Digest) IsZero() bool {
	return d[0] == 0 && d[1] == 0
}

// Message is one application message moving through the engine.
//
// Session and Digest are set by the upstream producer. Sequence is assigned
// by the sequencer exactly once; Shard is assigned per fan-out copy. A
// message is immutable once stamped: the engine works on per-shard copies
// and never mutates a stamped message in place.
type Message struct {
	Session  SessionID
	Shard    ShardID
	Sequence uint32
	Digest   Digest
	Payload  []byte
}

// Words returns the four 32-bit words authenticated by the round engine,
// in compression order: sequence number, both digest words, and the packed
// session/shard identifiers.
func (m *Message) Words() [4]uint32 {
	return [4]uint32{
		m.Sequence,
		m.Digest[0],
		m.Digest[1],
		uint32(m.Session)<<16 | uint32(m.Shard),
	}
}

// Tag is the authentication tag for one (shard, lane): the 32-bit output of
// the keyed round function.
type Tag uint32

func (t Tag) String() string {
	return fmt.Sprintf("%08x", uint32(t))
}

// Packet is a finished, forwardable message copy for one shard: the
// stamped message plus either the per-lane symmetric tags (internal path)
// or the accelerator's signature (offload path). Exactly one of Tags and
// Signature is set.
type Packet struct {
	Message
	Tags      []Tag
	Signature []byte
}
