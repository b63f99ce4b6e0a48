// Package siphash implements the incremental keyed round function at the
// heart of the sequencer: a HalfSipHash-style pseudorandom function over
// 32-bit words with two compression rounds per input word and four
// finalization rounds.
//
// The hash is expressed as a resumable computation. Each call to Pass
// performs exactly one pass (two ARX rounds) and returns the successor
// state; the caller carries the state between calls. This keeps every step
// of the computation bounded and lets an external scheduler interleave
// passes of many in-flight hashes. Everything here is a pure function of
// its inputs.
package siphash

import "math/bits"

// Phase tracks where a hash state is in the fixed pass schedule.
type Phase uint8

const (
	// Compression consumes one input word per pass.
	Compression Phase = iota
	// FinalizeA marks the state and runs the first finalization pass.
	FinalizeA
	// FinalizeB runs the second finalization pass.
	FinalizeB
	// Done means the tag can be extracted and the state discarded.
	Done
)

func (p Phase) String() string {
	switch p {
	case Compression:
		return "compression"
	case FinalizeA:
		return "finalize-a"
	case FinalizeB:
		return "finalize-b"
	case Done:
		return "done"
	}
	return "unknown"
}

// Initialization vector, XORed with the key words. These are the public
// constants of the 32-bit reduced-width SipHash family.
const (
	iv0 = 0x00000000
	iv1 = 0x00000000
	iv2 = 0x6c796765
	iv3 = 0x74656462
)

// finalMark is XORed into v2 when the state enters finalization.
const finalMark = 0xff

const (
	// CompressionWords is the number of input words a hash consumes.
	CompressionWords = 4
	// TotalPasses is the fixed number of passes from initialization to
	// Done: one per compression word plus two finalization passes.
	TotalPasses = CompressionWords + 2
	// roundsPerPass is the number of ARX rounds one pass applies.
	roundsPerPass = 2
)

// State is the carried accumulator of one in-flight hash: the four state
// words, the round index, and the phase. A State belongs to exactly one
// (message, shard, lane) and is never shared.
type State struct {
	V0, V1, V2, V3 uint32
	Round          uint8
	Phase          Phase
}

// New returns the round-0 state for a key pair.
func New(k0, k1 uint32) State {
	return State{
		V0:    k0 ^ iv0,
		V1:    k1 ^ iv1,
		V2:    k0 ^ iv2,
		V3:    k1 ^ iv3,
		Round: 0,
		Phase: Compression,
	}
}

// round applies one elementary ARX mixing round. When injectFirst is set
// the input word enters through v3 before mixing; otherwise it leaves
// through v0 after mixing.
func round(v0, v1, v2, v3, m uint32, injectFirst bool) (uint32, uint32, uint32, uint32) {
	if injectFirst {
		v3 ^= m
	}
	a0 := v0 + v1
	a1 := bits.RotateLeft32(v1, 5)
	a2 := v2 + v3
	a3 := bits.RotateLeft32(v3, 8)
	b1 := a1 ^ a0
	b3 := a3 ^ a2
	b0 := bits.RotateLeft32(a0, 16)
	b2 := a2
	c2 := b2 + b1
	c0 := b0 + b3
	c1 := bits.RotateLeft32(b1, 13)
	c3 := bits.RotateLeft32(b3, 7)
	v1 = c1 ^ c2
	v3 = c3 ^ c0
	v2 = bits.RotateLeft32(c2, 16)
	if injectFirst {
		v0 = c0
	} else {
		v0 = c0 ^ m
	}
	return v0, v1, v2, v3
}

// pass runs the two back-to-back rounds that absorb one input word.
func pass(s State, m uint32) State {
	s.V0, s.V1, s.V2, s.V3 = round(s.V0, s.V1, s.V2, s.V3, m, true)
	s.V0, s.V1, s.V2, s.V3 = round(s.V0, s.V1, s.V2, s.V3, m, false)
	s.Round += roundsPerPass
	return s
}

// Pass advances the state by exactly one pass and returns the successor
// state. During compression m is the next message word; during
// finalization m is ignored. Calling Pass on a Done state returns the
// state unchanged.
func Pass(s State, m uint32) State {
	switch s.Phase {
	case Compression:
		s = pass(s, m)
		if s.Round == CompressionWords*roundsPerPass {
			s.Phase = FinalizeA
		}
	case FinalizeA:
		s.V2 ^= finalMark
		s = pass(s, 0)
		s.Phase = FinalizeB
	case FinalizeB:
		s = pass(s, 0)
		s.Phase = Done
	case Done:
	}
	return s
}

// Tag extracts the 32-bit tag. Valid only once the phase is Done;
// extracting earlier reveals internal state and is a programming error.
func (s State) Tag() uint32 {
	if s.Phase != Done {
		panic("siphash: tag extracted before finalization")
	}
	return s.V0 ^ s.V1 ^ s.V2 ^ s.V3
}

// Sum runs the full fixed schedule in one call: four compression passes
// over words and both finalization passes. It is the non-incremental
// reference for the pass-at-a-time path and the verification helper for
// consumers that hold a complete message.
func Sum(k0, k1 uint32, words [CompressionWords]uint32) uint32 {
	s := New(k0, k1)
	for _, m := range words {
		s = Pass(s, m)
	}
	s = Pass(s, 0)
	s = Pass(s, 0)
	return s.Tag()
}
