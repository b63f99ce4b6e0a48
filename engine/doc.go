// Package engine implements the sequencing-and-authentication state
// machine: the step scheduler that drives the incremental keyed hash one
// pass at a time, the per-session sequencer, the shard fan-out, and the
// arbiter that offloads signing to an external accelerator when capacity
// allows.
//
// A message moves through the engine as
//
//	unstamped -> stamped -> hashing -> tagged -> forwarded
//
// with an alternate stamped -> accelerating -> tagged branch when the
// arbiter grants a slot, and a dropped terminal when an accelerator
// response never arrives. Sequence numbers establish total order at the
// stamped transition; hashing for different messages may complete out of
// order, and only each shard's own tag completion gates that shard's
// forward.
package engine
