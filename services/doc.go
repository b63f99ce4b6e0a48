// Package services wires the sequencing engine to its runtime
// collaborators: the UDP admission listener, the per-shard multicast
// forwarder, the session journal, and (optionally) the remote signing
// accelerator. It owns process lifecycle: construction validates the
// configuration and Run drives the service until the context is cancelled
// or a fatal invariant violation surfaces.
package services
