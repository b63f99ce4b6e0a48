// Package aom defines the shared types and interfaces of the authenticated
// ordered multicast (AOM) primitive: messages, shard plans, engine
// configuration, and the collaborator interfaces (packet forwarder and
// external signing accelerator) the engine is wired against.
//
// The package holds no protocol logic. The sequencing, hashing, and fan-out
// machinery lives in the engine package; the wire format and UDP transport
// live in the transport package.
package aom
