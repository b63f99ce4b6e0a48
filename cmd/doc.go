// Package cmd provides the CLI commands of the ordered multicast engine.
//
// # Commands
//
// sequencer: the sequencing-and-authentication service. Receives messages
// on a UDP admission socket, stamps them, authenticates one copy per shard
// of the plan, and multicasts each copy to its replica group.
//
//	go run ./cmd/sequencer --plan=plan.json --listen=:60004 --admin=:8080
//
// accelerator: the software signing accelerator. Exposes the /sign HTTP
// API the sequencer's arbiter offloads to when the pool has capacity.
//
//	go run ./cmd/accelerator --addr=:8090
package cmd
