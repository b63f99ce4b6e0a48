// Package testutil provides shared fixtures for the engine and service
// tests: deterministic shard plans, messages, and an in-memory forwarder
// that captures packets instead of sending them.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/nus-sys/neobft-artifact/aom"
)

// Plan builds a deterministic n-shard plan. Shard i gets key pair
// (0x33323130+i, 0x42413938+i) and a distinct multicast group address.
func Plan(n int) *aom.ShardPlan {
	plan := &aom.ShardPlan{}
	for i := 0; i < n; i++ {
		plan.Shards = append(plan.Shards, aom.Shard{
			ID: aom.ShardID(i),
			Keys: aom.KeyPair{
				K0: 0x33323130 + uint32(i),
				K1: 0x42413938 + uint32(i),
			},
			Group: fmt.Sprintf("239.0.0.%d:%d", i+1, 59000+i),
		})
	}
	return plan
}

// Message builds a well-formed unstamped message.
func Message(session aom.SessionID, payload string) aom.Message {
	return aom.Message{
		Session: session,
		Digest:  aom.Digest{0xAABBCCDD, 0x11223344},
		Payload: []byte(payload),
	}
}

// CaptureForwarder implements aom.Forwarder by recording packets per shard.
type CaptureForwarder struct {
	mu      sync.Mutex
	packets map[aom.ShardID][]*aom.Packet
	err     error
}

// NewCaptureForwarder creates an empty capture forwarder.
func NewCaptureForwarder() *CaptureForwarder {
	return &CaptureForwarder{packets: make(map[aom.ShardID][]*aom.Packet)}
}

// FailWith makes every subsequent Forward call return err.
func (c *CaptureForwarder) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Forward implements aom.Forwarder.
func (c *CaptureForwarder) Forward(_ context.Context, shard aom.Shard, pkt *aom.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.packets[shard.ID] = append(c.packets[shard.ID], pkt)
	return nil
}

// Packets returns the packets captured for a shard.
func (c *CaptureForwarder) Packets(shard aom.ShardID) []*aom.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*aom.Packet(nil), c.packets[shard]...)
}

// Total returns the number of packets captured across all shards.
func (c *CaptureForwarder) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pkts := range c.packets {
		n += len(pkts)
	}
	return n
}
