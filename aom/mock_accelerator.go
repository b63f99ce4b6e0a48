package aom

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// MockAccelerator implements the Accelerator interface for testing.
// By default it echoes a deterministic pseudo-signature for every request
// after an optional delay; individual requests can be swallowed to exercise
// the arbiter's timeout path.
type MockAccelerator struct {
	mu        sync.Mutex
	delay     time.Duration
	dropNext  int
	responses chan SignResponse
	sign      func(SignRequest) []byte
}

// NewMockAccelerator creates a mock with a deterministic signing function.
func NewMockAccelerator() *MockAccelerator {
	return &MockAccelerator{
		responses: make(chan SignResponse, 64),
		sign: func(req SignRequest) []byte {
			sig := make([]byte, 16)
			binary.BigEndian.PutUint32(sig[0:4], req.Sequence)
			binary.BigEndian.PutUint32(sig[4:8], req.Digest[0])
			binary.BigEndian.PutUint32(sig[8:12], req.Digest[1])
			binary.BigEndian.PutUint32(sig[12:16], uint32(req.Session)<<16|uint32(req.Shard))
			return sig
		},
	}
}

// SetDelay makes every subsequent response arrive after d.
func (m *MockAccelerator) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// DropNext swallows the next n requests without responding.
func (m *MockAccelerator) DropNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropNext = n
}

// SetSignFunc overrides the signing function.
func (m *MockAccelerator) SetSignFunc(fn func(SignRequest) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sign = fn
}

// Submit implements the Accelerator interface.
func (m *MockAccelerator) Submit(ctx context.Context, req SignRequest) error {
	m.mu.Lock()
	if m.dropNext > 0 {
		m.dropNext--
		m.mu.Unlock()
		return nil
	}
	delay := m.delay
	sign := m.sign
	m.mu.Unlock()

	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		m.responses <- SignResponse{SignRequest: req, Signature: sign(req)}
	}()
	return nil
}

// Responses implements the Accelerator interface.
func (m *MockAccelerator) Responses() <-chan SignResponse {
	return m.responses
}
