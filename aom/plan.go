package aom

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// KeyPair is the pair of 32-bit key words for one shard's keyed hash.
// Lane 0 uses the pair verbatim; further lanes derive their own pair from it.
type KeyPair struct {
	K0 uint32 `json:"k0"`
	K1 uint32 `json:"k1"`
}

// Shard maps one replica subgroup to its multicast group address and keys.
type Shard struct {
	ID    ShardID `json:"id"`
	Keys  KeyPair `json:"keys"`
	Group string  `json:"group"` // UDP multicast address, host:port
}

// ShardPlan is the static fan-out configuration: the ordered list of shards
// a stamped message is authenticated for and forwarded to. Loaded once at
// startup and never mutated at runtime.
type ShardPlan struct {
	Shards []Shard `json:"shards"`
}

// ErrEmptyPlan is returned when a plan configures zero shards.
var ErrEmptyPlan = errors.New("shard plan has no shards")

// Validate rejects plans that cannot drive the fan-out: zero shards,
// duplicate shard identifiers, or a shard without a group address.
func (p *ShardPlan) Validate() error {
	if len(p.Shards) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[ShardID]bool, len(p.Shards))
	for _, s := range p.Shards {
		if seen[s.ID] {
			return fmt.Errorf("duplicate shard id %d", s.ID)
		}
		seen[s.ID] = true
		if s.Group == "" {
			return fmt.Errorf("shard %d has no multicast group", s.ID)
		}
	}
	return nil
}

// Shard returns the shard with the given id.
func (p *ShardPlan) Shard(id ShardID) (Shard, bool) {
	for _, s := range p.Shards {
		if s.ID == id {
			return s, true
		}
	}
	return Shard{}, false
}

// LoadShardPlan reads and validates a JSON shard plan file.
func LoadShardPlan(path string) (*ShardPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shard plan: %w", err)
	}
	var plan ShardPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse shard plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shard plan: %w", err)
	}
	return &plan, nil
}
