package engine

import (
	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/siphash"
)

// VerifyTags recomputes every lane tag of a packet under the shard's keys
// and reports whether all of them match. Replicas use this to check that a
// received packet was tagged for their shard; a tag computed under another
// shard's keys fails here.
func VerifyTags(shard aom.Shard, msg aom.Message, tags []aom.Tag) bool {
	if len(tags) == 0 {
		return false
	}
	words := msg.Words()
	for lane, tag := range tags {
		keys := laneKeys(shard.Keys, aom.LaneID(lane))
		if siphash.Sum(keys.K0, keys.K1, words) != uint32(tag) {
			return false
		}
	}
	return true
}
