package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/nus-sys/neobft-artifact/aom"
)

// laneKeys derives the key pair for one hashing lane of a shard. Lane 0
// uses the shard's configured pair verbatim so a single-lane deployment
// matches the reference tag vectors; every further lane expands the pair
// through HKDF-SHA256 with the lane index as the info string, keeping
// lanes independently keyed.
func laneKeys(pair aom.KeyPair, lane aom.LaneID) aom.KeyPair {
	if lane == 0 {
		return pair
	}

	secret := make([]byte, 8)
	binary.BigEndian.PutUint32(secret[0:4], pair.K0)
	binary.BigEndian.PutUint32(secret[4:8], pair.K1)

	r := hkdf.New(sha256.New, secret, nil, []byte(fmt.Sprintf("aom/lane/%d", lane)))
	derived := make([]byte, 8)
	if _, err := io.ReadFull(r, derived); err != nil {
		// HKDF over SHA-256 cannot fail for an 8-byte read.
		panic(err)
	}
	return aom.KeyPair{
		K0: binary.BigEndian.Uint32(derived[0:4]),
		K1: binary.BigEndian.Uint32(derived[4:8]),
	}
}
