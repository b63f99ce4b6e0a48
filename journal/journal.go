// Package journal persists session bookkeeping in an embedded BadgerDB
// store: reset epochs and periodic sequence checkpoints. The engine treats
// a failed journal write as its counter storage becoming unavailable,
// which is fatal to the process, so the journal itself never retries or
// degrades silently.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/nus-sys/neobft-artifact/aom"
)

const (
	epochPrefix      = "epoch:"
	checkpointPrefix = "seq:"
)

// Journal is a badger-backed implementation of engine.Journal.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal at dir.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory journal, for tests.
func OpenInMemory() (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

func epochKey(session aom.SessionID) []byte {
	return []byte(fmt.Sprintf("%s%d", epochPrefix, session))
}

func checkpointKey(session aom.SessionID) []byte {
	return []byte(fmt.Sprintf("%s%d", checkpointPrefix, session))
}

func (j *Journal) putUint32(key []byte, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf[:])
	})
}

func (j *Journal) getUint32(key []byte) (uint32, bool, error) {
	var v uint32
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("corrupt journal value for %q: %d bytes", key, len(val))
			}
			v = binary.BigEndian.Uint32(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// RecordReset persists the session's new reset epoch.
func (j *Journal) RecordReset(session aom.SessionID, epoch uint32) error {
	if err := j.putUint32(epochKey(session), epoch); err != nil {
		return fmt.Errorf("record reset: %w", err)
	}
	return nil
}

// Checkpoint persists a sequence high-water mark for the session.
func (j *Journal) Checkpoint(session aom.SessionID, sequence uint32) error {
	if err := j.putUint32(checkpointKey(session), sequence); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// LastEpoch returns the most recently journaled reset epoch for the
// session, or ok=false if the session has never been reset.
func (j *Journal) LastEpoch(session aom.SessionID) (epoch uint32, ok bool, err error) {
	return j.getUint32(epochKey(session))
}

// LastCheckpoint returns the most recent sequence high-water mark.
func (j *Journal) LastCheckpoint(session aom.SessionID) (sequence uint32, ok bool, err error) {
	return j.getUint32(checkpointKey(session))
}
