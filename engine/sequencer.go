package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/nus-sys/neobft-artifact/aom"
)

// Journal persists the session bookkeeping that must survive the process:
// reset epochs and periodic sequence checkpoints. A write failure means
// the counter storage is unavailable, which the sequencer treats as fatal.
type Journal interface {
	RecordReset(session aom.SessionID, epoch uint32) error
	Checkpoint(session aom.SessionID, sequence uint32) error
}

// checkpointInterval is how many stamps pass between journal checkpoints.
const checkpointInterval = 4096

// Sequencer assigns the per-session monotonic sequence numbers that define
// the total order replicas trust. Stamp and Reset serialize on one mutex:
// at most one increment is in flight at a time, so issued numbers form a
// contiguous run with no gaps and no reuse until the next reset.
type Sequencer struct {
	mu      sync.Mutex
	session aom.SessionID
	counter uint32
	epoch   uint32
	journal Journal
	log     *slog.Logger
}

// NewSequencer creates the sequencer for a session. journal may be nil in
// tests; epoch seeds the reset epoch (a restarted process passes the last
// journaled epoch so stale packets stay distinguishable).
func NewSequencer(session aom.SessionID, epoch uint32, journal Journal, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		session: session,
		epoch:   epoch,
		journal: journal,
		log:     log.With("component", "sequencer", "session", uint64(session)),
	}
}

// Stamp atomically assigns the next sequence number to the message and
// returns it. The only failure modes are fatal: sequence space exhaustion
// and journal unavailability.
func (s *Sequencer) Stamp(msg *aom.Message) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == math.MaxUint32 {
		return 0, aom.ErrSequenceOverflow
	}

	seq := s.counter
	s.counter++

	if s.journal != nil && s.counter%checkpointInterval == 0 {
		if err := s.journal.Checkpoint(s.session, s.counter); err != nil {
			return 0, fmt.Errorf("sequence checkpoint failed: %w", err)
		}
	}

	msg.Session = s.session
	msg.Sequence = seq
	return seq, nil
}

// Reset sets the sequence counter back to zero and bumps the reset epoch.
// Repeated resets with no intervening stamp are idempotent: the counter is
// already zero and the epoch does not move again.
func (s *Sequencer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == 0 {
		return nil
	}

	s.counter = 0
	s.epoch++
	if s.journal != nil {
		if err := s.journal.RecordReset(s.session, s.epoch); err != nil {
			return fmt.Errorf("reset journal write failed: %w", err)
		}
	}
	s.log.Info("session reset", "epoch", s.epoch)
	return nil
}

// Epoch returns the current reset epoch.
func (s *Sequencer) Epoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Next returns the sequence number the next stamp will issue.
func (s *Sequencer) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
