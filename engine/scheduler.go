package engine

import (
	"errors"
	"sync"

	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/siphash"
)

// StateKey addresses one suspended hash: one lane of one shard copy of one
// stamped message.
type StateKey struct {
	Session  aom.SessionID
	Sequence uint32
	Shard    aom.ShardID
	Lane     aom.LaneID
}

// ErrUnknownTask is returned when stepping a hash that was never begun or
// was already completed.
var ErrUnknownTask = errors.New("no hash state for key")

// hashTask is the arena record for one in-flight hash: the carried state
// plus the word schedule the scheduler feeds it from.
type hashTask struct {
	state siphash.State
	words [siphash.CompressionWords]uint32
}

// Scheduler owns the suspended hash states and advances them one pass per
// invocation. The one-pass-per-call limit is a hard contract: Step never
// runs more than one pass, so an execution environment that grants a single
// pass per scheduling opportunity behaves identically to one that loops
// Step to completion in place.
//
// The scheduler imposes no ordering between different keys; only the pass
// sequence within one key is ordered, which the carried state enforces by
// construction.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[StateKey]*hashTask
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[StateKey]*hashTask)}
}

// Begin registers a hash at round 0 for the key. The word schedule is
// fixed at registration; the scheduler selects the word for each pass from
// the current round index. Beginning a key that is already in flight
// restarts it.
func (s *Scheduler) Begin(key StateKey, keys aom.KeyPair, words [siphash.CompressionWords]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[key] = &hashTask{
		state: siphash.New(keys.K0, keys.K1),
		words: words,
	}
}

// Step advances the hash for key by exactly one pass. While the hash is
// incomplete it returns done=false and the state stays persisted for
// resumption. On the pass that completes the hash it extracts the tag,
// clears the state, and returns done=true.
func (s *Scheduler) Step(key StateKey) (tag aom.Tag, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[key]
	if !ok {
		return 0, false, ErrUnknownTask
	}

	var m uint32
	if task.state.Phase == siphash.Compression {
		m = task.words[task.state.Round/2]
	}
	task.state = siphash.Pass(task.state, m)

	if task.state.Phase != siphash.Done {
		return 0, false, nil
	}
	tag = aom.Tag(task.state.Tag())
	delete(s.tasks, key)
	return tag, true, nil
}

// Run drives the hash for key to completion by repeated single-pass Step
// calls, and returns the tag. It is a convenience loop around the same
// one-pass contract, not a separate fast path.
func (s *Scheduler) Run(key StateKey) (aom.Tag, error) {
	for i := 0; i < siphash.TotalPasses; i++ {
		tag, done, err := s.Step(key)
		if err != nil {
			return 0, err
		}
		if done {
			return tag, nil
		}
	}
	// Unreachable: the pass schedule is fixed.
	return 0, ErrUnknownTask
}

// InFlight reports the number of suspended hashes, for status reporting.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Peek returns a copy of the suspended state for key, if any. Used by
// tests and diagnostics; the engine itself only goes through Step.
func (s *Scheduler) Peek(key StateKey) (siphash.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return siphash.State{}, false
	}
	return task.state, true
}
