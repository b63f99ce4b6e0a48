package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/engine"
	"github.com/nus-sys/neobft-artifact/journal"
	"github.com/nus-sys/neobft-artifact/transport"
)

// SequencerConfig configures a sequencer service instance.
type SequencerConfig struct {
	// Engine is the core engine configuration (session, lanes, plan,
	// accelerator pool).
	Engine *aom.EngineConfig

	// ListenAddr is the UDP admission address for upstream producers.
	ListenAddr string

	// JournalDir is the directory of the embedded session journal.
	// Empty disables journaling (tests only; production runs journal).
	JournalDir string

	// AcceleratorURL is the base URL of the remote signing accelerator.
	// Empty disables the accelerator path regardless of pool capacity.
	AcceleratorURL string

	// Log is the service logger; nil falls back to slog.Default.
	Log *slog.Logger
}

// Sequencer is the deployable sequencing service: one session, one
// admission socket, one fan-out over the configured shard plan.
type Sequencer struct {
	cfg *SequencerConfig
	log *slog.Logger

	journal   *journal.Journal
	sequencer *engine.Sequencer
	scheduler *engine.Scheduler
	arbiter   *engine.Arbiter
	fanout    *engine.Fanout
	forwarder *transport.UDPForwarder
	listener  *transport.Listener
	accel     *HTTPAccelerator
}

// NewSequencer validates the configuration and builds the full admission
// pipeline. Configuration errors (including an empty shard plan) are
// rejected here, before any socket or store is opened.
func NewSequencer(cfg *SequencerConfig) (*Sequencer, error) {
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("service", "sequencer")

	s := &Sequencer{cfg: cfg, log: log}

	var (
		epoch uint32
		jnl   engine.Journal
	)
	if cfg.JournalDir != "" {
		j, err := journal.Open(cfg.JournalDir)
		if err != nil {
			return nil, err
		}
		s.journal = j
		jnl = j

		// A restarted process cannot prove its counter is still gapless,
		// so it opens on a fresh epoch instead of resuming mid-count.
		last, ok, err := j.LastEpoch(cfg.Engine.Session)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("read journaled epoch: %w", err)
		}
		if ok {
			epoch = last + 1
		}
		if err := j.RecordReset(cfg.Engine.Session, epoch); err != nil {
			s.close()
			return nil, err
		}
	}

	s.sequencer = engine.NewSequencer(cfg.Engine.Session, epoch, jnl, log)
	s.scheduler = engine.NewScheduler()

	if cfg.AcceleratorURL != "" && cfg.Engine.AcceleratorCapacity > 0 {
		s.accel = NewHTTPAccelerator(cfg.AcceleratorURL, cfg.Engine.AcceleratorCapacity, log)
		s.arbiter = engine.NewArbiter(s.accel, cfg.Engine.AcceleratorCapacity, cfg.Engine.AcceleratorTimeout, log)
	}

	fwd, err := transport.NewUDPForwarder(cfg.Engine.Plan)
	if err != nil {
		s.close()
		return nil, err
	}
	s.forwarder = fwd

	s.fanout = engine.NewFanout(cfg.Engine, s.sequencer, s.scheduler, s.arbiter, fwd, log)

	listener, err := transport.NewListener(cfg.ListenAddr, s.fanout.Process, log)
	if err != nil {
		s.close()
		return nil, err
	}
	s.listener = listener

	return s, nil
}

// Run serves admissions until ctx is cancelled. It returns non-nil only
// for fatal conditions: sequence overflow, journal unavailability, or the
// admission socket failing.
func (s *Sequencer) Run(ctx context.Context) error {
	defer s.close()

	s.log.Info("sequencer starting",
		"listen", s.cfg.ListenAddr,
		"session", uint64(s.cfg.Engine.Session),
		"shards", len(s.cfg.Engine.Plan.Shards),
		"lanes", s.cfg.Engine.Lanes,
		"accelerator", s.arbiter != nil)

	if s.accel != nil {
		s.accel.Start(ctx)
	}
	if s.arbiter != nil {
		go s.arbiter.Run(ctx)
	}

	err := s.listener.Run(ctx)
	if err != nil {
		s.log.Error("sequencer terminated", "err", err)
		return err
	}
	s.log.Info("sequencer stopped")
	return nil
}

// AdmissionAddr returns the bound admission socket address. Useful when
// the service was configured with port 0.
func (s *Sequencer) AdmissionAddr() net.Addr {
	return s.listener.LocalAddr()
}

// Stats exposes the engine counters.
func (s *Sequencer) Stats() engine.Stats {
	return s.fanout.Stats()
}

// Reset zeroes the session sequence counter and bumps its epoch.
func (s *Sequencer) Reset() error {
	return s.sequencer.Reset()
}

// RegisterRoutes exposes the admin API on the given router.
func (s *Sequencer) RegisterRoutes(r chi.Router) {
	r.Get("/status", s.handleStatus)
	r.Post("/reset", s.handleReset)
}

func (s *Sequencer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.log.Error("encode status", "err", err)
	}
}

func (s *Sequencer) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.Reset(); err != nil {
		// A failed reset means the journal is gone; nothing the client
		// can do about it.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"reset"}`))
}

func (s *Sequencer) close() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.forwarder != nil {
		s.forwarder.Close()
		s.forwarder = nil
	}
	if s.journal != nil {
		s.journal.Close()
		s.journal = nil
	}
}
