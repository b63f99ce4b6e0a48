package services

import (
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"

	"github.com/nus-sys/neobft-artifact/aom"
)

// SigningService is the software stand-in for the hardware signing
// accelerator: an Ed25519 signer behind the accelerator HTTP API. An
// optional artificial delay models the hardware's signing latency in
// load tests.
type SigningService struct {
	key    ed25519.PrivateKey
	delay  time.Duration
	signed *atomic.Int64
	log    *slog.Logger
}

// NewSigningService creates the service around a signing key.
func NewSigningService(key ed25519.PrivateKey, delay time.Duration, log *slog.Logger) *SigningService {
	if log == nil {
		log = slog.Default()
	}
	return &SigningService{
		key:    key,
		delay:  delay,
		signed: atomic.NewInt64(0),
		log:    log.With("service", "accelerator"),
	}
}

// PublicKey returns the verification key replicas need.
func (s *SigningService) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Signed returns the number of completed signatures.
func (s *SigningService) Signed() int64 {
	return s.signed.Load()
}

// RegisterRoutes exposes the signing API.
func (s *SigningService) RegisterRoutes(r chi.Router) {
	r.Post("/sign", s.handleSign)
}

func (s *SigningService) handleSign(w http.ResponseWriter, r *http.Request) {
	var req aom.SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Digest.IsZero() {
		http.Error(w, "missing digest", http.StatusBadRequest)
		return
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	resp := aom.SignResponse{
		SignRequest: req,
		Signature:   ed25519.Sign(s.key, req.Canonical()),
	}
	s.signed.Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		s.log.Error("encode sign response", "err", err)
	}
}
