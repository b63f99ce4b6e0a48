// Package common provides shared helpers for the CLI commands: structured
// logger construction and signing key loading.
package common

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
)

// SetupLogger builds the process logger. level is one of debug, info,
// warn, error; jsonOut selects JSON over text output.
func SetupLogger(level string, jsonOut bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if jsonOut {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex-encoded
// seed, or generates a fresh key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (ed25519.PrivateKey, error) {
	if hexKey != "" {
		seed, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}
