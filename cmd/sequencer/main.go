// Command sequencer runs the authenticated ordered multicast sequencer.
//
// The service listens for application messages on a UDP admission socket,
// assigns each a globally monotonic sequence number, computes per-shard
// authentication tags (or offloads signing to an external accelerator),
// and multicasts the sequenced, tagged copies to the replica groups of the
// shard plan.
//
// # Configuration
//
// The shard plan is a JSON file mapping shard ids to key pairs and
// multicast group addresses; it is loaded once at startup. The
// accelerator path is enabled by passing both --accel-url and a positive
// --accel-capacity.
//
// # Usage
//
//	go run ./cmd/sequencer --plan=plan.json --listen=:60004 --admin=:8080
//	go run ./cmd/sequencer --plan=plan.json --accel-url=http://localhost:8090 --accel-capacity=8
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/api/httpserver"
	"github.com/nus-sys/neobft-artifact/cmd/common"
	"github.com/nus-sys/neobft-artifact/services"
)

func main() {
	var (
		listenAddr    = flag.String("listen", ":60004", "UDP admission listen address")
		adminAddr     = flag.String("admin", ":8080", "admin HTTP listen address")
		planPath      = flag.String("plan", "", "shard plan JSON file (required)")
		session       = flag.Uint("session", 0, "session identifier (0-255)")
		lanes         = flag.Int("lanes", 2, "hashing lanes per shard")
		journalDir    = flag.String("journal", "", "session journal directory (empty disables journaling)")
		accelURL      = flag.String("accel-url", "", "accelerator base URL (empty disables offload)")
		accelCapacity = flag.Int("accel-capacity", 0, "accelerator signing slots")
		accelTimeout  = flag.Duration("accel-timeout", 50*time.Millisecond, "accelerator response window")
		logLevel      = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logJSON       = flag.Bool("log-json", false, "log in JSON format")
		enablePprof   = flag.Bool("pprof", false, "enable pprof on the admin server")
	)
	flag.Parse()

	log, err := common.SetupLogger(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --plan is required")
		os.Exit(1)
	}
	if *session > 255 {
		fmt.Fprintln(os.Stderr, "Error: --session must fit in one byte")
		os.Exit(1)
	}

	plan, err := aom.LoadShardPlan(*planPath)
	if err != nil {
		log.Error("could not load shard plan", "err", err)
		os.Exit(1)
	}

	svc, err := services.NewSequencer(&services.SequencerConfig{
		Engine: &aom.EngineConfig{
			Session:             aom.SessionID(*session),
			Lanes:               *lanes,
			Plan:                plan,
			AcceleratorCapacity: *accelCapacity,
			AcceleratorTimeout:  *accelTimeout,
		},
		ListenAddr:     *listenAddr,
		JournalDir:     *journalDir,
		AcceleratorURL: *accelURL,
		Log:            log,
	})
	if err != nil {
		log.Error("could not build sequencer", "err", err)
		os.Exit(1)
	}

	admin := httpserver.New(&httpserver.Config{
		ListenAddr:               *adminAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
	}, svc)
	admin.RunInBackground()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = svc.Run(ctx)
	admin.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		// Fatal invariant violation or socket failure; the exit code tells
		// the supervisor not to treat this as a clean stop.
		os.Exit(1)
	}
}
