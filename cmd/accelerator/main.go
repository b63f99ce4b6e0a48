// Command accelerator runs the software signing accelerator.
//
// It stands in for the asymmetric-crypto co-processor: the sequencer's
// arbiter posts signing requests to /sign and this service answers with
// Ed25519 signatures over the request's canonical bytes. Replicas verify
// with the public key printed at startup (or configured out of band).
//
// # Usage
//
//	go run ./cmd/accelerator --addr=:8090
//	go run ./cmd/accelerator --addr=:8090 --key=<hex seed> --delay=100us
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nus-sys/neobft-artifact/api/httpserver"
	"github.com/nus-sys/neobft-artifact/cmd/common"
	"github.com/nus-sys/neobft-artifact/services"
)

func main() {
	var (
		addr     = flag.String("addr", ":8090", "HTTP listen address")
		keyHex   = flag.String("key", "", "Ed25519 seed (hex, generates if empty)")
		delay    = flag.Duration("delay", 0, "artificial signing latency")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logJSON  = flag.Bool("log-json", false, "log in JSON format")
	)
	flag.Parse()

	log, err := common.SetupLogger(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	key, err := common.LoadOrGenerateSigningKey(*keyHex)
	if err != nil {
		log.Error("could not load signing key", "err", err)
		os.Exit(1)
	}

	svc := services.NewSigningService(key, *delay, log)
	log.Info("accelerator starting", "addr", *addr,
		"pubkey", hex.EncodeToString(svc.PublicKey()))

	srv := httpserver.New(&httpserver.Config{
		ListenAddr:               *addr,
		Log:                      log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
	}, svc)
	srv.RunInBackground()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	srv.Shutdown()
}
