// Router demo runner.
//
// This tool spins up two local Pion peer connections — one sending a
// simulated video track, one receiving it — wires both into a single
// router.PacketRouter, and drives simulated pacer ticks against it. It
// exists to exercise the router end to end against a real transport
// stack instead of the in-memory routertest doubles used by unit tests:
// REMB election, sequence allocation, and the receive-side bandwidth
// estimator all run against real pion/webrtc/pion/rtp/pion/rtcp plumbing.
//
// There is no signalling server or HTTP surface here: both peer
// connections and the offer/answer exchange run in the same process.
// The e2e suite drives the same session directly through pkg/demo rather
// than through a browser (see e2e/routerdemo_test.go).
//
// Usage:
//
//	go run ./cmd/routerdemo -duration 30s
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thesyncim/packetrouter/pkg/demo"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "how long to drive the demo (e.g. 30s, 5m)")
	flag.Parse()

	log.Printf("router demo: starting, duration=%v", *duration)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("router demo: received %v, shutting down", sig)
		cancel()
	}()

	opts := demo.DefaultOptions()
	opts.Duration = *duration

	result, err := demo.Run(ctx, opts)
	if err != nil {
		log.Fatalf("router demo: %v", err)
	}
	log.Printf("router demo: done, sent=%d active_remb_module=%v last_estimate_bps=%d",
		result.PacketsSent, result.ActiveREMBModule, result.ReceivedEstimate)
}
