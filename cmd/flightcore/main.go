// Command flightcore runs the flightcore session facade headless, or
// with the optional local shell gateway enabled by config
// (FLIGHTCORE_GATEWAY_ENABLED=true), per spec.md §6.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/core"
	"github.com/flightpath-dev/flightcore/internal/shellgw"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[flightcore] ", log.LstdFlags)

	hints, err := config.LoadBoardHints(cfg.Transport.BoardHintsPath)
	if err != nil {
		logger.Fatalf("load board hints: %v", err)
	}

	session := core.NewSession(cfg, hints, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Gateway.Enabled {
		logger.Printf("running headless (FLIGHTCORE_GATEWAY_ENABLED is false); waiting for signal")
		<-ctx.Done()
		return
	}

	gw := shellgw.New(session, cfg.Gateway)
	addr := cfg.GatewayAddr()
	logger.Printf("shell gateway listening on %s", addr)
	if err := gw.Run(ctx, addr); err != nil {
		logger.Fatalf("gateway: %v", err)
	}
}
