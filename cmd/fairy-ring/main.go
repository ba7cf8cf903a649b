// Copyright 2025-2026 spore.ink

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.mau.fi/util/exzerolog"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
	"github.com/spore-ink/fairy-ring/pkg/matrix"
	"github.com/spore-ink/fairy-ring/pkg/qq"
	"github.com/spore-ink/fairy-ring/pkg/qq/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge config file")
	flag.Parse()

	cfg, err := bridge.Init(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	exzerolog.SetupDefaults(log)

	device, err := qq.LoadOrCreateDevice(cfg.QQ.DevicePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load device credential")
	}

	svc, err := matrix.NewService(cfg, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up Matrix appservice")
	}
	conn := wire.NewConn(cfg.QQ.GatewayURL, device, *log)
	client := qq.NewClient(conn, cfg, *log)

	fwd := bridge.NewForwarder(cfg, svc, client, *log)
	svc.SetForwarder(fwd)
	client.SetForwarder(fwd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both loops run for the life of the process; the first one to stop,
	// for any reason, takes the whole bridge down with it.
	errs := make(chan error, 2)
	go func() {
		errs <- svc.Run(ctx)
	}()
	go func() {
		errs <- client.Run(ctx)
	}()

	err = <-errs
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Bridge terminated")
	}
	log.Info().Msg("Bridge shut down")
}
