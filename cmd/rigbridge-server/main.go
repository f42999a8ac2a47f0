// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// rigbridge-server runs the rigbridge protocol server over a
// simulated host. Inside a real host application the same packages
// are embedded instead: the application provides its own
// host.Interface and calls Drain from its tick callback; this binary
// wires the simulated host's tick loop in their place.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rigforge/rigbridge/dispatch"
	"github.com/rigforge/rigbridge/host"
	"github.com/rigforge/rigbridge/lib/clock"
	"github.com/rigforge/rigbridge/lib/config"
	"github.com/rigforge/rigbridge/lib/version"
	"github.com/rigforge/rigbridge/rig"
	"github.com/rigforge/rigbridge/scene"
	"github.com/rigforge/rigbridge/server"
	"github.com/rigforge/rigbridge/simhost"
)

func main() {
	configPath := flag.String("config", "", "path to rigbridge.yaml (overrides RIGBRIDGE_CONFIG)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	configuration, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configuration, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadConfiguration resolves the config source: the --config flag,
// then RIGBRIDGE_CONFIG, then built-in defaults.
func loadConfiguration(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.LoadFile(flagPath)
	}
	if os.Getenv("RIGBRIDGE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func run(ctx context.Context, configuration *config.Config, logger *slog.Logger) error {
	logger.Info("starting rigbridge-server", "version", version.Info())

	tracker := scene.NewTracker()
	if path := configuration.Snapshot.Path; path != "" {
		switch err := tracker.LoadSnapshot(path); {
		case err == nil:
			logger.Info("snapshot restored", "path", path, "targets", tracker.Len())
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no snapshot to restore", "path", path)
		default:
			// A corrupt snapshot is not fatal: start with an empty
			// mirror and repopulate from the host.
			logger.Warn("snapshot unusable, starting empty", "path", path, "error", err)
		}
	}

	simulated, err := buildSimulatedHost(configuration)
	if err != nil {
		return err
	}

	bridge := host.New(simulated, tracker, host.Options{
		CommandTimeout: configuration.Bridge.CommandTimeout.Std(),
		QueueCapacity:  configuration.Bridge.QueueCapacity,
		Logger:         logger,
	})
	defer bridge.Close()

	definition, err := rig.Load(
		configuration.Rig.FeatureMap,
		configuration.Rig.Presets,
		configuration.Rig.Profile,
	)
	if err != nil {
		return fmt.Errorf("loading rig definition: %w", err)
	}
	logger.Info("rig definition loaded",
		"profile", definition.Profile(), "features", len(definition.Features()))

	dispatcher := dispatch.New(bridge, tracker, definition, logger)
	protocolServer := server.New(dispatcher, server.Options{
		Network:     configuration.Server.Network,
		Listen:      configuration.Server.Listen,
		MaxSessions: configuration.Server.MaxSessions,
		Logger:      logger,
	})
	if err := protocolServer.Start(); err != nil {
		return err
	}

	go simhost.Run(ctx, clock.Real(), configuration.Simhost.TickInterval.Std(), bridge)

	<-ctx.Done()
	logger.Info("shutting down")
	protocolServer.Stop()
	bridge.Close()

	if path := configuration.Snapshot.Path; path != "" {
		if err := tracker.SaveSnapshot(path); err != nil {
			logger.Warn("saving snapshot failed", "path", path, "error", err)
		} else {
			logger.Info("snapshot saved", "path", path, "targets", tracker.Len())
		}
	}
	return nil
}

func buildSimulatedHost(configuration *config.Config) (*simhost.Host, error) {
	if path := configuration.Simhost.RigFile; path != "" {
		return simhost.LoadRigFile(path)
	}
	return simhost.NewDefaultFace(), nil
}
