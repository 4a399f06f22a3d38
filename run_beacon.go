//go:build beacon

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/beacon"
	"github.com/mjasion/balena-home/ibeacon/config"
	"github.com/mjasion/balena-home/ibeacon/power"
	"github.com/mjasion/balena-home/ibeacon/radio"
	"github.com/mjasion/balena-home/ibeacon/retention"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

const mode = "beacon"

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	bt := radio.NewBluetooth(cfg.Beacon.LocalName, logger)
	if err := bt.Enable(); err != nil {
		return err
	}

	instruments, err := telemetry.NewBeaconInstruments()
	if err != nil {
		return fmt.Errorf("failed to create beacon instruments: %w", err)
	}

	store := retention.NewFileStore(cfg.Beacon.RetainedStatePath)
	logger.Info("retained state", zap.String("path", store.Path()))

	controller := beacon.NewController(beacon.Config{
		Params: beacon.Params{
			UUID:    cfg.Beacon.UUID(),
			TxPower: int8(cfg.Beacon.TxPower),
		},
		AdvertiseWindow: cfg.Beacon.AdvertiseWindow(),
		SuspendDuration: cfg.Beacon.SuspendDuration(),
	}, bt, power.NewHost(logger), store, instruments, logger)

	return controller.Run(ctx)
}
