//go:build !beacon

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/buffer"
	"github.com/mjasion/balena-home/ibeacon/config"
	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/metrics"
	"github.com/mjasion/balena-home/ibeacon/radio"
	"github.com/mjasion/balena-home/ibeacon/report"
	"github.com/mjasion/balena-home/ibeacon/scanner"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

const mode = "scanner"

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	bt := radio.NewBluetooth(cfg.Beacon.LocalName, logger)
	if err := bt.Enable(); err != nil {
		return err
	}

	reporters := report.Multi{report.NewLog(logger)}

	if cfg.MQTT.Enabled {
		mqttReporter, client, err := report.ConnectMQTT(report.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		reporters = append(reporters, mqttReporter)
		logger.Info("mqtt reporting enabled", zap.String("broker", cfg.MQTT.Broker))
	}

	var wg sync.WaitGroup
	var pusher *metrics.Pusher
	if cfg.Prometheus.Enabled {
		sightings := buffer.New[ibeacon.Record](cfg.Prometheus.BufferSize, logger)
		pusher = metrics.New(metrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Prometheus.BatchSize,
			Builder:      metrics.SightingSeriesBuilder(cfg.BLE.PathLossExponent),
		}, sightings, logger)
		reporters = append(reporters, report.NewBuffer(sightings))

		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Start(ctx)
		}()
	}

	instruments, err := telemetry.NewScannerInstruments()
	if err != nil {
		return fmt.Errorf("failed to create scanner instruments: %w", err)
	}

	decoder := ibeacon.NewDecoder(ibeacon.NewSelfFilter(cfg.BLE.SelfFilter))
	s := scanner.New(bt, decoder, reporters, cfg.BLE.ScanWindow(), instruments, logger)
	err = s.Start(ctx)

	wg.Wait()
	if pusher != nil {
		logger.Info("performing final metrics push")
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finalCancel()
		if flushErr := pusher.Flush(finalCtx); flushErr != nil {
			logger.Error("failed final metrics push", zap.Error(flushErr))
		}
	}
	return err
}
