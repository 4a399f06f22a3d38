package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ScannerInstruments counts what the scan loop sees
type ScannerInstruments struct {
	Observations metric.Int64Counter
	IBeacons     metric.Int64Counter
	Suppressed   metric.Int64Counter
	Windows      metric.Int64Counter
}

// NewScannerInstruments creates scanner counters on the global meter provider
func NewScannerInstruments() (*ScannerInstruments, error) {
	meter := otel.Meter("scanner")

	observations, err := meter.Int64Counter("scanner.observations",
		metric.WithDescription("Advertisements observed during scan windows"))
	if err != nil {
		return nil, fmt.Errorf("failed to create observations counter: %w", err)
	}

	ibeacons, err := meter.Int64Counter("scanner.ibeacons",
		metric.WithDescription("Observations accepted and reported as iBeacon frames"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ibeacons counter: %w", err)
	}

	suppressed, err := meter.Int64Counter("scanner.suppressed",
		metric.WithDescription("iBeacon frames dropped by the self filter"))
	if err != nil {
		return nil, fmt.Errorf("failed to create suppressed counter: %w", err)
	}

	windows, err := meter.Int64Counter("scanner.windows",
		metric.WithDescription("Completed scan windows"))
	if err != nil {
		return nil, fmt.Errorf("failed to create windows counter: %w", err)
	}

	return &ScannerInstruments{
		Observations: observations,
		IBeacons:     ibeacons,
		Suppressed:   suppressed,
		Windows:      windows,
	}, nil
}

// BeaconInstruments counts duty cycles
type BeaconInstruments struct {
	WakeCycles metric.Int64Counter
	ColdStarts metric.Int64Counter
}

// NewBeaconInstruments creates beacon counters on the global meter provider
func NewBeaconInstruments() (*BeaconInstruments, error) {
	meter := otel.Meter("beacon")

	wakeCycles, err := meter.Int64Counter("beacon.wake_cycles",
		metric.WithDescription("Completed wake, advertise, suspend cycles"))
	if err != nil {
		return nil, fmt.Errorf("failed to create wake cycles counter: %w", err)
	}

	coldStarts, err := meter.Int64Counter("beacon.cold_starts",
		metric.WithDescription("Starts without valid retained state"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cold starts counter: %w", err)
	}

	return &BeaconInstruments{
		WakeCycles: wakeCycles,
		ColdStarts: coldStarts,
	}, nil
}
