package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/report"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

// ScanRequest describes one scan window
type ScanRequest struct {
	Window time.Duration
	Active bool
}

// Window is one running scan. Observations yields every advertisement seen
// and is closed when the window ends. Err must be ready by then: it yields
// the error that ended the window, or nil if it ran to completion.
type Window struct {
	Observations <-chan ibeacon.Observation
	Err          <-chan error
}

// Radio runs a single scan window. An error returned by Scan means the
// window never started; a failure after that is delivered on Window.Err.
type Radio interface {
	Scan(ctx context.Context, req ScanRequest) (Window, error)
}

// Stats summarizes one scan window
type Stats struct {
	Observed   int
	IBeacons   int
	Suppressed int
	Reported   int
}

// Scanner repeatedly scans and reports the iBeacon frames it sees
type Scanner struct {
	radio       Radio
	decoder     *ibeacon.Decoder
	reporter    report.Reporter
	window      time.Duration
	instruments *telemetry.ScannerInstruments
	logger      *zap.Logger
}

// New creates a scanner. instruments may be nil.
func New(radio Radio, decoder *ibeacon.Decoder, reporter report.Reporter, window time.Duration, instruments *telemetry.ScannerInstruments, logger *zap.Logger) *Scanner {
	return &Scanner{
		radio:       radio,
		decoder:     decoder,
		reporter:    reporter,
		window:      window,
		instruments: instruments,
		logger:      logger,
	}
}

// Start scans window after window until ctx is cancelled. A failed window
// is logged and retried after one window length.
func (s *Scanner) Start(ctx context.Context) error {
	s.logger.Info("starting iBeacon scan", zap.Duration("window", s.window))

	for {
		stats, err := s.ScanOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("iBeacon scan stopped")
			return nil
		}
		if err != nil {
			s.logger.Error("scan window failed", zap.Error(err))
			select {
			case <-ctx.Done():
				s.logger.Info("iBeacon scan stopped")
				return nil
			case <-time.After(s.window):
			}
			continue
		}

		s.logger.Debug("scan window done",
			zap.Int("observed", stats.Observed),
			zap.Int("ibeacons", stats.IBeacons),
			zap.Int("suppressed", stats.Suppressed),
			zap.Int("reported", stats.Reported),
			zap.Int("not_ibeacon", stats.Observed-stats.IBeacons),
		)
	}
}

// ScanOnce runs one window and reports every accepted frame as it arrives
func (s *Scanner) ScanOnce(ctx context.Context) (Stats, error) {
	ctx, span := otel.Tracer("scanner").Start(ctx, "scanner.ScanOnce")
	defer span.End()

	var stats Stats
	window, err := s.radio.Scan(ctx, ScanRequest{Window: s.window, Active: true})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return stats, fmt.Errorf("failed to start scan: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.record(ctx, stats)
			return stats, ctx.Err()
		case obs, ok := <-window.Observations:
			if !ok {
				s.record(ctx, stats)
				if err := windowErr(window); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "scan window failed")
					return stats, fmt.Errorf("scan window failed: %w", err)
				}
				span.SetAttributes(
					attribute.Int("scanner.observed", stats.Observed),
					attribute.Int("scanner.reported", stats.Reported),
				)
				span.SetStatus(codes.Ok, "window complete")
				return stats, nil
			}
			s.handle(ctx, obs, &stats)
		}
	}
}

// windowErr reads the outcome of a closed window. A radio that never sends
// on Err reports success once it closes it.
func windowErr(w Window) error {
	if w.Err == nil {
		return nil
	}
	return <-w.Err
}

func (s *Scanner) handle(ctx context.Context, obs ibeacon.Observation, stats *Stats) {
	stats.Observed++

	rec, outcome := s.decoder.Decode(obs)
	switch outcome {
	case ibeacon.NotIBeacon:
		return
	case ibeacon.Suppressed:
		stats.IBeacons++
		stats.Suppressed++
		return
	}
	stats.IBeacons++

	if err := s.reporter.Report(ctx, rec); err != nil {
		if !errors.Is(err, context.Canceled) {
			telemetry.WithTraceContext(ctx, s.logger).Warn("failed to report sighting",
				zap.String("address", rec.Address),
				zap.String("uuid", rec.UUID),
				zap.Error(err),
			)
		}
		return
	}
	stats.Reported++
}

func (s *Scanner) record(ctx context.Context, stats Stats) {
	if s.instruments == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.instruments.Windows.Add(ctx, 1)
	s.instruments.Observations.Add(ctx, int64(stats.Observed))
	s.instruments.IBeacons.Add(ctx, int64(stats.Reported))
	s.instruments.Suppressed.Add(ctx, int64(stats.Suppressed))
}
