package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/buffer"
	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

const maxAttempts = 3

// TimeSeriesBuilder converts buffered sightings to Prometheus time series
type TimeSeriesBuilder func(ctx context.Context, records []ibeacon.Record) ([]prompb.TimeSeries, error)

// Config contains configuration for the remote_write pusher
type Config struct {
	URL          string
	Username     string
	Password     string
	PushInterval time.Duration
	BatchSize    int
	Builder      TimeSeriesBuilder
}

// Pusher drains the sighting buffer on an interval and pushes it to a
// Prometheus remote_write endpoint
type Pusher struct {
	cfg          Config
	client       *http.Client
	buffer       *buffer.RingBuffer[ibeacon.Record]
	logger       *zap.Logger
	retryBackoff time.Duration
	lastPush     time.Time
}

// New creates a pusher reading from buf
func New(cfg Config, buf *buffer.RingBuffer[ibeacon.Record], logger *zap.Logger) *Pusher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	return &Pusher{
		cfg: cfg,
		// Wrap HTTP client with OpenTelemetry instrumentation
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		buffer:       buf,
		logger:       logger,
		retryBackoff: time.Second,
	}
}

// Start pushes on every tick until ctx is cancelled
func (p *Pusher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.cfg.PushInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping")
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("metrics flush failed", zap.Error(err))
			}
		}
	}
}

// Flush drains the buffer and pushes it in batches. On the first failed
// batch the unsent records go back into the buffer.
func (p *Pusher) Flush(ctx context.Context) error {
	// Get all records from buffer
	records := p.buffer.Drain()
	if len(records) == 0 {
		p.logger.Debug("no sightings to push")
		return nil
	}

	// Push in batches
	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(records))
		if err := p.Push(ctx, records[start:end]); err != nil {
			// Put the unsent records back for the next tick
			p.buffer.AddAll(records[start:])
			return fmt.Errorf("requeued %d sightings: %w", len(records)-start, err)
		}
	}
	return nil
}

// Push sends records with up to three attempts and exponential backoff
func (p *Pusher) Push(ctx context.Context, records []ibeacon.Record) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.sightings", len(records))),
	)
	defer span.End()

	if len(records) == 0 {
		span.SetStatus(codes.Ok, "nothing to push")
		return nil
	}
	if p.cfg.Builder == nil {
		err := fmt.Errorf("no time series builder configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Build time series from records
	series, err := p.cfg.Builder(ctx, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "builder failed")
		return fmt.Errorf("time series builder failed: %w", err)
	}
	writeReq := &prompb.WriteRequest{Timeseries: series}

	// Retry logic with exponential backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.pushOnce(ctx, writeReq)
		if lastErr == nil {
			p.lastPush = time.Now()
			p.logger.Info("successfully pushed metrics",
				zap.Int("sightings", len(records)),
				zap.Int("time_series", len(series)),
				zap.Int("attempt", attempt),
			)
			span.SetAttributes(attribute.Int("metrics.successful_attempt", attempt))
			span.SetStatus(codes.Ok, "metrics pushed")
			return nil
		}

		p.logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		span.AddEvent("push attempt failed", trace.WithAttributes(
			attribute.Int("metrics.attempt", attempt),
			attribute.String("error", lastErr.Error()),
		))

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context cancelled")
			return ctx.Err()
		case <-time.After(p.retryBackoff << (attempt - 1)):
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Pusher) pushOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	// Marshal to protobuf
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}

	// Compress with snappy and create request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// Set headers
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	// Send request
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Check response status
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// LastPushTime returns the time of the last successful push
func (p *Pusher) LastPushTime() time.Time {
	return p.lastPush
}
