// Package health sends a periodic heartbeat to a dead man's switch URL.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Pinger GETs a URL on a fixed period
type Pinger struct {
	url    string
	period string
	client *http.Client
	cron   *cron.Cron
	logger *zap.Logger
}

// NewPinger schedules a ping every period, e.g. "1m". The schedule starts
// with Start.
func NewPinger(url, period string, logger *zap.Logger) (*Pinger, error) {
	p := &Pinger{
		url:    url,
		period: period,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cron:   cron.New(),
		logger: logger,
	}

	if _, err := p.cron.AddFunc("@every "+period, p.tick); err != nil {
		return nil, fmt.Errorf("invalid healthcheck period %q: %w", period, err)
	}
	return p, nil
}

func (p *Pinger) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		p.logger.Warn("healthcheck ping failed", zap.Error(err))
	}
}

// Ping sends a single heartbeat
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create healthcheck request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("healthcheck returned status %s", resp.Status)
	}

	p.logger.Debug("healthcheck ping", zap.String("status", resp.Status))
	return nil
}

// Start runs the schedule in the background
func (p *Pinger) Start() {
	p.logger.Info("healthcheck started", zap.String("period", p.period))
	p.cron.Start()
}

// Stop halts the schedule and waits for a running ping
func (p *Pinger) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("healthcheck stopped")
}
