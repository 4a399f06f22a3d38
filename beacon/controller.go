package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/retention"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

// Advertiser transmits an encoded advertisement until stopped
type Advertiser interface {
	StartAdvertising(ctx context.Context, payload []byte) error
	StopAdvertising() error
}

// Suspender powers down for a duration
type Suspender interface {
	Suspend(ctx context.Context, d time.Duration) error
}

// Config holds the duty cycle timing and frame parameters
type Config struct {
	Params          Params
	AdvertiseWindow time.Duration
	SuspendDuration time.Duration
}

// Controller runs the wake, advertise, suspend cycle
type Controller struct {
	cfg         Config
	advertiser  Advertiser
	suspender   Suspender
	store       retention.Store
	instruments *telemetry.BeaconInstruments
	logger      *zap.Logger
	now         func() time.Time
	phase       atomic.Int32
}

// NewController creates a controller. instruments may be nil.
func NewController(cfg Config, advertiser Advertiser, suspender Suspender, store retention.Store, instruments *telemetry.BeaconInstruments, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		advertiser:  advertiser,
		suspender:   suspender,
		store:       store,
		instruments: instruments,
		logger:      logger,
		now:         time.Now,
	}
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Controller) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// Restore reads the retained state. Missing, unreadable or corrupt state is
// a cold start with zero state.
func (c *Controller) Restore(ctx context.Context) State {
	// Read and validate the retained region
	data, err := c.store.Load()
	if err == nil {
		snap, unmarshalErr := retention.Unmarshal(data)
		if unmarshalErr == nil {
			return stateFromSnapshot(snap)
		}
		err = unmarshalErr
	}

	c.setPhase(PhaseColdStart)
	if errors.Is(err, retention.ErrNoState) {
		c.logger.Info("no retained state, cold start")
	} else {
		c.logger.Warn("discarding retained state, cold start", zap.Error(err))
	}
	if c.instruments != nil {
		c.instruments.ColdStarts.Add(ctx, 1)
	}
	return State{}
}

// Run cycles until ctx is cancelled. The in-memory state is dropped on
// every suspend and read back from the store on resume.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("beacon duty cycle started",
		zap.String("uuid", c.cfg.Params.UUID.String()),
		zap.Int8("tx_power_dbm", c.cfg.Params.TxPower),
		zap.Duration("advertise_window", c.cfg.AdvertiseWindow),
		zap.Duration("suspend", c.cfg.SuspendDuration),
	)

	for {
		// Memory does not survive a suspend, so every wake starts from the store
		if _, err := c.Cycle(ctx, c.Restore(ctx)); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("beacon duty cycle stopped")
				return nil
			}
			return err
		}
	}
}

// Cycle performs one wake: advertise the frame for the new boot count,
// retain the state, then suspend. Advertising is always stopped and the
// state saved before a suspend is requested.
func (c *Controller) Cycle(ctx context.Context, st State) (State, error) {
	ctx, span := otel.Tracer("beacon").Start(ctx, "beacon.Cycle")
	defer span.End()

	now := c.now()
	c.setPhase(PhaseAwake)
	logger := telemetry.WithTraceContext(ctx, c.logger)

	fields := []zap.Field{zap.Uint32("boot_count", st.BootCount)}
	if since, ok := st.SinceLastWake(now); ok {
		fields = append(fields, zap.Int64("seconds_since_last_wake", int64(since/time.Second)))
	}
	logger.Info("start beacon", fields...)

	// Increment boot count and build this wake's frame
	next := st.Wake(now)
	frame := FrameFor(next.BootCount, c.cfg.Params)
	span.SetAttributes(
		attribute.Int64("beacon.boot_count", int64(next.BootCount)),
		attribute.Int("beacon.major", int(frame.Major)),
		attribute.Int("beacon.minor", int(frame.Minor)),
	)

	// Advertise for the configured window
	if err := c.advertise(ctx, ibeacon.Encode(frame)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "advertising failed")
		return st, err
	}

	// Retain state before powering down
	if err := c.store.Save(retention.Marshal(next.snapshot())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retain failed")
		return st, fmt.Errorf("failed to retain state: %w", err)
	}

	c.setPhase(PhaseSuspended)
	logger.Info("enter suspend", zap.Duration("duration", c.cfg.SuspendDuration))
	if c.instruments != nil {
		c.instruments.WakeCycles.Add(ctx, 1)
	}
	// Suspend until the next wake
	if err := c.suspender.Suspend(ctx, c.cfg.SuspendDuration); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suspend failed")
		return next, fmt.Errorf("failed to suspend: %w", err)
	}

	span.SetStatus(codes.Ok, "cycle complete")
	return next, nil
}

func (c *Controller) advertise(ctx context.Context, payload []byte) error {
	if err := c.advertiser.StartAdvertising(ctx, payload); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	c.setPhase(PhaseAdvertising)
	c.logger.Info("advertising started", zap.Duration("window", c.cfg.AdvertiseWindow))

	timer := time.NewTimer(c.cfg.AdvertiseWindow)
	defer timer.Stop()

	// Wait for the window to elapse or ctx to be cancelled
	var waitErr error
	select {
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-timer.C:
	}

	// Always stop, even when cancelled
	if err := c.advertiser.StopAdvertising(); err != nil {
		return fmt.Errorf("failed to stop advertising: %w", err)
	}
	return waitErr
}
