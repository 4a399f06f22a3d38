package beacon

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/retention"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

var testParams = Params{
	UUID:    uuid.MustParse("87b99b2c-90fd-11e9-bc42-526af7764f64"),
	TxPower: -50,
}

type fakeAdvertiser struct {
	advertising bool
	payloads    [][]byte
	startErr    error
}

func (a *fakeAdvertiser) StartAdvertising(_ context.Context, payload []byte) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.advertising = true
	a.payloads = append(a.payloads, payload)
	return nil
}

func (a *fakeAdvertiser) StopAdvertising() error {
	a.advertising = false
	return nil
}

// fakeSuspender checks the ordering contract at the moment of suspend and
// cancels the run after a fixed number of suspends
type fakeSuspender struct {
	t          *testing.T
	advertiser *fakeAdvertiser
	store      retention.Store
	durations  []time.Duration
	retained   []uint32
	limit      int
	cancel     context.CancelFunc
	clock      *time.Time
}

func (s *fakeSuspender) Suspend(ctx context.Context, d time.Duration) error {
	if s.advertiser.advertising {
		s.t.Error("Suspend requested while still advertising")
	}

	data, err := s.store.Load()
	if err != nil {
		s.t.Fatalf("Expected retained state before suspend, got: %v", err)
	}
	snap, err := retention.Unmarshal(data)
	if err != nil {
		s.t.Fatalf("Expected valid retained state, got: %v", err)
	}
	s.retained = append(s.retained, snap.BootCount)
	s.durations = append(s.durations, d)

	if s.clock != nil {
		*s.clock = s.clock.Add(d)
	}
	if s.limit > 0 && len(s.durations) >= s.limit {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

func newTestController(t *testing.T, store retention.Store, limit int) (*Controller, *fakeAdvertiser, *fakeSuspender, context.Context) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adv := &fakeAdvertiser{}
	sus := &fakeSuspender{t: t, advertiser: adv, store: store, limit: limit, cancel: cancel, clock: &clock}

	instruments, err := telemetry.NewBeaconInstruments()
	if err != nil {
		t.Fatalf("Failed to create instruments: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	c := NewController(Config{
		Params:          testParams,
		AdvertiseWindow: time.Millisecond,
		SuspendDuration: 10 * time.Second,
	}, adv, sus, store, instruments, logger)
	c.now = func() time.Time { return clock }

	return c, adv, sus, ctx
}

func TestFrameFor_SplitsBootCount(t *testing.T) {
	tests := []struct {
		count uint32
		major uint16
		minor uint16
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0xFFFF, 0, 0xFFFF},
		{0x00010000, 1, 0},
		{0x12345678, 0x1234, 0x5678},
		{math.MaxUint32, 0xFFFF, 0xFFFF},
	}

	for _, tt := range tests {
		f := FrameFor(tt.count, testParams)
		if f.Major != tt.major || f.Minor != tt.minor {
			t.Errorf("count %#x: expected %#x/%#x, got %#x/%#x", tt.count, tt.major, tt.minor, f.Major, f.Minor)
		}
		if f.ProximityUUID != testParams.UUID || f.TxPower != -50 || f.CompanyID != ibeacon.AppleCompanyID {
			t.Errorf("count %#x: unexpected frame %+v", tt.count, f)
		}
	}
}

func TestState_WakeWraps(t *testing.T) {
	now := time.Now()
	st := State{BootCount: math.MaxUint32}.Wake(now)
	if st.BootCount != 0 {
		t.Errorf("Expected boot count to wrap to 0, got %d", st.BootCount)
	}
	if !st.LastWake.Equal(now) {
		t.Errorf("Expected last wake %v, got %v", now, st.LastWake)
	}
}

func TestState_SinceLastWake(t *testing.T) {
	now := time.Now()
	if _, ok := (State{}).SinceLastWake(now); ok {
		t.Error("Expected no interval on a cold start")
	}
	d, ok := State{LastWake: now.Add(-10 * time.Second)}.SinceLastWake(now)
	if !ok || d != 10*time.Second {
		t.Errorf("Expected 10s, got %v (%v)", d, ok)
	}
}

func TestCycle_AdvertisesFrameForNextCount(t *testing.T) {
	store := retention.NewMemoryStore()
	c, adv, sus, ctx := newTestController(t, store, 0)

	next, err := c.Cycle(ctx, State{BootCount: 0x0001FFFF})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if next.BootCount != 0x00020000 {
		t.Errorf("Expected boot count 0x20000, got %#x", next.BootCount)
	}

	if len(adv.payloads) != 1 {
		t.Fatalf("Expected 1 advertisement, got %d", len(adv.payloads))
	}
	payload := adv.payloads[0]
	if len(payload) != ibeacon.AdvertisementSize {
		t.Fatalf("Expected %d byte advertisement, got %d", ibeacon.AdvertisementSize, len(payload))
	}

	ads, err := ibeacon.ParseAD(payload)
	if err != nil {
		t.Fatalf("Expected parseable advertisement, got: %v", err)
	}
	data, ok := ibeacon.ManufacturerData(ads)
	if !ok {
		t.Fatal("Expected manufacturer data in advertisement")
	}
	frame, ok := ibeacon.Decode(data)
	if !ok {
		t.Fatal("Expected advertised data to decode")
	}
	if frame.Major != 2 || frame.Minor != 0 {
		t.Errorf("Expected major 2 minor 0, got %d/%d", frame.Major, frame.Minor)
	}

	if len(sus.durations) != 1 || sus.durations[0] != 10*time.Second {
		t.Errorf("Expected one 10s suspend, got %v", sus.durations)
	}
	if sus.retained[0] != 0x00020000 {
		t.Errorf("Expected retained count 0x20000 before suspend, got %#x", sus.retained[0])
	}
	if c.Phase() != PhaseSuspended {
		t.Errorf("Expected phase suspended, got %s", c.Phase())
	}
}

func TestRun_BootCountMonotonic(t *testing.T) {
	store := retention.NewMemoryStore()
	c, adv, sus, ctx := newTestController(t, store, 5)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Expected nil on cancel, got: %v", err)
	}

	want := []uint32{1, 2, 3, 4, 5}
	if len(sus.retained) != len(want) {
		t.Fatalf("Expected %d cycles, got %d", len(want), len(sus.retained))
	}
	for i, count := range want {
		if sus.retained[i] != count {
			t.Errorf("Cycle %d: expected boot count %d, got %d", i, count, sus.retained[i])
		}
		frame, _ := ibeacon.Decode(adv.payloads[i][5:])
		if uint32(frame.Major)<<16|uint32(frame.Minor) != count {
			t.Errorf("Cycle %d: frame carries %d/%d", i, frame.Major, frame.Minor)
		}
	}
}

func TestRun_RestoresRetainedState(t *testing.T) {
	store := retention.NewMemoryStore()
	lastWake := time.Date(2023, 12, 31, 23, 59, 50, 0, time.UTC)
	if err := store.Save(retention.Marshal(retention.Snapshot{BootCount: 41, LastWake: lastWake})); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	c, _, sus, ctx := newTestController(t, store, 1)
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Expected nil on cancel, got: %v", err)
	}
	if sus.retained[0] != 42 {
		t.Errorf("Expected boot count 42 after restore, got %d", sus.retained[0])
	}
}

func TestRestore_ColdStart(t *testing.T) {
	tests := []struct {
		name string
		seed []byte
	}{
		{name: "empty store"},
		{name: "corrupt region", seed: []byte("garbage")},
		{name: "flipped byte", seed: func() []byte {
			data := retention.Marshal(retention.Snapshot{BootCount: 7})
			data[6] ^= 0xFF
			return data
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := retention.NewMemoryStore()
			if tt.seed != nil {
				if err := store.Save(tt.seed); err != nil {
					t.Fatalf("Failed to seed store: %v", err)
				}
			}

			c, _, _, ctx := newTestController(t, store, 0)
			st := c.Restore(ctx)
			if st != (State{}) {
				t.Errorf("Expected zero state, got %+v", st)
			}
			if c.Phase() != PhaseColdStart {
				t.Errorf("Expected phase cold_start, got %s", c.Phase())
			}
		})
	}
}

func TestRun_ClearedStoreResetsCount(t *testing.T) {
	store := retention.NewMemoryStore()
	c, _, sus, ctx := newTestController(t, store, 3)

	// Simulate a power loss after the second suspend
	inner := c.suspender
	c.suspender = suspenderFunc(func(ctx context.Context, d time.Duration) error {
		err := inner.Suspend(ctx, d)
		if len(sus.retained) == 2 {
			_ = store.Clear()
		}
		return err
	})

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Expected nil on cancel, got: %v", err)
	}
	want := []uint32{1, 2, 1}
	for i, count := range want {
		if sus.retained[i] != count {
			t.Errorf("Cycle %d: expected boot count %d, got %d", i, count, sus.retained[i])
		}
	}
}

func TestCycle_AdvertiseErrorSkipsSuspend(t *testing.T) {
	store := retention.NewMemoryStore()
	c, adv, sus, ctx := newTestController(t, store, 0)
	adv.startErr = errors.New("radio off")

	if _, err := c.Cycle(ctx, State{}); err == nil {
		t.Fatal("Expected error, got nil")
	}
	if len(sus.durations) != 0 {
		t.Error("Did not expect a suspend after an advertising failure")
	}
	if _, err := store.Load(); !errors.Is(err, retention.ErrNoState) {
		t.Errorf("Expected nothing retained, got: %v", err)
	}
}

func TestCycle_CancelDuringAdvertiseStops(t *testing.T) {
	store := retention.NewMemoryStore()
	c, adv, _, _ := newTestController(t, store, 0)
	c.cfg.AdvertiseWindow = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.Cycle(ctx, State{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if adv.advertising {
		t.Error("Expected advertising to be stopped after cancel")
	}
}

type suspenderFunc func(ctx context.Context, d time.Duration) error

func (f suspenderFunc) Suspend(ctx context.Context, d time.Duration) error { return f(ctx, d) }
