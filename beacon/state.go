package beacon

import (
	"time"

	"github.com/google/uuid"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/retention"
)

// Phase is the controller's position in the duty cycle
type Phase int32

const (
	PhaseColdStart Phase = iota
	PhaseAwake
	PhaseAdvertising
	PhaseSuspended
)

func (p Phase) String() string {
	switch p {
	case PhaseColdStart:
		return "cold_start"
	case PhaseAwake:
		return "awake"
	case PhaseAdvertising:
		return "advertising"
	case PhaseSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// State is what the beacon carries across suspends
type State struct {
	BootCount uint32
	LastWake  time.Time
}

// Wake returns the state for a new wake at now. BootCount wraps at 2^32.
func (s State) Wake(now time.Time) State {
	return State{BootCount: s.BootCount + 1, LastWake: now}
}

// SinceLastWake reports the time between the previous wake and now. ok is
// false on a cold start.
func (s State) SinceLastWake(now time.Time) (d time.Duration, ok bool) {
	if s.LastWake.IsZero() {
		return 0, false
	}
	return now.Sub(s.LastWake), true
}

func (s State) snapshot() retention.Snapshot {
	return retention.Snapshot{BootCount: s.BootCount, LastWake: s.LastWake}
}

func stateFromSnapshot(snap retention.Snapshot) State {
	return State{BootCount: snap.BootCount, LastWake: snap.LastWake}
}

// Params are the fixed parts of the advertised frame
type Params struct {
	UUID    uuid.UUID
	TxPower int8
}

// FrameFor builds the frame for a boot count: major carries the upper 16
// bits and minor the lower 16 bits.
func FrameFor(bootCount uint32, p Params) ibeacon.Frame {
	return ibeacon.NewFrame(p.UUID, uint16(bootCount>>16), uint16(bootCount&0xFFFF), p.TxPower)
}
