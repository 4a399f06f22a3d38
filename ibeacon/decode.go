package ibeacon

import (
	"encoding/binary"
	"math"
)

// Outcome classifies what the Decoder did with an observation
type Outcome int

const (
	// NotIBeacon means the manufacturer data failed the iBeacon layout checks
	NotIBeacon Outcome = iota
	// Suppressed means the frame decoded but its UUID is in the self filter
	Suppressed
	// Accepted means the record should be reported
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case NotIBeacon:
		return "not_ibeacon"
	case Suppressed:
		return "suppressed"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Decode validates and decodes iBeacon manufacturer data
// Layout (25 bytes):
// - Bytes 0-1: Company ID (little endian, 0x004C)
// - Bytes 2-3: Beacon type (little endian, 0x1502)
// - Bytes 4-19: Proximity UUID (storage order)
// - Bytes 20-21: Major (big endian)
// - Bytes 22-23: Minor (big endian)
// - Byte 24: Calibrated tx power (signed)
//
// Each check is a hard precondition; the second return value is false
// as soon as one fails and nothing after it is inspected.
func Decode(raw []byte) (Frame, bool) {
	if len(raw) < ManufacturerDataLen {
		return Frame{}, false
	}

	companyID := binary.LittleEndian.Uint16(raw[0:2])
	if companyID != AppleCompanyID {
		return Frame{}, false
	}

	beaconType := binary.LittleEndian.Uint16(raw[2:4])
	if beaconType != BeaconTypeIBeacon {
		return Frame{}, false
	}

	f := Frame{
		CompanyID:  companyID,
		BeaconType: beaconType,
		Major:      binary.BigEndian.Uint16(raw[20:22]),
		Minor:      binary.BigEndian.Uint16(raw[22:24]),
		TxPower:    int8(raw[24]),
	}
	copy(f.ProximityUUID[:], raw[4:20])

	return f, true
}

// SelfFilter is a set of exact UUID strings whose frames are never reported.
// It keeps a beacon from reporting its own (or earlier test) transmissions.
type SelfFilter map[string]struct{}

// NewSelfFilter builds a filter from the given strings. Entries are matched
// verbatim against the rendered UUID, without any normalization.
func NewSelfFilter(entries []string) SelfFilter {
	f := make(SelfFilter, len(entries))
	for _, e := range entries {
		f[e] = struct{}{}
	}
	return f
}

// Contains reports whether the rendered UUID matches an entry
func (f SelfFilter) Contains(rendered string) bool {
	_, ok := f[rendered]
	return ok
}

// Decoder turns observations into reportable records
type Decoder struct {
	filter SelfFilter
}

// NewDecoder creates a decoder that suppresses UUIDs in filter
func NewDecoder(filter SelfFilter) *Decoder {
	return &Decoder{filter: filter}
}

// Decode decodes one observation. The Record is only meaningful when the
// outcome is Suppressed or Accepted.
func (d *Decoder) Decode(obs Observation) (Record, Outcome) {
	f, ok := Decode(obs.ManufacturerData)
	if !ok {
		return Record{}, NotIBeacon
	}

	rec := Record{
		Address: obs.Address,
		RSSI:    obs.RSSI,
		UUID:    f.UUIDString(),
		Major:   f.Major,
		Minor:   f.Minor,
		TxPower: f.TxPower,
		SeenAt:  obs.Timestamp,
	}

	if d.filter.Contains(rec.UUID) {
		return rec, Suppressed
	}
	return rec, Accepted
}

// DefaultPathLossExponent is the free space path loss exponent
const DefaultPathLossExponent = 2.0

// Distance estimates the distance in meters from the calibrated tx power and
// the observed RSSI using the log-distance path loss model. It returns 0 when
// the beacon advertises no calibration.
func (r Record) Distance(pathLossExponent float64) float64 {
	if r.TxPower == 0 {
		return 0
	}
	if pathLossExponent <= 0 {
		pathLossExponent = DefaultPathLossExponent
	}
	return math.Pow(10, float64(int(r.TxPower)-int(r.RSSI))/(10*pathLossExponent))
}
