package ibeacon

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AppleCompanyID is the Bluetooth SIG company identifier for Apple
	AppleCompanyID uint16 = 0x004C

	// BeaconTypeIBeacon is the iBeacon sub-type (0x02) and remaining length (0x15)
	// read as a little endian word
	BeaconTypeIBeacon uint16 = 0x1502

	// ManufacturerDataLen is the minimum length of iBeacon manufacturer data
	ManufacturerDataLen = 25
)

// Frame is a decoded or encodable iBeacon record
type Frame struct {
	CompanyID     uint16
	BeaconType    uint16
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	TxPower       int8 // calibrated RSSI at 1 meter, dBm
}

// NewFrame returns an Apple iBeacon frame for the given identifiers
func NewFrame(proximity uuid.UUID, major, minor uint16, txPower int8) Frame {
	return Frame{
		CompanyID:     AppleCompanyID,
		BeaconType:    BeaconTypeIBeacon,
		ProximityUUID: proximity,
		Major:         major,
		Minor:         minor,
		TxPower:       txPower,
	}
}

// UUIDString renders the proximity UUID as upper case 8-4-4-4-12 hex,
// bytes taken in storage order
func (f Frame) UUIDString() string {
	return strings.ToUpper(f.ProximityUUID.String())
}

// Observation is a single advertisement seen during a scan window
type Observation struct {
	Address          string
	RSSI             int16
	ManufacturerData []byte
	Timestamp        time.Time
}

// Record is an accepted iBeacon sighting, ready to be reported
type Record struct {
	Address string
	RSSI    int16
	UUID    string
	Major   uint16
	Minor   uint16
	TxPower int8
	SeenAt  time.Time
}
