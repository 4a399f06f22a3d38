package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

// ErrNoManufacturerData means an advertisement payload carries no
// manufacturer specific AD structure
var ErrNoManufacturerData = errors.New("advertisement has no manufacturer data")

// rawManufacturerData rebuilds the manufacturer specific AD value the way it
// appears on air: little endian company id, then the company data
func rawManufacturerData(elem bluetooth.ManufacturerDataElement) []byte {
	raw := make([]byte, 2+len(elem.Data))
	binary.LittleEndian.PutUint16(raw, elem.CompanyID)
	copy(raw[2:], elem.Data)
	return raw
}

// toObservations maps one scan result to observations, one per
// manufacturer element. A result without manufacturer data still yields a
// single observation so it is counted.
func toObservations(address string, rssi int16, elems []bluetooth.ManufacturerDataElement, at time.Time) []ibeacon.Observation {
	if len(elems) == 0 {
		return []ibeacon.Observation{{Address: address, RSSI: rssi, Timestamp: at}}
	}

	out := make([]ibeacon.Observation, 0, len(elems))
	for _, elem := range elems {
		out = append(out, ibeacon.Observation{
			Address:          address,
			RSSI:             rssi,
			ManufacturerData: rawManufacturerData(elem),
			Timestamp:        at,
		})
	}
	return out
}

// manufacturerElement extracts the manufacturer element and the flags byte
// from encoded advertising data, for stacks that take them separately
func manufacturerElement(payload []byte) (bluetooth.ManufacturerDataElement, byte, error) {
	ads, err := ibeacon.ParseAD(payload)
	if err != nil {
		return bluetooth.ManufacturerDataElement{}, 0, fmt.Errorf("failed to parse advertisement: %w", err)
	}

	data, ok := ibeacon.ManufacturerData(ads)
	if !ok || len(data) < 2 {
		return bluetooth.ManufacturerDataElement{}, 0, ErrNoManufacturerData
	}
	flags, _ := ibeacon.Flags(ads)

	return bluetooth.ManufacturerDataElement{
		CompanyID: binary.LittleEndian.Uint16(data[:2]),
		Data:      append([]byte(nil), data[2:]...),
	}, flags, nil
}
