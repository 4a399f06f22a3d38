package ibeacon

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AD types
const (
	ADTypeFlags            byte = 0x01 // Flags
	ADTypeManufacturerData byte = 0xFF // Manufacturer Specific Data
)

// FlagBREDRNotSupported marks the device as LE only
const FlagBREDRNotSupported byte = 0x04

const (
	// ManufacturerADLen is the value of the manufacturer AD structure length byte
	ManufacturerADLen = 26

	flagsADSize        = 3
	manufacturerADSize = 1 + ManufacturerADLen

	// AdvertisementSize is the size of the advertising data produced by Encode
	AdvertisementSize = flagsADSize + manufacturerADSize
)

// ErrTruncatedAD is returned when an AD structure runs past the end of the data
var ErrTruncatedAD = errors.New("truncated AD structure")

// EncodeManufacturerData returns the 25 byte manufacturer payload that Decode reads.
//
// The company id is written little endian (4C 00 for Apple). BLE transmits
// multi-byte manufacturer ids LSB first, so this is the order Decode reads back
// as 0x004C. The beacon type is written the same way, giving 02 15 on the wire.
// UUID, major and minor go out big endian.
func EncodeManufacturerData(f Frame) []byte {
	data := make([]byte, ManufacturerDataLen)
	binary.LittleEndian.PutUint16(data[0:2], f.CompanyID)
	binary.LittleEndian.PutUint16(data[2:4], f.BeaconType)
	copy(data[4:20], f.ProximityUUID[:])
	binary.BigEndian.PutUint16(data[20:22], f.Major)
	binary.BigEndian.PutUint16(data[22:24], f.Minor)
	data[24] = byte(f.TxPower)
	return data
}

// EncodeManufacturerAD returns the manufacturer specific AD structure:
// length (26), type (0xFF), manufacturer data
func EncodeManufacturerAD(f Frame) []byte {
	ad := make([]byte, 0, manufacturerADSize)
	ad = append(ad, ManufacturerADLen, ADTypeManufacturerData)
	return append(ad, EncodeManufacturerData(f)...)
}

// Encode returns the full advertising data for f: a flags AD structure
// marking BR/EDR as not supported, followed by the manufacturer AD structure
func Encode(f Frame) []byte {
	adv := make([]byte, 0, AdvertisementSize)
	adv = append(adv, 0x02, ADTypeFlags, FlagBREDRNotSupported)
	return append(adv, EncodeManufacturerAD(f)...)
}

// ADStructure is one length-prefixed, typed field of advertising data
type ADStructure struct {
	Type byte
	Data []byte
}

// ParseAD splits advertising data into its AD structures.
// A zero length byte terminates the data early, as in padded payloads.
func ParseAD(data []byte) ([]ADStructure, error) {
	var out []ADStructure
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 {
			break
		}
		if i+1+length > len(data) {
			return nil, fmt.Errorf("%w: at offset %d, length %d exceeds %d remaining bytes",
				ErrTruncatedAD, i, length, len(data)-i-1)
		}
		out = append(out, ADStructure{
			Type: data[i+1],
			Data: data[i+2 : i+1+length],
		})
		i += 1 + length
	}
	return out, nil
}

// Flags returns the flags byte from advertising data, if present
func Flags(ads []ADStructure) (byte, bool) {
	for _, ad := range ads {
		if ad.Type == ADTypeFlags && len(ad.Data) == 1 {
			return ad.Data[0], true
		}
	}
	return 0, false
}

// ManufacturerData returns the first manufacturer specific field
func ManufacturerData(ads []ADStructure) ([]byte, bool) {
	for _, ad := range ads {
		if ad.Type == ADTypeManufacturerData {
			return ad.Data, true
		}
	}
	return nil, false
}
