package radio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

func testFrame() ibeacon.Frame {
	return ibeacon.NewFrame(uuid.MustParse("87b99b2c-90fd-11e9-bc42-526af7764f64"), 0, 3, -50)
}

func TestManufacturerElement_FromEncodedAdvertisement(t *testing.T) {
	elem, flags, err := manufacturerElement(ibeacon.Encode(testFrame()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if elem.CompanyID != ibeacon.AppleCompanyID {
		t.Errorf("Expected company id 0x004C, got %#04x", elem.CompanyID)
	}
	if len(elem.Data) != ibeacon.ManufacturerDataLen-2 {
		t.Errorf("Expected %d data bytes, got %d", ibeacon.ManufacturerDataLen-2, len(elem.Data))
	}
	if flags != ibeacon.FlagBREDRNotSupported {
		t.Errorf("Expected flags 0x04, got %#02x", flags)
	}
}

func TestManufacturerElement_Errors(t *testing.T) {
	if _, _, err := manufacturerElement([]byte{0x02, 0x01, 0x04}); !errors.Is(err, ErrNoManufacturerData) {
		t.Errorf("Expected ErrNoManufacturerData, got: %v", err)
	}
	if _, _, err := manufacturerElement([]byte{0x1A, 0xFF, 0x4C}); !errors.Is(err, ibeacon.ErrTruncatedAD) {
		t.Errorf("Expected ErrTruncatedAD, got: %v", err)
	}
}

func TestRawManufacturerData_RoundTripsThroughDecoder(t *testing.T) {
	frame := testFrame()
	elem, _, err := manufacturerElement(ibeacon.Encode(frame))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	raw := rawManufacturerData(elem)
	if !bytes.Equal(raw, ibeacon.EncodeManufacturerData(frame)) {
		t.Errorf("Expected rebuilt data % X, got % X", ibeacon.EncodeManufacturerData(frame), raw)
	}

	decoded, ok := ibeacon.Decode(raw)
	if !ok || decoded != frame {
		t.Errorf("Expected %+v, got %+v (%v)", frame, decoded, ok)
	}
}

func TestToObservations(t *testing.T) {
	at := time.Now()

	none := toObservations("aa:bb", -70, nil, at)
	if len(none) != 1 || none[0].ManufacturerData != nil || none[0].RSSI != -70 {
		t.Errorf("Expected one empty observation, got %+v", none)
	}

	elems := []bluetooth.ManufacturerDataElement{
		{CompanyID: 0x0006, Data: []byte{0x01}},
		{CompanyID: 0x004C, Data: []byte{0x02, 0x15}},
	}
	obs := toObservations("aa:bb", -55, elems, at)
	if len(obs) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(obs))
	}
	if !bytes.Equal(obs[1].ManufacturerData, []byte{0x4C, 0x00, 0x02, 0x15}) {
		t.Errorf("Unexpected raw data: % X", obs[1].ManufacturerData)
	}
	if obs[0].Address != "aa:bb" || !obs[0].Timestamp.Equal(at) {
		t.Errorf("Unexpected observation: %+v", obs[0])
	}
}
