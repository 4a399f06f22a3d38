// Package retention models the memory region that survives a suspend.
//
// On a microcontroller this is RTC memory: it outlives deep sleep but not a
// power loss. On a host it is a small file, written before every suspend and
// read back on resume.
package retention

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// Region layout (21 bytes):
// Magic(4) | Version(1) | BootCount(4) | LastWakeUnixNano(8) | CRC32(4)
const (
	magic      = "IBRT"
	version    = 1
	RegionSize = 4 + 1 + 4 + 8 + 4
)

var (
	// ErrNoState means nothing was retained, i.e. a cold start
	ErrNoState = errors.New("no retained state")
	// ErrCorrupt means the retained region failed validation
	ErrCorrupt = errors.New("retained state corrupt")
)

// Snapshot is the content of the retained region
type Snapshot struct {
	BootCount uint32
	LastWake  time.Time
}

// Marshal serializes a snapshot into the region layout
func Marshal(s Snapshot) []byte {
	buf := make([]byte, RegionSize)
	copy(buf[0:4], magic)
	buf[4] = version
	binary.LittleEndian.PutUint32(buf[5:9], s.BootCount)

	var nanos int64
	if !s.LastWake.IsZero() {
		nanos = s.LastWake.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[9:17], uint64(nanos))

	binary.LittleEndian.PutUint32(buf[17:21], crc32.ChecksumIEEE(buf[:17]))
	return buf
}

// Unmarshal restores a snapshot, validating magic, version and checksum
func Unmarshal(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, ErrNoState
	}
	if len(data) != RegionSize {
		return Snapshot{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrCorrupt, RegionSize, len(data))
	}
	if string(data[0:4]) != magic {
		return Snapshot{}, fmt.Errorf("%w: bad magic % X", ErrCorrupt, data[0:4])
	}
	if data[4] != version {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}

	want := binary.LittleEndian.Uint32(data[17:21])
	if got := crc32.ChecksumIEEE(data[:17]); got != want {
		return Snapshot{}, fmt.Errorf("%w: checksum mismatch (expected %08x, got %08x)", ErrCorrupt, want, got)
	}

	s := Snapshot{BootCount: binary.LittleEndian.Uint32(data[5:9])}
	if nanos := int64(binary.LittleEndian.Uint64(data[9:17])); nanos != 0 {
		s.LastWake = time.Unix(0, nanos)
	}
	return s, nil
}
