// Package report holds the sinks an accepted iBeacon sighting is written to.
package report

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/buffer"
	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

// Reporter receives accepted sightings
type Reporter interface {
	Report(ctx context.Context, rec ibeacon.Record) error
}

// Line renders the one-line scan report for a sighting
func Line(rec ibeacon.Record) string {
	return fmt.Sprintf("addr:%s rssi:%d uuid:%s power:%d", rec.Address, rec.RSSI, rec.UUID, rec.TxPower)
}

// Log writes each sighting as an info line
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log reporter
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Report implements Reporter
func (l *Log) Report(_ context.Context, rec ibeacon.Record) error {
	l.logger.Info(Line(rec),
		zap.String("address", rec.Address),
		zap.Int16("rssi_dbm", rec.RSSI),
		zap.String("uuid", rec.UUID),
		zap.Uint16("major", rec.Major),
		zap.Uint16("minor", rec.Minor),
		zap.Int8("tx_power_dbm", rec.TxPower),
	)
	return nil
}

// Buffer queues sightings for the metrics pusher
type Buffer struct {
	buf *buffer.RingBuffer[ibeacon.Record]
}

// NewBuffer creates a reporter feeding buf
func NewBuffer(buf *buffer.RingBuffer[ibeacon.Record]) *Buffer {
	return &Buffer{buf: buf}
}

// Report implements Reporter
func (b *Buffer) Report(_ context.Context, rec ibeacon.Record) error {
	b.buf.Add(rec)
	return nil
}

// Multi fans a sighting out to every reporter. All reporters are called
// even when one fails; the failures are joined.
type Multi []Reporter

// Report implements Reporter
func (m Multi) Report(ctx context.Context, rec ibeacon.Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
