// Package radio adapts the host BLE stack to the scanner and beacon.
package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
	"github.com/mjasion/balena-home/ibeacon/scanner"
)

// scanAdapter is the part of the adapter a scan window drives
type scanAdapter interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Bluetooth drives the default adapter for both scanning and advertising
type Bluetooth struct {
	adapter   *bluetooth.Adapter
	scanning  scanAdapter
	localName string
	logger    *zap.Logger

	mu          sync.Mutex
	enabled     bool
	advertising *bluetooth.Advertisement
}

// NewBluetooth creates an adapter wrapper. A non-empty localName is added to
// the beacon advertisement; on BlueZ it also becomes the adapter alias.
func NewBluetooth(localName string, logger *zap.Logger) *Bluetooth {
	return &Bluetooth{
		adapter:   bluetooth.DefaultAdapter,
		scanning:  bluetooth.DefaultAdapter,
		localName: localName,
		logger:    logger,
	}
}

// Enable powers up the BLE stack
func (b *Bluetooth) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("initializing BLE adapter")
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	b.enabled = true
	b.logger.Info("BLE adapter initialized successfully")
	return nil
}

// Scan implements scanner.Radio. The adapter scans in the background and is
// stopped when the window elapses or ctx is cancelled. The host stack always
// scans actively, so a passive request is only logged.
func (b *Bluetooth) Scan(ctx context.Context, req scanner.ScanRequest) (scanner.Window, error) {
	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return scanner.Window{}, fmt.Errorf("BLE adapter not enabled")
	}
	if err := ctx.Err(); err != nil {
		return scanner.Window{}, err
	}
	if !req.Active {
		b.logger.Debug("passive scan requested, host stack scans actively")
	}

	out := make(chan ibeacon.Observation, 64)
	errc := make(chan error, 1)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := b.scanning.StopScan(); err != nil {
				b.logger.Debug("stop scan", zap.Error(err))
			}
		})
	}
	timer := time.AfterFunc(req.Window, stop)
	stopOnCancel := context.AfterFunc(ctx, stop)

	go func() {
		err := b.scanning.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			address := strings.ToLower(result.Address.String())
			for _, obs := range toObservations(address, result.RSSI, result.ManufacturerData(), time.Now()) {
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		})
		timer.Stop()
		stopOnCancel()

		// Err is settled before Observations closes
		if err != nil {
			errc <- fmt.Errorf("failed to start BLE scan: %w", err)
		}
		close(errc)
		close(out)
	}()

	return scanner.Window{Observations: out, Err: errc}, nil
}

// StartAdvertising implements beacon.Advertiser. The host stack emits its
// own flags, so only the manufacturer element is handed over.
func (b *Bluetooth) StartAdvertising(_ context.Context, payload []byte) error {
	elem, flags, err := manufacturerElement(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	adv := b.adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:        b.localName,
		ManufacturerData: []bluetooth.ManufacturerDataElement{elem},
	})
	if err != nil {
		return fmt.Errorf("failed to configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertisement: %w", err)
	}
	b.advertising = adv

	b.logger.Debug("advertisement configured",
		zap.String("local_name", b.localName),
		zap.Uint16("company_id", elem.CompanyID),
		zap.Uint8("flags", flags),
		zap.Int("payload_bytes", len(payload)),
	)
	return nil
}

// StopAdvertising implements beacon.Advertiser
func (b *Bluetooth) StopAdvertising() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.advertising == nil {
		return nil
	}
	if err := b.advertising.Stop(); err != nil {
		return fmt.Errorf("failed to stop advertisement: %w", err)
	}
	b.advertising = nil
	return nil
}
