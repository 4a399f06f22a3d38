package metrics

import (
	"context"
	"sort"
	"strconv"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

// Metric names emitted for each beacon
const (
	MetricRSSI     = "ibeacon_rssi_dbm"
	MetricTxPower  = "ibeacon_tx_power_dbm"
	MetricDistance = "ibeacon_distance_meters"
)

type beaconKey struct {
	uuid    string
	major   uint16
	minor   uint16
	address string
}

func (k beaconKey) labels(name string) []prompb.Label {
	// Sorted by label name
	return []prompb.Label{
		{Name: "__name__", Value: name},
		{Name: "address", Value: k.address},
		{Name: "major", Value: strconv.Itoa(int(k.major))},
		{Name: "minor", Value: strconv.Itoa(int(k.minor))},
		{Name: "uuid", Value: k.uuid},
	}
}

// SightingSeriesBuilder returns a builder that turns sightings into time
// series, one set per beacon identity and receiving address. Distance is
// estimated with the given path loss exponent and omitted for records
// without a calibrated tx power.
func SightingSeriesBuilder(pathLossExponent float64) TimeSeriesBuilder {
	return func(ctx context.Context, records []ibeacon.Record) ([]prompb.TimeSeries, error) {
		_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildSightingTimeSeries")
		defer span.End()

		if len(records) == 0 {
			span.SetStatus(codes.Ok, "no sightings")
			return nil, nil
		}

		grouped := make(map[beaconKey][]ibeacon.Record)
		var keys []beaconKey
		for _, rec := range records {
			key := beaconKey{uuid: rec.UUID, major: rec.Major, minor: rec.Minor, address: rec.Address}
			if _, seen := grouped[key]; !seen {
				keys = append(keys, key)
			}
			grouped[key] = append(grouped[key], rec)
		}

		var series []prompb.TimeSeries
		for _, key := range keys {
			recs := grouped[key]
			sort.SliceStable(recs, func(i, j int) bool { return recs[i].SeenAt.Before(recs[j].SeenAt) })

			var rssi, tx, distance []prompb.Sample
			for _, rec := range recs {
				ts := rec.SeenAt.UnixMilli()
				rssi = append(rssi, prompb.Sample{Value: float64(rec.RSSI), Timestamp: ts})
				tx = append(tx, prompb.Sample{Value: float64(rec.TxPower), Timestamp: ts})
				if rec.TxPower != 0 {
					distance = append(distance, prompb.Sample{Value: rec.Distance(pathLossExponent), Timestamp: ts})
				}
			}

			series = append(series,
				prompb.TimeSeries{Labels: key.labels(MetricRSSI), Samples: rssi},
				prompb.TimeSeries{Labels: key.labels(MetricTxPower), Samples: tx},
			)
			if len(distance) > 0 {
				series = append(series, prompb.TimeSeries{Labels: key.labels(MetricDistance), Samples: distance})
			}
		}

		span.SetAttributes(
			attribute.Int("metrics.beacons", len(keys)),
			attribute.Int("metrics.time_series_count", len(series)),
		)
		span.SetStatus(codes.Ok, "sighting time series built")
		return series, nil
	}
}
