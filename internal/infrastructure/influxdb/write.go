package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the beacon daemon.
const (
	MeasurementAdvertising = "beacon_advertising"
	MeasurementTelemetry   = "beacon_telemetry"
)

// Advertisement describes one advertising start.
type Advertisement struct {
	BeaconID     string
	Slot         int
	FrameType    string
	Connectable  bool
	IntervalMS   uint16
	RadioTxPower int8
	AdvCount     uint32
}

// TelemetryReading is one decoded TLM frame.
type TelemetryReading struct {
	BeaconID  string
	BatteryMV uint16
	// Celsius is nil when the beacon has no temperature sensor.
	Celsius  *float64
	AdvCount uint32
	// Uptime is the elapsed time since power on.
	Uptime time.Duration
}

// WriteAdvertisement records an advertising start.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteAdvertisement(influxdb.Advertisement{
//	    BeaconID: "hall-01", Slot: 0, FrameType: "url", IntervalMS: 1000,
//	}, time.Now())
func (c *Client) WriteAdvertisement(a Advertisement, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(advertisementPoint(a, at))
}

// WriteTelemetry records the readings carried by a TLM frame.
func (c *Client) WriteTelemetry(r TelemetryReading, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(telemetryPoint(r, at))
}

func advertisementPoint(a Advertisement, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAdvertising,
		map[string]string{
			"beacon_id":  a.BeaconID,
			"slot":       strconv.Itoa(a.Slot),
			"frame_type": a.FrameType,
		},
		map[string]interface{}{
			"connectable":    a.Connectable,
			"interval_ms":    int64(a.IntervalMS),
			"radio_tx_power": int64(a.RadioTxPower),
			"adv_count":      int64(a.AdvCount),
		},
		at,
	)
}

func telemetryPoint(r TelemetryReading, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"battery_mv": int64(r.BatteryMV),
		"adv_count":  int64(r.AdvCount),
		"uptime_s":   r.Uptime.Seconds(),
	}
	if r.Celsius != nil {
		fields["temperature_c"] = *r.Celsius
	}

	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"beacon_id": r.BeaconID},
		fields,
		at,
	)
}
