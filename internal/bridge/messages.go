package bridge

import (
	"encoding/hex"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// FrameMessage reports one advertising start.
// Topic: graylogic/beacon/{id}/frame
type FrameMessage struct {
	Slot         int       `json:"slot"`
	FrameType    string    `json:"frame_type"`
	ServiceData  string    `json:"service_data"`
	Connectable  bool      `json:"connectable"`
	IntervalMS   uint16    `json:"interval_ms"`
	RadioTxPower int8      `json:"radio_tx_power"`
	Timestamp    time.Time `json:"timestamp"`
}

// TelemetryMessage carries the readings of a broadcast TLM frame.
// Topic: graylogic/beacon/{id}/telemetry
type TelemetryMessage struct {
	BatteryMV uint16 `json:"battery_mv"`
	// TemperatureC is omitted when the beacon has no temperature sensor.
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	AdvCount     uint32   `json:"adv_count"`
	// UptimeTicks counts 0.1 s ticks since power on.
	UptimeTicks uint32    `json:"uptime_ticks"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusMessage is the retained beacon status.
// Topic: graylogic/beacon/{id}/status
type StatusMessage struct {
	Event     beacon.EventKind `json:"event"`
	Phase     beacon.Phase     `json:"phase"`
	Connected bool             `json:"connected"`
	State     beacon.Snapshot  `json:"state"`
	Timestamp time.Time        `json:"timestamp"`
}

// CommandStatus is the outcome of a remote configuration write.
type CommandStatus string

const (
	// CommandAccepted means the configurator applied the write.
	CommandAccepted CommandStatus = "accepted"

	// CommandRejected means the configurator refused the write.
	CommandRejected CommandStatus = "rejected"
)

// CommandResult reports the outcome of a remote configuration write.
// Topic: graylogic/beacon/{id}/command_result
type CommandResult struct {
	Characteristic string        `json:"characteristic"`
	Status         CommandStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

func newFrameMessage(ev beacon.Event) FrameMessage {
	d := ev.Descriptor
	return FrameMessage{
		Slot:         ev.Slot,
		FrameType:    d.FrameType().String(),
		ServiceData:  hex.EncodeToString(d.ServiceData()),
		Connectable:  ev.Connectable,
		IntervalMS:   d.IntervalMS,
		RadioTxPower: d.RadioTxPower,
		Timestamp:    ev.Time.UTC(),
	}
}

func newTelemetryMessage(t eddystone.Telemetry, at time.Time) TelemetryMessage {
	return TelemetryMessage{
		BatteryMV:    t.BatteryMV,
		TemperatureC: celsius(t),
		AdvCount:     t.AdvCount,
		UptimeTicks:  t.Uptime,
		Timestamp:    at.UTC(),
	}
}

func celsius(t eddystone.Telemetry) *float64 {
	if t.Temperature == eddystone.TemperatureUnsupported {
		return nil
	}
	c := t.Celsius()
	return &c
}
