package api

import (
	"encoding/hex"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// wsEventPayload is the payload of a beacon event message. Fields the
// event kind does not carry are omitted.
type wsEventPayload struct {
	Phase          string           `json:"phase,omitempty"`
	Slot           *int             `json:"slot,omitempty"`
	FrameType      string           `json:"frame_type,omitempty"`
	ServiceData    string           `json:"service_data,omitempty"`
	Connectable    *bool            `json:"connectable,omitempty"`
	IntervalMS     uint16           `json:"interval_ms,omitempty"`
	RadioTxPower   *int8            `json:"radio_tx_power,omitempty"`
	Telemetry      *wsTelemetry     `json:"telemetry,omitempty"`
	Connected      *bool            `json:"connected,omitempty"`
	Characteristic string           `json:"characteristic,omitempty"`
	State          *beacon.Snapshot `json:"state,omitempty"`
}

type wsTelemetry struct {
	BatteryMV    uint16   `json:"battery_mv"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	AdvCount     uint32   `json:"adv_count"`
	UptimeTicks  uint32   `json:"uptime_ticks"`
}

func newWSTelemetry(t eddystone.Telemetry) *wsTelemetry {
	out := &wsTelemetry{BatteryMV: t.BatteryMV, AdvCount: t.AdvCount, UptimeTicks: t.Uptime}
	if t.Temperature != eddystone.TemperatureUnsupported {
		c := t.Celsius()
		out.TemperatureC = &c
	}
	return out
}

func newEventPayload(ev beacon.Event) wsEventPayload {
	p := wsEventPayload{Phase: ev.Phase.String()}

	switch ev.Kind {
	case beacon.EventAdvertisingStarted:
		d := ev.Descriptor
		p.Slot = &ev.Slot
		p.FrameType = d.FrameType().String()
		p.ServiceData = hex.EncodeToString(d.ServiceData())
		p.Connectable = &ev.Connectable
		p.IntervalMS = d.IntervalMS
		p.RadioTxPower = &d.RadioTxPower
		if t, ok := ev.Telemetry(); ok {
			p.Telemetry = newWSTelemetry(t)
		}
	case beacon.EventAdvertisingStopped:
	case beacon.EventConnection:
		p.Connected = &ev.Connected
		p.State = &ev.Snapshot
	case beacon.EventConfigChanged:
		p.Phase = ""
		if ev.Slot >= 0 {
			p.Slot = &ev.Slot
		}
		p.Characteristic = ev.Characteristic
		p.State = &ev.Snapshot
	default:
		p.State = &ev.Snapshot
	}
	return p
}
