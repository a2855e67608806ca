package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestAdvertisementPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := advertisementPoint(Advertisement{
		BeaconID:     "hall-01",
		Slot:         2,
		FrameType:    "url",
		Connectable:  true,
		IntervalMS:   1000,
		RadioTxPower: -4,
		AdvCount:     7,
	}, at)

	line := write.PointToLineProtocol(p, time.Second)
	if !strings.HasPrefix(line, MeasurementAdvertising+",") {
		t.Fatalf("line = %q, want measurement %s", line, MeasurementAdvertising)
	}
	for _, want := range []string{
		"beacon_id=hall-01",
		"frame_type=url",
		"slot=2",
		"connectable=true",
		"interval_ms=1000i",
		"radio_tx_power=-4i",
		"adv_count=7i",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestTelemetryPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	celsius := 21.5

	tests := []struct {
		name    string
		reading TelemetryReading
		want    []string
		absent  string
	}{
		{
			name: "with temperature",
			reading: TelemetryReading{
				BeaconID: "hall-01", BatteryMV: 3900, Celsius: &celsius,
				AdvCount: 12, Uptime: 90 * time.Second,
			},
			want: []string{"beacon_id=hall-01", "battery_mv=3900i", "temperature_c=21.5", "adv_count=12i", "uptime_s=90"},
		},
		{
			name:    "no sensor",
			reading: TelemetryReading{BeaconID: "hall-01", Uptime: 500 * time.Millisecond},
			want:    []string{"battery_mv=0i", "uptime_s=0.5"},
			absent:  "temperature_c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(telemetryPoint(tt.reading, at), time.Second)
			if !strings.HasPrefix(line, MeasurementTelemetry+",") {
				t.Fatalf("line = %q", line)
			}
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
			if tt.absent != "" && strings.Contains(line, tt.absent) {
				t.Errorf("line %q should not contain %q", line, tt.absent)
			}
		})
	}
}

func TestWritesWhenDisconnected(t *testing.T) {
	c := &Client{}

	// A disconnected client drops points without touching the write API.
	c.WriteAdvertisement(Advertisement{BeaconID: "b"}, time.Now())
	c.WriteTelemetry(TelemetryReading{BeaconID: "b"}, time.Now())
}
