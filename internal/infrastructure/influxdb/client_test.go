package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for the local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "beacon",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu      sync.Mutex
	lines   []string
	queries []string
	healthy bool
}

func newFakeInflux(t *testing.T) (*fakeInflux, *httptest.Server) {
	t.Helper()
	f := &fakeInflux{healthy: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			f.mu.Lock()
			healthy := f.healthy
			f.mu.Unlock()
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.queries = append(f.queries, r.URL.RawQuery)
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// waitForLines polls until at least n lines arrived. The write API may still
// be posting the last batch when Flush returns.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		lines := f.written()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func connectFake(t *testing.T, srv *httptest.Server) *influxdb.Client {
	t.Helper()
	cfg := testConfig()
	cfg.URL = srv.URL
	client, err := influxdb.Connect(cfg, "site-001")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, "site-001")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg, "site-001")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_BatchDefaults(t *testing.T) {
	_, srv := newFakeInflux(t)

	tests := []struct {
		name          string
		batchSize     int
		flushInterval int
	}{
		{"zero uses defaults", 0, 0},
		{"negative uses defaults", -5, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.URL = srv.URL
			cfg.BatchSize = tt.batchSize
			cfg.FlushInterval = tt.flushInterval

			client, err := influxdb.Connect(cfg, "")
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer client.Close()

			if !client.IsConnected() {
				t.Error("IsConnected() = false after Connect()")
			}
		})
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	f, srv := newFakeInflux(t)
	client := connectFake(t, srv)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	f.mu.Lock()
	f.healthy = false
	f.mu.Unlock()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil for unhealthy server")
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	_, srv := newFakeInflux(t)
	client := connectFake(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	_, srv := newFakeInflux(t)
	client := connectFake(t, srv)
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWrite_SiteTagAndMeasurements(t *testing.T) {
	f, srv := newFakeInflux(t)
	client := connectFake(t, srv)

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	at := time.Unix(1700000000, 0)
	client.WriteAdvertisement(influxdb.Advertisement{
		BeaconID:     "hall-01",
		Slot:         1,
		FrameType:    "url",
		IntervalMS:   1000,
		RadioTxPower: -4,
		AdvCount:     7,
	}, at)

	celsius := 21.5
	client.WriteTelemetry(influxdb.TelemetryReading{
		BeaconID:  "hall-01",
		BatteryMV: 3900,
		Celsius:   &celsius,
		AdvCount:  12,
		Uptime:    90 * time.Second,
	}, at)
	client.Flush()

	lines := f.waitForLines(t, 2)
	if len(lines) != 2 {
		t.Fatalf("written %d lines, want 2: %q", len(lines), lines)
	}
	for _, line := range lines {
		if !strings.Contains(line, "site_id=site-001") {
			t.Errorf("line %q missing site_id tag", line)
		}
	}
	if !strings.HasPrefix(lines[0], influxdb.MeasurementAdvertising+",") {
		t.Errorf("first line = %q, want %s", lines[0], influxdb.MeasurementAdvertising)
	}
	if !strings.HasPrefix(lines[1], influxdb.MeasurementTelemetry+",") {
		t.Errorf("second line = %q, want %s", lines[1], influxdb.MeasurementTelemetry)
	}

	f.mu.Lock()
	query := f.queries[0]
	f.mu.Unlock()
	if !strings.Contains(query, "bucket=beacon") || !strings.Contains(query, "org=graylogic") {
		t.Errorf("write query = %q, want org and bucket", query)
	}

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	f, srv := newFakeInflux(t)
	client := connectFake(t, srv)

	client.WriteAdvertisement(influxdb.Advertisement{BeaconID: "close-test", FrameType: "uid"}, time.Now())

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if n := len(f.waitForLines(t, 1)); n != 1 {
		t.Errorf("Close() flushed %d lines, want 1", n)
	}

	// Writes after Close are dropped and a second Close is harmless.
	client.WriteAdvertisement(influxdb.Advertisement{BeaconID: "close-test", FrameType: "uid"}, time.Now())
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if n := len(f.written()); n != 1 {
		t.Errorf("lines after Close = %d, want 1", n)
	}
}

// =============================================================================
// Live Server
// =============================================================================

// TestLive_Write runs against a real InfluxDB when RUN_INTEGRATION is set.
func TestLive_Write(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to write to a live InfluxDB")
	}

	client, err := influxdb.Connect(testConfig(), "integration")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errs := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	client.WriteAdvertisement(influxdb.Advertisement{BeaconID: "live-01", FrameType: "tlm"}, time.Now())
	client.Flush()

	select {
	case err := <-errs:
		t.Errorf("write error = %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}
