package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Beacon        BeaconMetrics    `json:"beacon"`
	Bridge        *BridgeMetrics   `json:"bridge,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics is zero when MQTT is disabled.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// BeaconMetrics combines the advertising machine status with the
// configuration that shapes it.
type BeaconMetrics struct {
	Phase         string           `json:"phase"`
	Advertising   bool             `json:"advertising"`
	Connected     bool             `json:"connected"`
	AdvCount      uint32           `json:"adv_count"`
	UptimeTicks   uint32           `json:"uptime_ticks"`
	ActiveSlot    int              `json:"active_slot"`
	LockState     beacon.LockState `json:"lock_state"`
	AdvIntervalMS uint16           `json:"adv_interval_ms"`
}

type BridgeMetrics struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       runtimeMetrics(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Beacon:        s.beaconMetrics(),
	}

	if s.mqttStatus != nil {
		m.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqttStatus()}
	}
	if s.bridge != nil {
		m.Bridge = &BridgeMetrics{Published: s.bridge.Published(), Dropped: s.bridge.Dropped()}
	}
	if s.db != nil {
		st := s.db.Stats()
		m.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func runtimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / bytesPerMB,
		MemoryTotalMB: float64(ms.TotalAlloc) / bytesPerMB,
		NumGC:         ms.NumGC,
	}
}

func (s *Server) beaconMetrics() BeaconMetrics {
	st := s.machine.Status()
	snap := s.state.Snapshot()
	return BeaconMetrics{
		Phase:         st.Phase.String(),
		Advertising:   st.Advertising,
		Connected:     st.Connected,
		AdvCount:      st.AdvCount,
		UptimeTicks:   st.Uptime,
		ActiveSlot:    snap.ActiveSlot,
		LockState:     snap.LockState,
		AdvIntervalMS: snap.AdvIntervalMS,
	}
}
