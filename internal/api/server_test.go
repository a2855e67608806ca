package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-beacon/internal/audit"
	"github.com/nerrad567/gray-logic-beacon/internal/auth"
	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
	"github.com/nerrad567/gray-logic-beacon/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeMachine reports a fixed status with the live beacon state.
type fakeMachine struct {
	state *beacon.State
}

func (m *fakeMachine) Status() beacon.Status {
	return beacon.Status{
		Phase:       beacon.PhaseNormalAdvertising,
		Running:     true,
		Advertising: true,
		AdvCount:    42,
		Uptime:      1234,
		State:       m.state.Snapshot(),
	}
}

type testEnv struct {
	srv    *Server
	router http.Handler
	state  *beacon.State
	events *beacon.Events
	audit  *audit.SQLiteRepository
}

// testServer creates a Server over an in-memory slot store, an unlocked
// three-slot beacon and a real SQLite audit trail.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	store, err := slot.NewStore(slot.NewMemoryBackend(), 3, 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	state, err := beacon.NewState(beacon.Settings{
		Slots:         3,
		AdvIntervalMS: 1000,
		RadioTxPower:  0,
		AdvTxPower:    -20,
		TxPowerLevels: []int8{-20, -8, 0, 4},
		LockState:     beacon.Unlocked,
	})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	repo := setupAuditRepo(t)
	events := &beacon.Events{}
	cfg := beacon.NewConfigurator(store, state, nil, events)
	cfg.SetAuditor(repo)

	log := logging.Discard()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testSecret,
				AccessTokenTTL: 15,
			},
		},
		BeaconID:     "hall-01",
		Logger:       log,
		Machine:      &fakeMachine{state: state},
		State:        state,
		Configurator: cfg,
		Events:       events,
		Audit:        repo,
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		state:  state,
		events: events,
		audit:  repo,
	}
}

// setupAuditRepo opens a migrated SQLite database in a temp dir.
func setupAuditRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(auth.Principal{ID: "op-" + string(role), Role: role}, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

// do sends a request through the router, authenticated as role unless
// role is empty.
func (e *testEnv) do(t *testing.T, method, path string, role auth.Role, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	env := testServer(t)
	base := Deps{
		Logger:       logging.Discard(),
		Machine:      env.srv.machine,
		State:        env.state,
		Configurator: env.srv.configurator,
		Security:     config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no machine", func(d *Deps) { d.Machine = nil }},
		{"no state", func(d *Deps) { d.State = nil }},
		{"no configurator", func(d *Deps) { d.Configurator = nil }},
		{"no secret", func(d *Deps) { d.Security.JWT.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			if _, err := New(d); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() with all deps error = %v", err)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuth(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		role   auth.Role
		body   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/slots", "", "", "", http.StatusUnauthorized},
		{"not bearer", http.MethodGet, "/api/v1/slots", "Basic abc", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/slots", "Bearer not-a-jwt", "", "", http.StatusUnauthorized},
		{"user reads", http.MethodGet, "/api/v1/slots", "", auth.RoleUser, "", http.StatusOK},
		{"user writes", http.MethodPut, "/api/v1/beacon/adv-interval", "", auth.RoleUser, `{"interval_ms":500}`, http.StatusForbidden},
		{"user audit", http.MethodGet, "/api/v1/audit", "", auth.RoleUser, "", http.StatusForbidden},
		{"admin writes", http.MethodPut, "/api/v1/beacon/adv-interval", "", auth.RoleAdmin, `{"interval_ms":500}`, http.StatusOK},
		{"admin factory reset", http.MethodPost, "/api/v1/beacon/factory-reset", "", auth.RoleAdmin, `{"confirm":true}`, http.StatusForbidden},
		{"owner factory reset", http.MethodPost, "/api/v1/beacon/factory-reset", "", auth.RoleOwner, `{"confirm":true}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			switch {
			case tt.header != "":
				req.Header.Set("Authorization", tt.header)
			case tt.role != "":
				req.Header.Set("Authorization", "Bearer "+token(t, tt.role))
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	env := testServer(t)

	// Signed with a different secret: same rejection path as expiry.
	tok, err := auth.GenerateAccessToken(auth.Principal{ID: "op", Role: auth.RoleOwner}, "another-secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_BeaconScope(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name    string
		beacons []string
		want    int
	}{
		{"unscoped", nil, http.StatusOK},
		{"scoped to this beacon", []string{"porch-02", "hall-01"}, http.StatusOK},
		{"scoped elsewhere", []string{"porch-02"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := auth.GenerateAccessToken(auth.Principal{ID: "op", Role: auth.RoleUser}, testSecret, 15, tt.beacons...)
			if err != nil {
				t.Fatalf("GenerateAccessToken: %v", err)
			}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Beacon Endpoint Tests ─────────────────────────────────────────

func TestBeaconStatus(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/beacon", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decode[map[string]any](t, w)
	if resp["phase"] != "normal_advertising" {
		t.Errorf("phase = %v", resp["phase"])
	}
	if resp["lock"] != "unlocked" {
		t.Errorf("lock = %v", resp["lock"])
	}
	if resp["slots"] != float64(3) {
		t.Errorf("slots = %v", resp["slots"])
	}
	if resp["adv_count"] != float64(42) {
		t.Errorf("adv_count = %v", resp["adv_count"])
	}
	if resp["active_slot_advertising"] != false {
		t.Errorf("active_slot_advertising = %v, want false for an empty slot", resp["active_slot_advertising"])
	}
}

func TestCapabilities(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/beacon/capabilities", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decode[capabilitiesResponse](t, w)
	if resp.Raw != "000300020007ecf80004" {
		t.Errorf("raw = %q", resp.Raw)
	}
	if resp.MaxSlots != 3 || resp.FrameTypes != 0x0007 {
		t.Errorf("decoded = %+v", resp)
	}
	if len(resp.TxPowerLevels) != 4 || resp.TxPowerLevels[0] != -20 {
		t.Errorf("tx_power_levels = %v", resp.TxPowerLevels)
	}
}

func TestCharacteristicWrites(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		want  int
		check func(t *testing.T, s beacon.Snapshot)
	}{
		{
			name: "active slot typed",
			path: "/api/v1/beacon/active-slot", body: `{"slot":2}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.ActiveSlot != 2 {
					t.Errorf("active_slot = %d, want 2", s.ActiveSlot)
				}
			},
		},
		{
			name: "active slot hex",
			path: "/api/v1/beacon/active-slot", body: `{"value":"01"}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.ActiveSlot != 1 {
					t.Errorf("active_slot = %d, want 1", s.ActiveSlot)
				}
			},
		},
		{name: "active slot out of range", path: "/api/v1/beacon/active-slot", body: `{"slot":3}`, want: http.StatusBadRequest},
		{name: "active slot missing", path: "/api/v1/beacon/active-slot", body: `{}`, want: http.StatusBadRequest},
		{name: "active slot bad hex", path: "/api/v1/beacon/active-slot", body: `{"value":"zz"}`, want: http.StatusBadRequest},
		{name: "active slot wrong length", path: "/api/v1/beacon/active-slot", body: `{"value":"0001"}`, want: http.StatusBadRequest},
		{name: "invalid json", path: "/api/v1/beacon/active-slot", body: `{`, want: http.StatusBadRequest},
		{
			name: "interval clamps",
			path: "/api/v1/beacon/adv-interval", body: `{"interval_ms":50}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.AdvIntervalMS != beacon.MinAdvIntervalMS {
					t.Errorf("adv_interval_ms = %d, want %d", s.AdvIntervalMS, beacon.MinAdvIntervalMS)
				}
			},
		},
		{
			name: "radio tx power snaps",
			path: "/api/v1/beacon/radio-tx-power", body: `{"dbm":-10,"slot":1}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.RadioTxPower[1] != -8 {
					t.Errorf("radio_tx_power[1] = %d, want -8", s.RadioTxPower[1])
				}
			},
		},
		{
			name: "adv tx power",
			path: "/api/v1/beacon/adv-tx-power", body: `{"dbm":-41}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.AdvTxPower != -41 {
					t.Errorf("adv_tx_power = %d, want -41", s.AdvTxPower)
				}
			},
		},
		{
			name: "remain connectable",
			path: "/api/v1/beacon/remain-connectable", body: `{"enabled":true}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if !s.RemainConnectable {
					t.Error("remain_connectable = false, want true")
				}
			},
		},
		{
			name: "unlocked no relock",
			path: "/api/v1/beacon/lock", body: `{"state":"unlocked_no_relock"}`, want: http.StatusOK,
			check: func(t *testing.T, s beacon.Snapshot) {
				if s.LockState != beacon.UnlockedNoRelock {
					t.Errorf("lock_state = %v", s.LockState)
				}
			},
		},
		{name: "lock bad state", path: "/api/v1/beacon/lock", body: `{"state":"open"}`, want: http.StatusBadRequest},
		{name: "new key needs locked", path: "/api/v1/beacon/lock", body: `{"state":"unlocked_no_relock","new_key":"00"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			w := env.do(t, http.MethodPut, tt.path, auth.RoleAdmin, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decode[beacon.Snapshot](t, w))
			}
		})
	}
}

func TestLockAndUnlock(t *testing.T) {
	env := testServer(t)
	key := strings.Repeat("a5", slot.LockKeyLength)

	w := env.do(t, http.MethodPut, "/api/v1/beacon/lock", auth.RoleAdmin, `{"state":"locked","new_key":"`+key+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("lock status = %d (body %s)", w.Code, w.Body.String())
	}

	// Locked: writes are refused with 423.
	w = env.do(t, http.MethodPut, "/api/v1/beacon/adv-interval", auth.RoleAdmin, `{"interval_ms":500}`)
	if w.Code != http.StatusLocked {
		t.Fatalf("locked write status = %d, want 423", w.Code)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeLocked {
		t.Errorf("error code = %q", e.Code)
	}

	// Remain connectable is accepted while locked.
	w = env.do(t, http.MethodPut, "/api/v1/beacon/remain-connectable", auth.RoleAdmin, `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Errorf("remain connectable while locked = %d, want 200", w.Code)
	}

	// The factory key no longer matches.
	w = env.do(t, http.MethodPost, "/api/v1/beacon/unlock", auth.RoleAdmin, `{"key":"`+strings.Repeat("ff", 16)+`"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/beacon/unlock", auth.RoleAdmin, `{"key":"abc"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("odd hex key status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/beacon/unlock", auth.RoleAdmin, `{"key":"`+key+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unlock status = %d (body %s)", w.Code, w.Body.String())
	}
	if s := decode[beacon.Snapshot](t, w); s.LockState != beacon.Unlocked {
		t.Errorf("lock_state after unlock = %v", s.LockState)
	}

	w = env.do(t, http.MethodPut, "/api/v1/beacon/adv-interval", auth.RoleAdmin, `{"interval_ms":500}`)
	if w.Code != http.StatusOK {
		t.Errorf("write after unlock status = %d, want 200", w.Code)
	}
}

func TestFactoryReset(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPut, "/api/v1/slots/0", auth.RoleAdmin, `{"frame_type":"tlm"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put slot status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/beacon/factory-reset", auth.RoleOwner, `{"value":"0a"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong magic status = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/beacon/factory-reset", auth.RoleOwner, `{"value":"0b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("factory reset status = %d (body %s)", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/slots/0", auth.RoleUser, "")
	if v := decode[slotView](t, w); !v.Empty {
		t.Errorf("slot 0 after reset = %+v, want empty", v)
	}
}

// ─── Slot Endpoint Tests ───────────────────────────────────────────

func TestSlots_ListEmpty(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/slots", auth.RoleUser, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Slots []slotView `json:"slots"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 3 || len(resp.Slots) != 3 {
		t.Fatalf("count = %d, len = %d", resp.Count, len(resp.Slots))
	}
	for i, v := range resp.Slots {
		if v.Index != i || !v.Empty || v.Advertising {
			t.Errorf("slot %d = %+v", i, v)
		}
	}
	if !resp.Slots[0].Active {
		t.Error("slot 0 should be active")
	}
}

func TestSlots_PutURL(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPut, "/api/v1/slots/1", auth.RoleAdmin, `{"frame_type":"url","url":"https://example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}

	v := decode[slotView](t, w)
	if v.Empty || !v.Advertising {
		t.Errorf("slot = %+v, want advertising", v)
	}
	if v.FrameType != "url" || v.URL != "https://example.com" {
		t.Errorf("frame = %s %q", v.FrameType, v.URL)
	}
	if v.ServiceData != "10ec036578616d706c6507" {
		t.Errorf("service_data = %q", v.ServiceData)
	}

	// Same bytes through the raw value form.
	w = env.do(t, http.MethodPut, "/api/v1/slots/2", auth.RoleAdmin, `{"value":"10036578616d706c6507"}`)
	if got := decode[slotView](t, w); got.ServiceData != v.ServiceData {
		t.Errorf("hex write service_data = %q, want %q", got.ServiceData, v.ServiceData)
	}
}

func TestSlots_PutUID(t *testing.T) {
	env := testServer(t)

	body := `{"frame_type":"uid","namespace":"00112233445566778899","instance":"aabbccddeeff"}`
	w := env.do(t, http.MethodPut, "/api/v1/slots/0", auth.RoleAdmin, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}

	v := decode[slotView](t, w)
	if v.FrameType != "uid" || v.Namespace != "00112233445566778899" || v.Instance != "aabbccddeeff" {
		t.Errorf("slot = %+v", v)
	}
}

func TestDescribeServiceData(t *testing.T) {
	celsius := 21.5
	tests := []struct {
		name string
		data string
		want slotView
	}{
		{
			name: "url",
			data: "10ec036578616d706c6507",
			want: slotView{FrameType: "url", URL: "https://example.com"},
		},
		{
			name: "uid",
			data: "00ec00112233445566778899aabbccddeeff0000",
			want: slotView{FrameType: "uid", Namespace: "00112233445566778899", Instance: "aabbccddeeff"},
		},
		{
			name: "tlm",
			data: "20000fa01580000000070000002a",
			want: slotView{FrameType: "tlm", Telemetry: &slotTelemetry{BatteryMV: 4000, Celsius: &celsius, AdvCount: 7, UptimeTicks: 42}},
		},
		{
			name: "tlm without temperature",
			data: "20000fa080000000000100000002",
			want: slotView{FrameType: "tlm", Telemetry: &slotTelemetry{BatteryMV: 4000, AdvCount: 1, UptimeTicks: 2}},
		},
		{
			name: "truncated uid",
			data: "00ec0011",
			want: slotView{FrameType: "uid"},
		},
		{
			name: "eid",
			data: "30ec0102030405060708",
			want: slotView{FrameType: "eid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := hex.DecodeString(tt.data)
			if err != nil {
				t.Fatalf("bad test data: %v", err)
			}

			var v slotView
			describeServiceData(&v, data)

			tt.want.ServiceData = tt.data
			if v.FrameType != tt.want.FrameType || v.ServiceData != tt.want.ServiceData ||
				v.URL != tt.want.URL || v.Namespace != tt.want.Namespace || v.Instance != tt.want.Instance {
				t.Errorf("view = %+v, want %+v", v, tt.want)
			}

			switch {
			case tt.want.Telemetry == nil:
				if v.Telemetry != nil {
					t.Errorf("telemetry = %+v, want none", *v.Telemetry)
				}
			case v.Telemetry == nil:
				t.Fatal("telemetry missing")
			default:
				got, want := *v.Telemetry, *tt.want.Telemetry
				if got.BatteryMV != want.BatteryMV || got.AdvCount != want.AdvCount || got.UptimeTicks != want.UptimeTicks {
					t.Errorf("telemetry = %+v, want %+v", got, want)
				}
				if (got.Celsius == nil) != (want.Celsius == nil) || (got.Celsius != nil && *got.Celsius != *want.Celsius) {
					t.Errorf("temperature = %v, want %v", got.Celsius, want.Celsius)
				}
			}
		})
	}
}

func TestSlots_PutRejected(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"index out of range", "/api/v1/slots/3", `{"frame_type":"tlm"}`, http.StatusNotFound},
		{"index not a number", "/api/v1/slots/x", `{"frame_type":"tlm"}`, http.StatusNotFound},
		{"unknown frame", "/api/v1/slots/0", `{"frame_type":"ibeacon"}`, http.StatusBadRequest},
		{"eid", "/api/v1/slots/0", `{"frame_type":"eid"}`, http.StatusBadRequest},
		{"bad namespace", "/api/v1/slots/0", `{"frame_type":"uid","namespace":"00","instance":"aabbccddeeff"}`, http.StatusBadRequest},
		{"missing frame", "/api/v1/slots/0", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			w := env.do(t, http.MethodPut, tt.path, auth.RoleAdmin, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSlots_MalformedWriteKeepsSlot(t *testing.T) {
	env := testServer(t)

	env.do(t, http.MethodPut, "/api/v1/slots/0", auth.RoleAdmin, `{"frame_type":"tlm"}`)

	// A UID write one byte short is dropped by the beacon.
	w := env.do(t, http.MethodPut, "/api/v1/slots/0", auth.RoleAdmin, `{"value":"00`+strings.Repeat("11", 15)+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if v := decode[slotView](t, w); v.FrameType != "tlm" {
		t.Errorf("frame_type = %q, want tlm unchanged", v.FrameType)
	}
}

func TestSlots_Delete(t *testing.T) {
	env := testServer(t)

	env.do(t, http.MethodPut, "/api/v1/slots/1", auth.RoleAdmin, `{"frame_type":"tlm"}`)

	w := env.do(t, http.MethodDelete, "/api/v1/slots/1", auth.RoleAdmin, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/slots/1", auth.RoleUser, "")
	if v := decode[slotView](t, w); !v.Empty || v.Advertising {
		t.Errorf("slot after delete = %+v", v)
	}
}

// ─── Audit Endpoint Tests ──────────────────────────────────────────

func TestAudit_RecordsHTTPWrites(t *testing.T) {
	env := testServer(t)

	env.do(t, http.MethodPut, "/api/v1/slots/1", auth.RoleAdmin, `{"frame_type":"tlm"}`)
	env.do(t, http.MethodPut, "/api/v1/beacon/adv-interval", auth.RoleAdmin, `{"interval_ms":1000}`)

	w := env.do(t, http.MethodGet, "/api/v1/audit", auth.RoleAdmin, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[audit.ListResult](t, w)
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	for _, l := range res.Logs {
		if l.Source != "http" {
			t.Errorf("source = %q, want http", l.Source)
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit?slot=1", auth.RoleAdmin, "")
	res = decode[audit.ListResult](t, w)
	if res.Total != 1 || res.Logs[0].Action != beacon.CharSlotData {
		t.Errorf("slot filter = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit?since=2000-01-01T00:00:00Z", auth.RoleAdmin, "")
	if res = decode[audit.ListResult](t, w); res.Total != 2 {
		t.Errorf("since filter total = %d, want 2", res.Total)
	}

	for _, q := range []string{"slot=one", "since=yesterday"} {
		w = env.do(t, http.MethodGet, "/api/v1/audit?"+q, auth.RoleAdmin, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestAudit_NotConfigured(t *testing.T) {
	env := testServer(t)
	env.srv.auditRepo = nil

	w := env.do(t, http.MethodGet, "/api/v1/audit", auth.RoleOwner, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

type fakeBridge struct{}

func (fakeBridge) Published() uint64 { return 7 }
func (fakeBridge) Dropped() uint64   { return 1 }

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.srv.bridge = fakeBridge{}
	env.srv.mqttStatus = func() bool { return true }

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	m := decode[SystemMetrics](t, w)
	if m.Beacon.Phase != "normal_advertising" || m.Beacon.AdvCount != 42 {
		t.Errorf("beacon = %+v", m.Beacon)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v", m.MQTT)
	}
	if m.Bridge == nil || m.Bridge.Published != 7 || m.Bridge.Dropped != 1 {
		t.Errorf("bridge = %+v", m.Bridge)
	}
	if m.Database != nil {
		t.Errorf("database = %+v, want omitted", m.Database)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines = 0")
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := newWSClient(hub, nil, auth.Principal{ID: "test"}, string(beacon.EventStateChanged))
	hub.Register(client)

	hub.Broadcast(string(beacon.EventStateChanged), map[string]any{"phase": "connected"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != string(beacon.EventStateChanged) {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, beacon.EventStateChanged)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := newWSClient(hub, nil, auth.Principal{ID: "test"}, string(beacon.EventConnection))
	hub.Register(client)

	hub.Broadcast(string(beacon.EventAdvertisingStarted), map[string]any{"slot": 0})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_WildcardSubscription(t *testing.T) {
	hub := newTestHub(t)

	client := newWSClient(hub, nil, auth.Principal{ID: "test"}, WSChannelAll)
	hub.Register(client)

	hub.Broadcast(string(beacon.EventAdvertisingStopped), nil)

	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Error("wildcard client missed a broadcast")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newWSClient(hub, nil, auth.Principal{ID: "test"})
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// A second unregister must not double-close the send channel.
	hub.Unregister(client)
}

func TestHub_ObservesConfigEvents(t *testing.T) {
	env := testServer(t)

	client := newWSClient(env.srv.hub, nil, auth.Principal{ID: "test"}, string(beacon.EventConfigChanged))
	env.srv.hub.Register(client)

	env.do(t, http.MethodPut, "/api/v1/beacon/active-slot", auth.RoleAdmin, `{"slot":1}`)

	select {
	case raw := <-client.send:
		var msg struct {
			EventType string         `json:"event_type"`
			Payload   wsEventPayload `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.EventType != string(beacon.EventConfigChanged) {
			t.Errorf("event_type = %q", msg.EventType)
		}
		if msg.Payload.Characteristic != beacon.CharActiveSlot {
			t.Errorf("characteristic = %q", msg.Payload.Characteristic)
		}
		if msg.Payload.Slot == nil || *msg.Payload.Slot != 1 {
			t.Errorf("slot = %v", msg.Payload.Slot)
		}
		if msg.Payload.State == nil || msg.Payload.State.ActiveSlot != 1 {
			t.Errorf("state = %+v", msg.Payload.State)
		}
	case <-time.After(time.Second):
		t.Fatal("config event not relayed")
	}
}

func TestHub_BroadcastAfterUnregister(t *testing.T) {
	hub := newTestHub(t)

	client := newWSClient(hub, nil, auth.Principal{ID: "test"}, WSChannelAll)
	hub.Register(client)
	hub.Unregister(client)

	// The queue is closed; enqueue must refuse instead of panicking.
	if client.enqueue([]byte("{}")) {
		t.Error("enqueue() succeeded on a closed client")
	}
	hub.Broadcast(string(beacon.EventStateChanged), nil)
}

func TestWSClient_UpdateChannels(t *testing.T) {
	hub := newTestHub(t)
	client := newWSClient(hub, nil, auth.Principal{ID: "test"})

	tests := []struct {
		name     string
		msg      string
		wantType string
		wantSub  bool
	}{
		{"subscribe", `{"type":"subscribe","id":"1","payload":{"channels":["state.changed"]}}`, WSTypeResponse, true},
		{"unknown channel", `{"type":"subscribe","id":"2","payload":{"channels":["knx.telegram"]}}`, WSTypeError, true},
		{"missing payload", `{"type":"subscribe","id":"3"}`, WSTypeError, true},
		{"unsubscribe", `{"type":"unsubscribe","id":"4","payload":{"channels":["state.changed"]}}`, WSTypeResponse, false},
		{"unknown type", `{"type":"shout","id":"5"}`, WSTypeError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.handle([]byte(tt.msg))

			var reply WSMessage
			if err := json.Unmarshal(<-client.send, &reply); err != nil {
				t.Fatalf("unmarshal reply: %v", err)
			}
			if reply.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q (%+v)", reply.Type, tt.wantType, reply.Payload)
			}
			if got := client.subscribed(string(beacon.EventStateChanged)); got != tt.wantSub {
				t.Errorf("subscribed = %v, want %v", got, tt.wantSub)
			}
		})
	}
}

func TestNewEventPayload_Connection(t *testing.T) {
	p := newEventPayload(beacon.Event{
		Kind:      beacon.EventConnection,
		Connected: true,
		Phase:     beacon.PhaseConnected,
	})
	if p.Connected == nil || !*p.Connected {
		t.Errorf("connected = %v", p.Connected)
	}
	if p.Phase != "connected" {
		t.Errorf("phase = %q", p.Phase)
	}
	if p.Slot != nil || p.FrameType != "" {
		t.Errorf("advertising fields set on a connection event: %+v", p)
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

func TestWebSocket_RequiresToken(t *testing.T) {
	env := testServer(t)

	for _, path := range []string{"/api/v1/ws", "/api/v1/ws?token=garbage"} {
		w := env.do(t, http.MethodGet, path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, w.Code)
		}
	}
}

func TestWebSocket_RelaysBeaconEvents(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token(t, auth.RoleUser)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{string(beacon.EventConfigChanged)}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/beacon/adv-interval", bytes.NewBufferString(`{"interval_ms":2000}`))
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleAdmin))
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", httpResp.StatusCode)
	}

	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != string(beacon.EventConfigChanged) {
		t.Errorf("event = %+v", ev)
	}

	// Ping round trip.
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t)
	port := 19081
	env.srv.cfg.Port = port

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := env.srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port))
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
