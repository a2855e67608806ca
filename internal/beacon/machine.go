package beacon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon/timer"
	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
)

// Default machine timings.
const (
	DefaultPowerOnGrace      = 30 * time.Second
	DefaultConnectableWindow = 30 * time.Second
	DefaultTick              = 100 * time.Millisecond

	// uptimeUnit is the resolution of the TLM uptime field.
	uptimeUnit = 100 * time.Millisecond
)

// Phase is the advertising state of the machine.
type Phase uint8

// Machine phases.
const (
	PhasePowerOnAdvertising Phase = iota
	PhaseNormalAdvertising
	PhaseConnected
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhasePowerOnAdvertising:
		return "power_on_advertising"
	case PhaseNormalAdvertising:
		return "normal_advertising"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Radio starts and stops advertising. Calls are synchronous.
type Radio interface {
	Start(desc eddystone.Descriptor, connectable bool) error
	Stop() error
}

// MachineConfig holds the machine timings. Zero values take the defaults.
type MachineConfig struct {
	PowerOnGrace      time.Duration
	ConnectableWindow time.Duration
	Tick              time.Duration
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.PowerOnGrace <= 0 {
		c.PowerOnGrace = DefaultPowerOnGrace
	}
	if c.ConnectableWindow <= 0 {
		c.ConnectableWindow = DefaultConnectableWindow
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	return c
}

// Machine drives advertising through its three phases.
//
// After Start the machine advertises connectable for the power-on grace
// period. When the grace timer expires it enters the window cycle: the
// advertising-timing timer rotates to the next eligible slot every
// advertising interval, and the connectable-window timer re-reads the
// interval and returns the machine to normal advertising unless a central
// is connected. A free-running tick counts uptime for TLM frames.
//
// Every timer callback compares its handle against the one currently
// registered and ignores stale firings.
type Machine struct {
	mu sync.Mutex

	cfg      MachineConfig
	state    *State
	selector *Selector
	radio    Radio
	timers   timer.Service
	sensor   eddystone.Sensor
	events   *Events
	logger   Logger

	ctx         context.Context
	running     bool
	phase       Phase
	connected   bool
	advertising bool

	slotTimer   timer.Handle
	windowTimer timer.Handle
	tickTimer   timer.Handle

	tickUnits uint32
	advCount  atomic.Uint32
	uptime    atomic.Uint32

	// readings of the last TLM frame built for the radio
	lastBattery atomic.Uint32
	lastTemp    atomic.Int32
}

// NewMachine creates a stopped machine. sensor and events may be nil.
func NewMachine(cfg MachineConfig, store *slot.Store, state *State, radio Radio, timers timer.Service, sensor eddystone.Sensor, events *Events) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		cfg:    cfg,
		state:  state,
		radio:  radio,
		timers: timers,
		sensor: sensor,
		events: events,
		logger: noopLogger{},
		ctx:    context.Background(),
	}
	m.tickUnits = uint32(max(1, cfg.Tick/uptimeUnit))
	m.lastTemp.Store(int32(eddystone.TemperatureUnsupported))
	m.selector = NewSelector(store, state, eddystone.TelemetryFunc(m.sample))
	return m
}

// SetLogger sets the logger for the machine and its selector.
func (m *Machine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
	m.selector.SetLogger(logger)
}

// Start enters PowerOnAdvertising: it starts the uptime tick, advertises
// the next eligible slot as connectable and arms the grace timer.
//
// ctx is used for storage reads made by timer callbacks.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.ctx = ctx
	m.phase = PhasePowerOnAdvertising

	m.tickTimer = m.timers.Start(m.cfg.Tick, true, m.onTick)
	m.advertise(true)
	m.slotTimer = m.timers.Start(m.cfg.PowerOnGrace, false, m.onGrace)

	m.logger.Info("advertising started", "phase", m.phase.String(), "grace", m.cfg.PowerOnGrace)
	m.publishState()
	return nil
}

// Stop clears every timer and stops the radio.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	for _, h := range []*timer.Handle{&m.slotTimer, &m.windowTimer, &m.tickTimer} {
		m.timers.Stop(*h)
		*h = timer.Handle{}
	}

	if err := m.radio.Stop(); err != nil {
		return fmt.Errorf("stopping radio: %w", err)
	}
	m.markStopped()
	m.logger.Info("advertising stopped")
	return nil
}

// SetConnected reports a connection change from the radio.
//
// A connection moves the machine to Connected at once. A disconnection only
// clears the flag; the next connectable-window expiry returns the machine to
// NormalAdvertising. Disconnecting while unlocked with auto-relock enabled
// locks the beacon.
func (m *Machine) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = connected
	if connected {
		m.phase = PhaseConnected
		m.advertising = false
	} else if m.state.Relock() {
		m.logger.Info("beacon relocked on disconnect")
	}

	m.logger.Debug("connection changed", "connected", connected, "phase", m.phase.String())
	m.events.publish(Event{
		Kind:      EventConnection,
		Connected: connected,
		Phase:     m.phase,
		Snapshot:  m.state.Snapshot(),
	})
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Connected reports whether a central is connected.
func (m *Machine) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Advertising reports whether the radio was last started successfully and
// has not been stopped since.
func (m *Machine) Advertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

// AdvCount returns the number of successful advertising starts.
func (m *Machine) AdvCount() uint32 {
	return m.advCount.Load()
}

// Uptime returns the time since Start in 0.1 s units.
func (m *Machine) Uptime() uint32 {
	return m.uptime.Load()
}

// Telemetry returns the sensor readings carried by the last TLM frame the
// machine advertised, with the live counters. It never reads the sensor, so
// callers outside the rotation leave the TLM sequence untouched. Before the
// first TLM frame the readings are unsupported.
func (m *Machine) Telemetry() eddystone.Telemetry {
	return eddystone.Telemetry{
		BatteryMV:   uint16(m.lastBattery.Load()), //nolint:gosec // stored from a uint16
		Temperature: int16(m.lastTemp.Load()),     //nolint:gosec // stored from an int16
		AdvCount:    m.advCount.Load(),
		Uptime:      m.uptime.Load(),
	}
}

// sample reads the sensor for a TLM frame in the rotation. It does not take
// the machine lock; the selector calls it from inside a callback.
func (m *Machine) sample() eddystone.Telemetry {
	t := m.Telemetry()
	if m.sensor == nil {
		return t
	}
	t.BatteryMV = m.sensor.BatteryVoltage()
	t.Temperature = m.sensor.Temperature()
	m.lastBattery.Store(uint32(t.BatteryMV))
	m.lastTemp.Store(int32(t.Temperature))
	return t
}

// Status is a point-in-time view of the machine for reporting.
type Status struct {
	Phase       Phase    `json:"phase"`
	Running     bool     `json:"running"`
	Connected   bool     `json:"connected"`
	Advertising bool     `json:"advertising"`
	AdvCount    uint32   `json:"adv_count"`
	Uptime      uint32   `json:"uptime"`
	State       Snapshot `json:"state"`
}

// Status returns the machine status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Phase:       m.phase,
		Running:     m.running,
		Connected:   m.connected,
		Advertising: m.advertising,
		AdvCount:    m.advCount.Load(),
		Uptime:      m.uptime.Load(),
		State:       m.state.Snapshot(),
	}
}

// onGrace ends PowerOnAdvertising and enters the window cycle.
func (m *Machine) onGrace(h timer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(h, m.slotTimer, "grace") {
		return
	}
	m.slotTimer = timer.Handle{}

	if !m.connected {
		m.stopRadio()
		m.phase = PhaseNormalAdvertising
		m.publishState()
	}

	m.windowTimer = m.timers.Start(m.cfg.ConnectableWindow, true, m.onWindow)
	m.restartAdvTiming()

	if !m.connected {
		m.advertise(false)
	}
}

// onAdvTiming rotates to the next slot. Nothing rotates in the Connected
// phase, even after a disconnect; the next window expiry resumes.
func (m *Machine) onAdvTiming(h timer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(h, m.slotTimer, "advertising timing") {
		return
	}
	if m.connected || m.phase == PhaseConnected {
		return
	}

	m.stopRadio()
	m.advertise(false)
}

// onWindow closes a connectable window.
func (m *Machine) onWindow(h timer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(h, m.windowTimer, "connectable window") {
		return
	}

	if !m.connected {
		m.stopRadio()
		if m.phase != PhaseNormalAdvertising {
			m.phase = PhaseNormalAdvertising
			m.publishState()
		}
	}

	m.restartAdvTiming()

	if !m.connected {
		m.advertise(false)
	}
}

func (m *Machine) onTick(h timer.Handle) {
	m.mu.Lock()
	ok := m.current(h, m.tickTimer, "tick")
	m.mu.Unlock()

	if ok {
		m.uptime.Add(m.tickUnits)
	}
}

// current reports whether h is the registered handle. Caller holds m.mu.
func (m *Machine) current(h, registered timer.Handle, name string) bool {
	if !m.running || h != registered {
		m.logger.Debug("ignoring stale timer", "timer", name, "generation", h.Generation())
		return false
	}
	return true
}

// restartAdvTiming replaces the advertising-timing timer using the interval
// configured right now. Caller holds m.mu.
func (m *Machine) restartAdvTiming() {
	m.timers.Stop(m.slotTimer)
	interval := time.Duration(m.state.AdvIntervalMS()) * time.Millisecond
	m.slotTimer = m.timers.Start(interval, true, m.onAdvTiming)
}

// advertise starts the radio with the next eligible slot. Nothing eligible
// is not an error: the radio is left alone. Caller holds m.mu.
func (m *Machine) advertise(forceConnectable bool) {
	sel, ok, err := m.selector.Next(m.ctx)
	if err != nil {
		m.logger.Error("selecting next slot", "error", err)
		return
	}
	if !ok {
		m.logger.Debug("no eligible slot, skipping radio start")
		return
	}

	connectable := forceConnectable || sel.Descriptor.Connectable
	if err := m.radio.Start(sel.Descriptor, connectable); err != nil {
		m.logger.Error("starting radio", "slot", sel.Slot, "frame", sel.Descriptor.FrameType().String(), "error", err)
		return
	}

	m.advCount.Add(1)
	m.advertising = true
	m.events.publish(Event{
		Kind:        EventAdvertisingStarted,
		Slot:        sel.Slot,
		Descriptor:  sel.Descriptor,
		Connectable: connectable,
		Phase:       m.phase,
	})
}

// stopRadio stops advertising and logs failures. Caller holds m.mu.
func (m *Machine) stopRadio() {
	if err := m.radio.Stop(); err != nil {
		m.logger.Warn("stopping radio", "error", err)
		return
	}
	m.markStopped()
}

func (m *Machine) markStopped() {
	if !m.advertising {
		return
	}
	m.advertising = false
	m.events.publish(Event{Kind: EventAdvertisingStopped, Phase: m.phase})
}

func (m *Machine) publishState() {
	m.events.publish(Event{
		Kind:     EventStateChanged,
		Phase:    m.phase,
		Snapshot: m.state.Snapshot(),
	})
}
