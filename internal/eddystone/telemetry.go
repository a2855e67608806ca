package eddystone

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// TemperatureUnsupported is the TLM value for "no temperature sensor".
const TemperatureUnsupported int16 = math.MinInt16

// Simulated sensor bounds.
const (
	simBatteryMaxMV = 4120
	simBatteryMinMV = 3700
	simTempMin      = -10
	simTempMax      = 60
)

// Telemetry holds the values carried by a plain TLM frame.
type Telemetry struct {
	// BatteryMV is the battery voltage in millivolts, 0 when unknown.
	BatteryMV uint16

	// Temperature is signed 8.8 fixed point degrees Celsius.
	Temperature int16

	// AdvCount counts advertising starts since power on.
	AdvCount uint32

	// Uptime counts 0.1 s ticks since power on.
	Uptime uint32
}

// Celsius converts the fixed point temperature.
func (t Telemetry) Celsius() float64 {
	return float64(t.Temperature) / 256
}

// TelemetrySource supplies live readings each time a TLM frame is built.
type TelemetrySource interface {
	Telemetry() Telemetry
}

// TelemetryFunc adapts a function to TelemetrySource.
type TelemetryFunc func() Telemetry

// Telemetry implements TelemetrySource.
func (f TelemetryFunc) Telemetry() Telemetry { return f() }

// Sensor reads battery voltage and temperature.
// Implementations report unsupported readings with 0 mV and TemperatureUnsupported.
type Sensor interface {
	BatteryVoltage() uint16
	Temperature() int16
}

// SimulatedSensor produces sawtooth readings for hardware without sensors.
//
// Each battery read steps down by 1 mV and wraps from 3700 back to 4120.
// Each temperature read steps up by one degree and wraps from 60 back to -10,
// reported as (degrees << 8) + 1.
type SimulatedSensor struct {
	mu    sync.Mutex
	vbatt uint16
	temp  int8
}

// NewSimulatedSensor returns a sensor in its power-on state.
func NewSimulatedSensor() *SimulatedSensor {
	return &SimulatedSensor{}
}

// BatteryVoltage implements Sensor.
func (s *SimulatedSensor) BatteryVoltage() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vbatt--
	if s.vbatt < simBatteryMinMV || s.vbatt > simBatteryMaxMV {
		s.vbatt = simBatteryMaxMV
	}
	return s.vbatt
}

// Temperature implements Sensor.
func (s *SimulatedSensor) Temperature() int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp++
	if s.temp < simTempMin || s.temp > simTempMax {
		s.temp = simTempMin
	}
	return int16(s.temp)<<8 + 1
}

// SysfsSensor reads the Linux power supply and thermal zone attributes.
type SysfsSensor struct {
	// BatteryPath points at a voltage_now attribute (microvolts).
	BatteryPath string

	// ThermalPath points at a thermal zone temp attribute (millidegrees).
	ThermalPath string

	mu      sync.Mutex
	lastErr error
}

// BatteryVoltage implements Sensor.
func (s *SysfsSensor) BatteryVoltage() uint16 {
	microvolts, err := readSysfsInt(s.BatteryPath)
	if err != nil {
		s.setErr(err)
		return 0
	}
	mv := microvolts / 1000
	if mv < 0 || mv > math.MaxUint16 {
		s.setErr(fmt.Errorf("battery voltage %d mV out of range", mv))
		return 0
	}
	return uint16(mv)
}

// Temperature implements Sensor.
func (s *SysfsSensor) Temperature() int16 {
	millideg, err := readSysfsInt(s.ThermalPath)
	if err != nil {
		s.setErr(err)
		return TemperatureUnsupported
	}
	fixed := millideg * 256 / 1000
	if fixed <= math.MinInt16 || fixed > math.MaxInt16 {
		s.setErr(fmt.Errorf("temperature %d m°C out of range", millideg))
		return TemperatureUnsupported
	}
	return int16(fixed)
}

// Err returns and clears the most recent read failure.
func (s *SysfsSensor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

func (s *SysfsSensor) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func readSysfsInt(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}
