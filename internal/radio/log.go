// Package radio holds advertising backends that need no hardware.
// The BlueZ backend lives in the bluez subpackage.
package radio

import (
	"encoding/hex"
	"sync"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// Logger defines the logging interface used by the radio backends.
type Logger interface {
	Info(msg string, args ...any)
}

// Log is a dry-run radio that logs every advertisement instead of sending it.
type Log struct {
	logger Logger

	mu     sync.Mutex
	active bool
	starts uint64
}

// NewLog returns a dry-run radio writing to logger.
func NewLog(logger Logger) *Log {
	return &Log{logger: logger}
}

// Start implements beacon.Radio.
func (l *Log) Start(desc eddystone.Descriptor, connectable bool) error {
	l.mu.Lock()
	l.active = true
	l.starts++
	l.mu.Unlock()

	l.logger.Info("advertising",
		"frame", desc.FrameType().String(),
		"service_data", hex.EncodeToString(desc.ServiceData()),
		"connectable", connectable,
		"interval_ms", desc.IntervalMS,
		"radio_tx_power", desc.RadioTxPower,
	)
	return nil
}

// Stop implements beacon.Radio.
func (l *Log) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.active = false
		l.logger.Info("advertising stopped")
	}
	return nil
}

// Active reports whether an advertisement is running.
func (l *Log) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Starts returns how many advertisements were started.
func (l *Log) Starts() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts
}
