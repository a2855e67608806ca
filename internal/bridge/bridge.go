package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/mqtt"
)

// defaultQueueSize bounds the events waiting to be published.
const defaultQueueSize = 256

// Publisher is the subset of the MQTT client used to publish.
// It is satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MetricsWriter records advertising and telemetry points.
// It is satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteAdvertisement(a influxdb.Advertisement, at time.Time)
	WriteTelemetry(r influxdb.TelemetryReading, at time.Time)
}

// Counter reports the advertising start count.
// It is satisfied by *beacon.Machine.
type Counter interface {
	AdvCount() uint32
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge. Publisher and Metrics are each optional;
// a bridge with neither only counts events.
type Options struct {
	BeaconID  string
	Publisher Publisher
	Metrics   MetricsWriter
	Counter   Counter
	QueueSize int
	QoS       byte
	Logger    Logger
}

// Bridge republishes beacon events to MQTT and InfluxDB.
//
// Thread Safety: Observe may be called from any goroutine. Run must be
// called once.
type Bridge struct {
	id      string
	pub     Publisher
	metrics MetricsWriter
	counter Counter
	qos     byte
	topics  mqtt.Topics

	// Last machine phase and connection seen; owned by Run.
	phase     beacon.Phase
	connected bool

	queue     chan beacon.Event
	dropped   atomic.Uint64
	published atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Register Observe with beacon.Events and start Run.
func New(opts Options) (*Bridge, error) {
	if opts.BeaconID == "" {
		return nil, errors.New("bridge: beacon id is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bridge{
		id:      opts.BeaconID,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		counter: opts.Counter,
		qos:     opts.QoS,
		queue:   make(chan beacon.Event, size),
		logger:  opts.Logger,
	}, nil
}

// Observe queues ev for publication. It never blocks; when the queue is
// full the event is dropped.
func (b *Bridge) Observe(ev beacon.Event) {
	select {
	case b.queue <- ev:
	default:
		n := b.dropped.Add(1)
		b.logWarn("bridge queue full, event dropped", "kind", ev.Kind, "dropped_total", n)
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// already queued.
func (b *Bridge) Run(ctx context.Context) error {
	b.logInfo("bridge started", "beacon_id", b.id)
	for {
		select {
		case ev := <-b.queue:
			b.handle(ev)
		case <-ctx.Done():
			b.drain()
			b.logInfo("bridge stopped", "published", b.published.Load(), "dropped", b.dropped.Load())
			return nil
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case ev := <-b.queue:
			b.handle(ev)
		default:
			return
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Published returns how many events were handled.
func (b *Bridge) Published() uint64 {
	return b.published.Load()
}

func (b *Bridge) handle(ev beacon.Event) {
	defer b.published.Add(1)

	// Configuration events do not carry the machine phase.
	if ev.Kind != beacon.EventConfigChanged {
		b.phase = ev.Phase
	}
	if ev.Kind == beacon.EventConnection {
		b.connected = ev.Connected
	}

	switch ev.Kind {
	case beacon.EventAdvertisingStarted:
		b.handleAdvertising(ev)
	case beacon.EventStateChanged, beacon.EventConnection, beacon.EventConfigChanged:
		b.publishJSON(b.topics.BeaconStatus(b.id), StatusMessage{
			Event:     ev.Kind,
			Phase:     b.phase,
			Connected: b.connected,
			State:     ev.Snapshot,
			Timestamp: ev.Time.UTC(),
		}, true)
	case beacon.EventAdvertisingStopped:
		b.logDebug("advertising stopped", "beacon_id", b.id)
	}
}

func (b *Bridge) handleAdvertising(ev beacon.Event) {
	if ev.Descriptor.Frame == nil {
		return
	}
	frame := newFrameMessage(ev)
	b.publishJSON(b.topics.BeaconFrame(b.id), frame, false)

	var advCount uint32
	if b.counter != nil {
		advCount = b.counter.AdvCount()
	}
	if b.metrics != nil {
		b.metrics.WriteAdvertisement(influxdb.Advertisement{
			BeaconID:     b.id,
			Slot:         ev.Slot,
			FrameType:    frame.FrameType,
			Connectable:  ev.Connectable,
			IntervalMS:   frame.IntervalMS,
			RadioTxPower: frame.RadioTxPower,
			AdvCount:     advCount,
		}, ev.Time)
	}

	tlm, ok := ev.Telemetry()
	if !ok {
		return
	}
	b.publishJSON(b.topics.BeaconTelemetry(b.id), newTelemetryMessage(tlm, ev.Time), false)
	if b.metrics != nil {
		b.metrics.WriteTelemetry(influxdb.TelemetryReading{
			BeaconID:  b.id,
			BatteryMV: tlm.BatteryMV,
			Celsius:   celsius(tlm),
			AdvCount:  tlm.AdvCount,
			Uptime:    time.Duration(tlm.Uptime) * 100 * time.Millisecond,
		}, ev.Time)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	if b.pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.pub.Publish(topic, payload, b.qos, retained); err != nil {
		b.logWarn("failed to publish", "topic", topic, "error", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}
