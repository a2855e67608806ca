package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

const (
	defaultAdapter     = "hci0"
	defaultCallTimeout = 5 * time.Second
	objectPathPrefix   = "/org/graylogic/beacon/advertisement"
)

// ErrClosed is returned by operations on a closed radio.
var ErrClosed = errors.New("bluez: radio closed")

// Logger defines the logging interface used by the radio.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config selects the adapter and bounds D-Bus calls.
type Config struct {
	// Adapter is the controller name, "hci0" when empty.
	Adapter string

	// LocalName is carried by connectable advertisements.
	LocalName string

	// CallTimeout bounds each D-Bus method call.
	CallTimeout time.Duration
}

// Radio advertises through BlueZ. It implements beacon.Radio.
//
// Thread Safety: All methods are safe for concurrent use.
type Radio struct {
	conn    *dbus.Conn
	adapter dbus.BusObject
	cfg     Config
	logger  Logger

	mu      sync.Mutex
	seq     uint64
	current dbus.ObjectPath
	closed  bool
}

// advertisement is the exported LEAdvertisement1 object.
type advertisement struct {
	path   dbus.ObjectPath
	logger Logger
}

// Release is called by BlueZ when it drops the advertisement.
func (a *advertisement) Release() *dbus.Error {
	a.logger.Debug("advertisement released by bluez", "path", a.path)
	return nil
}

// Open connects to the system bus and returns a radio for cfg.Adapter.
func Open(cfg Config) (*Radio, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return New(conn, cfg), nil
}

// New returns a radio using an existing bus connection.
func New(conn *dbus.Conn, cfg Config) *Radio {
	if cfg.Adapter == "" {
		cfg.Adapter = defaultAdapter
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Radio{
		conn:    conn,
		adapter: conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+cfg.Adapter)),
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Radio) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Start exports and registers an advertisement for desc, replacing the
// one currently registered.
func (r *Radio) Start(desc eddystone.Descriptor, connectable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.unregisterLocked(); err != nil {
		return err
	}

	r.seq++
	path := dbus.ObjectPath(fmt.Sprintf("%s%d", objectPathPrefix, r.seq))

	adv := &advertisement{path: path, logger: r.logger}
	if err := r.conn.Export(adv, path, advertisementInterface); err != nil {
		return fmt.Errorf("bluez: export advertisement: %w", err)
	}
	if _, err := prop.Export(r.conn, path, advertisementProperties(desc, connectable, r.cfg.LocalName)); err != nil {
		r.unexport(path)
		return fmt.Errorf("bluez: export properties: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()

	err := r.adapter.CallWithContext(ctx, registerAdvertisement, 0, path, map[string]dbus.Variant{}).Err
	if err != nil {
		r.unexport(path)
		if isDBusError(err, errAlreadyExists) {
			return fmt.Errorf("bluez: advertisement %s already registered", path)
		}
		return fmt.Errorf("bluez: register advertisement: %w", err)
	}

	r.current = path
	r.logger.Debug("advertisement registered", "path", path, "frame", desc.FrameType().String(), "connectable", connectable)
	return nil
}

// Stop unregisters the current advertisement. Stopping an idle radio is
// not an error.
func (r *Radio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked()
}

// Close stops advertising and closes the bus connection.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.unregisterLocked(); err != nil {
		r.logger.Warn("unregister on close failed", "error", err)
	}
	return r.conn.Close()
}

func (r *Radio) unregisterLocked() error {
	if r.current == "" {
		return nil
	}
	path := r.current

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()

	err := r.adapter.CallWithContext(ctx, unregisterAdvertisement, 0, path).Err
	if err != nil && !isDBusError(err, errDoesNotExist) {
		return fmt.Errorf("bluez: unregister advertisement: %w", err)
	}

	r.unexport(path)
	r.current = ""
	return nil
}

func (r *Radio) unexport(path dbus.ObjectPath) {
	// Exporting nil removes the handler.
	_ = r.conn.Export(nil, path, advertisementInterface)
	_ = r.conn.Export(nil, path, propertiesInterface)
}

// WatchConnections calls fn whenever the beacon gains its first connected
// device or loses its last one. It returns once the match rule is installed
// and keeps watching until ctx is cancelled.
func (r *Radio) WatchConnections(ctx context.Context, fn func(connected bool)) error {
	if err := r.conn.AddMatchSignal(matchDevicePropertiesChanged...); err != nil {
		return fmt.Errorf("bluez: add match PropertiesChanged: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	r.conn.Signal(sigCh)

	r.mu.Lock()
	logger := r.logger
	r.mu.Unlock()

	go func() {
		defer func() {
			r.conn.RemoveSignal(sigCh)
			_ = r.conn.RemoveMatchSignal(matchDevicePropertiesChanged...)
		}()

		devices := make(connections)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				path, connected, ok := parseConnected(sig)
				if !ok {
					continue
				}
				logger.Debug("device connection changed", "device", path, "connected", connected)
				if changed, now := devices.update(path, connected); changed {
					fn(now)
				}
			}
		}
	}()
	return nil
}

func isDBusError(err error, name string) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == name
	}
	var dbusErrPtr *dbus.Error
	return errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == name
}
