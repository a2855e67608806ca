package beacon

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
)

// Characteristic names used for auditing and remote commands.
const (
	CharActiveSlot        = "active_slot"
	CharAdvInterval       = "adv_interval"
	CharRadioTxPower      = "radio_tx_power"
	CharAdvTxPower        = "adv_tx_power"
	CharLockState         = "lock_state"
	CharUnlock            = "unlock"
	CharRemainConnectable = "remain_connectable"
	CharSlotData          = "slot_data"
	CharFactoryReset      = "factory_reset"
)

// FactoryResetMagic is the only value accepted by the factory reset write.
const FactoryResetMagic = 0x0B

// Broadcast capability values.
const (
	capabilitiesVersion  = 0x00
	capPerSlotTxPower    = 0x02
	supportedFrameTypes  = 0x0007 // UID | URL | TLM
	maxEIDSlots          = 0
	uidSlotWriteLength   = 1 + eddystone.UIDPayloadLength
	urlSlotWriteMin      = 4
	urlSlotWriteMax      = 1 + eddystone.MaxURLPayloadLength
	tlmSlotWriteLength   = 1
	lockWriteLength      = 1
	lockWithKeyLength    = 1 + slot.LockKeyLength
	activeSlotLength     = 1
	advIntervalLength    = 2
	txPowerLength        = 1
	remainConnLength     = 1
	factoryResetLength   = 1
	slotClearWriteLength = 1
)

// Auditor records accepted configuration writes. index is -1 for writes
// that are not bound to a slot.
type Auditor interface {
	RecordWrite(ctx context.Context, source, characteristic string, index int, value []byte) error
}

type sourceKey struct{}

// WithSource tags ctx with the origin of a configuration write, such as
// "http" or "mqtt".
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the write origin stored by WithSource.
func SourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return "local"
}

// ProvisionConfig describes a slot written at first boot.
type ProvisionConfig struct {
	FrameType eddystone.FrameType
	Payload   []byte
}

// Configurator applies configuration characteristic writes to the slot
// store and the beacon state.
//
// Writes use the characteristic value encoding: big-endian integers, one
// byte flags, and the slot data layout of a frame type byte followed by its
// payload. While the beacon is locked every write except a plain lock,
// unlock and remain-connectable is refused with ErrLocked.
//
// The Active* methods address the active slot. The index-taking variants
// exist for remote surfaces where the active slot moves under rotation.
type Configurator struct {
	store   *slot.Store
	state   *State
	tlm     eddystone.TelemetrySource
	events  *Events
	auditor Auditor
	logger  Logger
}

// NewConfigurator creates a configurator. tlm renders TLM slot reads and
// events may be nil.
func NewConfigurator(store *slot.Store, state *State, tlm eddystone.TelemetrySource, events *Events) *Configurator {
	return &Configurator{
		store:  store,
		state:  state,
		tlm:    tlm,
		events: events,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (c *Configurator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetAuditor sets the write auditor.
func (c *Configurator) SetAuditor(a Auditor) {
	c.auditor = a
}

// Capabilities returns the broadcast capabilities value: version, max
// slots, max EID slots, capability bits, supported frame types (u16 BE)
// and the supported radio tx power levels.
func (c *Configurator) Capabilities() []byte {
	levels := c.state.TxPowerLevels()
	b := []byte{capabilitiesVersion, byte(c.state.Slots()), maxEIDSlots, capPerSlotTxPower}
	b = binary.BigEndian.AppendUint16(b, supportedFrameTypes)
	for _, l := range levels {
		b = append(b, byte(l))
	}
	return b
}

// ActiveSlot returns the active slot value.
func (c *Configurator) ActiveSlot() []byte {
	return []byte{byte(c.state.ActiveSlot())}
}

// WriteActiveSlot sets the active slot from a one-byte value.
func (c *Configurator) WriteActiveSlot(ctx context.Context, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	if len(value) != activeSlotLength {
		return fmt.Errorf("%w: active slot is %d bytes", ErrInvalidLength, len(value))
	}
	if int(value[0]) >= c.state.Slots() {
		return fmt.Errorf("%w: slot %d of %d", ErrInvalidValue, value[0], c.state.Slots())
	}

	c.state.SetActiveSlot(int(value[0]))
	c.accepted(ctx, CharActiveSlot, int(value[0]), value)
	return nil
}

// AdvInterval returns the advertising interval value (u16 BE, ms).
func (c *Configurator) AdvInterval() []byte {
	return binary.BigEndian.AppendUint16(nil, c.state.AdvIntervalMS())
}

// WriteAdvInterval sets the global advertising interval, clamped to the
// supported range. The machine picks it up at the next window boundary.
func (c *Configurator) WriteAdvInterval(ctx context.Context, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	if len(value) != advIntervalLength {
		return fmt.Errorf("%w: interval is %d bytes", ErrInvalidLength, len(value))
	}

	stored := c.state.SetAdvIntervalMS(int(binary.BigEndian.Uint16(value)))
	c.accepted(ctx, CharAdvInterval, -1, binary.BigEndian.AppendUint16(nil, stored))
	return nil
}

// RadioTxPower returns the radio tx power of a slot.
func (c *Configurator) RadioTxPower(index int) []byte {
	return []byte{byte(c.state.RadioTxPower(index))}
}

// WriteRadioTxPower snaps the requested power to a supported level and
// stores it for the slot. A valid stored record is rewritten with the new
// power.
func (c *Configurator) WriteRadioTxPower(ctx context.Context, index int, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	if len(value) != txPowerLength {
		return fmt.Errorf("%w: tx power is %d bytes", ErrInvalidLength, len(value))
	}

	index = c.store.Clamp(index)
	lvl := c.state.SetRadioTxPower(index, int(int8(value[0])))
	if err := c.restamp(ctx, index, func(cfg *slot.Config) { cfg.RadioTxPower = lvl }); err != nil {
		return err
	}
	c.accepted(ctx, CharRadioTxPower, index, []byte{byte(lvl)})
	return nil
}

// AdvTxPower returns the advertised tx power value.
func (c *Configurator) AdvTxPower() []byte {
	return []byte{byte(c.state.AdvTxPower())}
}

// WriteAdvTxPower sets the advertised power at 0 m. It is global and is
// stamped into the slot at index when that slot holds a valid record.
func (c *Configurator) WriteAdvTxPower(ctx context.Context, index int, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	if len(value) != txPowerLength {
		return fmt.Errorf("%w: tx power is %d bytes", ErrInvalidLength, len(value))
	}

	index = c.store.Clamp(index)
	dbm := int8(value[0])
	c.state.SetAdvTxPower(dbm)
	if err := c.restamp(ctx, index, func(cfg *slot.Config) { cfg.AdvTxPower = dbm }); err != nil {
		return err
	}
	c.accepted(ctx, CharAdvTxPower, index, value)
	return nil
}

// LockState returns the lock state value.
func (c *Configurator) LockState() []byte {
	return []byte{byte(c.state.LockState())}
}

// WriteLockState changes the lock state.
//
//	[0x00]            lock
//	[0x00] + 16 bytes lock and replace the lock key
//	[0x02]            unlocked with auto-relock disabled
//
// A locked beacon accepts only the plain lock write.
func (c *Configurator) WriteLockState(ctx context.Context, value []byte) error {
	unlocked := c.state.LockState().IsUnlocked()

	switch {
	case len(value) == lockWriteLength && LockState(value[0]) == Locked:
		c.state.SetLockState(Locked)
	case len(value) == lockWithKeyLength && LockState(value[0]) == Locked:
		if !unlocked {
			return ErrLocked
		}
		var key slot.LockKey
		copy(key[:], value[1:])
		if err := c.store.SetLockKey(ctx, key); err != nil {
			return err
		}
		c.state.SetLockState(Locked)
	case len(value) == lockWriteLength && LockState(value[0]) == UnlockedNoRelock:
		if !unlocked {
			return ErrLocked
		}
		c.state.SetLockState(UnlockedNoRelock)
	case len(value) == lockWriteLength:
		return fmt.Errorf("%w: lock state 0x%02x", ErrInvalidValue, value[0])
	default:
		return fmt.Errorf("%w: lock state is %d bytes", ErrInvalidLength, len(value))
	}

	// The new key is never audited.
	c.accepted(ctx, CharLockState, -1, value[:1])
	return nil
}

// Unlock compares key with the stored lock key and unlocks on a match.
// A factory-reset beacon has the all-0xFF key.
func (c *Configurator) Unlock(ctx context.Context, key []byte) error {
	if len(key) != slot.LockKeyLength {
		return fmt.Errorf("%w: key is %d bytes", ErrInvalidLength, len(key))
	}

	stored, err := c.store.LockKey(ctx)
	if errors.Is(err, slot.ErrNotFound) {
		stored = slot.ClearedLockKey
	} else if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare(stored[:], key) != 1 {
		c.logger.Warn("unlock rejected", "source", SourceFromContext(ctx))
		return ErrUnlockFailed
	}

	c.state.SetLockState(Unlocked)
	c.accepted(ctx, CharUnlock, -1, nil)
	return nil
}

// RemainConnectable returns the remain-connectable value.
func (c *Configurator) RemainConnectable() []byte {
	if c.state.RemainConnectable() {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// WriteRemainConnectable sets the remain-connectable flag; any non-zero
// byte means true. It is accepted while locked.
func (c *Configurator) WriteRemainConnectable(ctx context.Context, value []byte) error {
	if len(value) != remainConnLength {
		return fmt.Errorf("%w: remain connectable is %d bytes", ErrInvalidLength, len(value))
	}

	c.state.SetRemainConnectable(value[0] != 0)
	c.accepted(ctx, CharRemainConnectable, -1, value)
	return nil
}

// WriteFactoryReset clears every slot and the lock key. Only the single
// byte FactoryResetMagic is accepted.
func (c *Configurator) WriteFactoryReset(ctx context.Context, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	if len(value) != factoryResetLength || value[0] != FactoryResetMagic {
		return ErrWriteNotPermitted
	}

	if err := c.store.FactoryReset(ctx); err != nil {
		return err
	}
	c.logger.Warn("factory reset", "source", SourceFromContext(ctx))
	c.accepted(ctx, CharFactoryReset, -1, value)
	return nil
}

// ActiveSlotData returns the active slot's service data.
func (c *Configurator) ActiveSlotData(ctx context.Context) ([]byte, error) {
	return c.ReadSlot(ctx, c.state.ActiveSlot())
}

// ReadSlot returns the service data of a slot: the frame type byte and the
// frame body as advertised. TLM slots carry live readings.
func (c *Configurator) ReadSlot(ctx context.Context, index int) ([]byte, error) {
	rec, err := c.store.Get(ctx, index)
	if errors.Is(err, slot.ErrNotFound) || (err == nil && !rec.Valid()) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, err
	}

	frame, err := eddystone.NewFrame(rec.FrameType, rec.AdvTxPower, rec.Payload, c.tlm)
	if err != nil {
		return nil, err
	}
	desc, err := eddystone.Describe(frame, rec.Connectable, rec.AdvInterval, rec.RadioTxPower)
	if err != nil {
		return nil, err
	}
	return desc.ServiceData(), nil
}

// WriteActiveSlotData applies a slot data write to the active slot.
func (c *Configurator) WriteActiveSlotData(ctx context.Context, value []byte) error {
	return c.WriteSlot(ctx, c.state.ActiveSlot(), value)
}

// WriteSlot applies a slot data write.
//
// An empty value or a lone 0x00 clears the slot. UID writes carry the
// frame type and 16 payload bytes, URL writes the frame type, the scheme
// byte and 2 to 17 encoded URL bytes, and TLM writes the frame type alone. EID
// writes are ignored. Malformed writes are dropped without changing the
// slot and return nil.
func (c *Configurator) WriteSlot(ctx context.Context, index int, value []byte) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	index = c.store.Clamp(index)

	if len(value) == 0 || (len(value) == slotClearWriteLength && value[0] == 0x00) {
		if err := c.store.Clear(ctx, index); err != nil {
			return err
		}
		c.accepted(ctx, CharSlotData, index, value)
		return nil
	}

	cfg, ok := c.parseSlotWrite(index, value)
	if !ok {
		c.logger.Debug("dropping malformed slot write", "slot", index, "length", len(value))
		return nil
	}

	if err := c.store.Set(ctx, index, cfg); err != nil {
		return err
	}
	c.accepted(ctx, CharSlotData, index, value)
	return nil
}

// parseSlotWrite validates a non-clearing slot write and stamps it with
// the current state.
func (c *Configurator) parseSlotWrite(index int, value []byte) (slot.Config, bool) {
	cfg := slot.Config{
		FrameType:    eddystone.FrameType(value[0]),
		RadioTxPower: c.state.RadioTxPower(index),
		AdvTxPower:   c.state.AdvTxPower(),
		AdvInterval:  c.state.AdvIntervalMS(),
		Connectable:  c.state.RemainConnectable(),
	}

	switch cfg.FrameType {
	case eddystone.FrameUID:
		if len(value) != uidSlotWriteLength {
			return cfg, false
		}
		cfg.Payload = append([]byte(nil), value[1:]...)
	case eddystone.FrameURL:
		if len(value) < urlSlotWriteMin || len(value) > urlSlotWriteMax {
			return cfg, false
		}
		cfg.Payload = append([]byte(nil), value[1:]...)
	case eddystone.FrameTLM:
		if len(value) != tlmSlotWriteLength {
			return cfg, false
		}
		cfg.TLMVersion = eddystone.TLMVersionPlain
	default:
		return cfg, false
	}
	return cfg, true
}

// ActiveSlotAdvertising reports whether the active slot holds a record the
// selector would advertise.
func (c *Configurator) ActiveSlotAdvertising(ctx context.Context) (bool, error) {
	return c.SlotAdvertising(ctx, c.state.ActiveSlot())
}

// SlotAdvertising reports whether a slot holds an eligible record.
func (c *Configurator) SlotAdvertising(ctx context.Context, index int) (bool, error) {
	rec, err := c.store.Get(ctx, index)
	if errors.Is(err, slot.ErrNotFound) || errors.Is(err, slot.ErrCorruptRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Eligible(), nil
}

// Provision writes cfg to a slot that holds no valid record. It reports
// whether the slot was written. Provisioning ignores the lock.
func (c *Configurator) Provision(ctx context.Context, index int, cfg ProvisionConfig) (bool, error) {
	index = c.store.Clamp(index)

	rec, err := c.store.Get(ctx, index)
	switch {
	case err == nil && rec.Valid():
		return false, nil
	case err != nil && !errors.Is(err, slot.ErrNotFound) && !errors.Is(err, slot.ErrCorruptRecord):
		return false, err
	}

	// Validate through the codec so a bad default never reaches storage.
	if _, err := eddystone.NewFrame(cfg.FrameType, c.state.AdvTxPower(), cfg.Payload, nil); err != nil {
		return false, fmt.Errorf("provisioning slot %d: %w", index, err)
	}

	sc := slot.Config{
		FrameType:    cfg.FrameType,
		Payload:      append([]byte(nil), cfg.Payload...),
		RadioTxPower: c.state.RadioTxPower(index),
		AdvTxPower:   c.state.AdvTxPower(),
		AdvInterval:  c.state.AdvIntervalMS(),
		Connectable:  c.state.RemainConnectable(),
	}
	if cfg.FrameType == eddystone.FrameTLM {
		sc.Payload = nil
		sc.TLMVersion = eddystone.TLMVersionPlain
	}
	if err := c.store.Set(ctx, index, sc); err != nil {
		return false, err
	}

	c.logger.Info("slot provisioned", "slot", index, "frame", cfg.FrameType.String())
	c.record(WithSource(ctx, "provision"), CharSlotData, index, append([]byte{byte(cfg.FrameType)}, sc.Payload...))
	return true, nil
}

// restamp rewrites a valid stored record with fn applied. Missing or
// invalid records are left alone.
func (c *Configurator) restamp(ctx context.Context, index int, fn func(*slot.Config)) error {
	rec, err := c.store.Get(ctx, index)
	if errors.Is(err, slot.ErrNotFound) || errors.Is(err, slot.ErrCorruptRecord) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Valid() {
		return nil
	}

	cfg := rec.Config
	fn(&cfg)
	return c.store.Set(ctx, index, cfg)
}

func (c *Configurator) checkUnlocked() error {
	if !c.state.LockState().IsUnlocked() {
		return ErrLocked
	}
	return nil
}

// accepted audits a write and announces the new state.
func (c *Configurator) accepted(ctx context.Context, characteristic string, index int, value []byte) {
	c.logger.Info("configuration written",
		"characteristic", characteristic,
		"slot", index,
		"source", SourceFromContext(ctx),
	)
	c.record(ctx, characteristic, index, value)
	c.events.publish(Event{Kind: EventConfigChanged, Characteristic: characteristic, Slot: index, Snapshot: c.state.Snapshot()})
}

func (c *Configurator) record(ctx context.Context, characteristic string, index int, value []byte) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.RecordWrite(ctx, SourceFromContext(ctx), characteristic, index, value); err != nil {
		c.logger.Warn("recording audit entry", "characteristic", characteristic, "error", err)
	}
}
