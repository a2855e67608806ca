package slot

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// Record layout constants.
const (
	// PayloadCapacity is the size of the payload buffer in a record.
	PayloadCapacity = 32

	// RecordSize is the persisted size of one slot record.
	RecordSize = 42

	// ValidMarker is stamped into every record written by Set.
	ValidMarker uint16 = 0x55AA

	// EIDWriteLength bounds the stored payload length of a selectable slot.
	EIDWriteLength = 34

	// LockKeyLength is the size of the beacon lock key.
	LockKeyLength = 16

	offFrameType    = 0
	offTLMVersion   = 1
	offLength       = 2
	offPayload      = 3
	offRadioTxPower = offPayload + PayloadCapacity
	offAdvTxPower   = offRadioTxPower + 1
	offInterval     = offAdvTxPower + 1
	offConnectable  = offInterval + 2
	offMarker       = offConnectable + 1
)

// Config is the logical configuration of one advertising slot.
type Config struct {
	FrameType    eddystone.FrameType
	TLMVersion   uint8
	Payload      []byte
	RadioTxPower int8
	AdvTxPower   int8
	AdvInterval  uint16
	Connectable  bool
}

// Record is a slot as read back from storage.
type Record struct {
	Config

	// Length is the stored payload length byte. It can exceed
	// len(Payload) when the record is cleared or corrupt.
	Length uint8

	// Marker equals ValidMarker for records written by Set.
	Marker uint16
}

// Valid reports whether the record carries the storage marker.
func (r Record) Valid() bool {
	return r.Marker == ValidMarker
}

// Eligible reports whether the slot may be advertised: the marker is
// present, the frame type is UID, URL or TLM, and the stored length is
// within the EID write bound.
func (r Record) Eligible() bool {
	return r.Valid() && r.FrameType.Broadcastable() && int(r.Length) <= EIDWriteLength
}

// LockKey is the 16-byte key guarding configuration writes.
type LockKey [LockKeyLength]byte

// ClearedLockKey is what a factory reset leaves behind.
var ClearedLockKey = LockKey{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// marshal renders cfg as a stamped record.
func marshal(cfg Config) ([]byte, error) {
	if len(cfg.Payload) > PayloadCapacity {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", ErrPayloadTooLong, len(cfg.Payload), PayloadCapacity)
	}

	buf := make([]byte, RecordSize)
	buf[offFrameType] = byte(cfg.FrameType)
	buf[offTLMVersion] = cfg.TLMVersion
	buf[offLength] = byte(len(cfg.Payload))
	copy(buf[offPayload:offRadioTxPower], cfg.Payload)
	buf[offRadioTxPower] = byte(cfg.RadioTxPower)
	buf[offAdvTxPower] = byte(cfg.AdvTxPower)
	binary.LittleEndian.PutUint16(buf[offInterval:], cfg.AdvInterval)
	if cfg.Connectable {
		buf[offConnectable] = 1
	}
	binary.LittleEndian.PutUint16(buf[offMarker:], ValidMarker)
	return buf, nil
}

// clearedRecord is the value Clear writes: every byte 0xFF.
func clearedRecord() []byte {
	buf := make([]byte, RecordSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

func unmarshal(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("%w: %d bytes, want %d", ErrCorruptRecord, len(buf), RecordSize)
	}

	length := buf[offLength]
	n := min(int(length), PayloadCapacity)

	return Record{
		Config: Config{
			FrameType:    eddystone.FrameType(buf[offFrameType]),
			TLMVersion:   buf[offTLMVersion],
			Payload:      append([]byte(nil), buf[offPayload:offPayload+n]...),
			RadioTxPower: int8(buf[offRadioTxPower]),
			AdvTxPower:   int8(buf[offAdvTxPower]),
			AdvInterval:  binary.LittleEndian.Uint16(buf[offInterval:]),
			Connectable:  buf[offConnectable] != 0,
		},
		Length: length,
		Marker: binary.LittleEndian.Uint16(buf[offMarker:]),
	}, nil
}
