package eddystone

import (
	"encoding/binary"
	"fmt"
)

// FrameType is the first byte of Eddystone service data.
type FrameType uint8

// Frame types. EID is recognised but never encoded.
const (
	FrameUID FrameType = 0x00
	FrameURL FrameType = 0x10
	FrameTLM FrameType = 0x20
	FrameEID FrameType = 0x30
)

// String returns the lowercase frame name used in logs, topics and the API.
func (t FrameType) String() string {
	switch t {
	case FrameUID:
		return "uid"
	case FrameURL:
		return "url"
	case FrameTLM:
		return "tlm"
	case FrameEID:
		return "eid"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Broadcastable reports whether frames of this type can be encoded.
func (t FrameType) Broadcastable() bool {
	return t == FrameUID || t == FrameURL || t == FrameTLM
}

// ParseFrameType maps "uid", "url", "tlm" or "eid" to a FrameType.
func ParseFrameType(s string) (FrameType, error) {
	switch s {
	case "uid":
		return FrameUID, nil
	case "url":
		return FrameURL, nil
	case "tlm":
		return FrameTLM, nil
	case "eid":
		return FrameEID, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFrame, s)
	}
}

// Layout constants.
const (
	// ServiceUUID is the 16-bit Eddystone service UUID.
	ServiceUUID uint16 = 0xFEAA

	// MaxFrameLength is the advertising data buffer bound.
	MaxFrameLength = 32

	// UIDPayloadLength is namespace plus instance.
	UIDPayloadLength = NamespaceLength + InstanceLength

	// MaxURLPayloadLength is the scheme byte plus 17 encoded URL bytes.
	MaxURLPayloadLength = 1 + maxEncodedURLBody

	// TLMVersionPlain is the only TLM version this codec emits.
	TLMVersionPlain uint8 = 0x00

	// TLMVersionEncrypted is stored but never broadcast.
	TLMVersionEncrypted uint8 = 0x01

	adTypeCompleteUUID16 = 0x03
	adTypeServiceData16  = 0x16
)

// Frame is one Eddystone frame variant: *UIDFrame, *URLFrame or *TLMFrame.
type Frame interface {
	Type() FrameType
	appendServiceData(b []byte) ([]byte, error)
}

// UIDFrame broadcasts a fixed namespace/instance identifier.
type UIDFrame struct {
	TxPower   int8
	Namespace Namespace
	Instance  Instance
}

// Type implements Frame.
func (f *UIDFrame) Type() FrameType { return FrameUID }

func (f *UIDFrame) appendServiceData(b []byte) ([]byte, error) {
	b = append(b, byte(FrameUID), byte(f.TxPower))
	b = append(b, f.Namespace[:]...)
	b = append(b, f.Instance[:]...)
	return append(b, 0x00, 0x00), nil
}

// URLFrame broadcasts a compressed URL. Payload holds the scheme byte
// followed by the encoded body, exactly as stored in the slot.
type URLFrame struct {
	TxPower int8
	Payload []byte
}

// Type implements Frame.
func (f *URLFrame) Type() FrameType { return FrameURL }

func (f *URLFrame) appendServiceData(b []byte) ([]byte, error) {
	if len(f.Payload) == 0 || len(f.Payload) > MaxURLPayloadLength {
		return nil, fmt.Errorf("%w: url payload is %d bytes", ErrPayloadLength, len(f.Payload))
	}
	b = append(b, byte(FrameURL), byte(f.TxPower))
	return append(b, f.Payload...), nil
}

// URL expands the payload back into a URL string.
func (f *URLFrame) URL() (string, error) {
	return DecodeURL(f.Payload)
}

// TLMFrame broadcasts unencrypted telemetry.
type TLMFrame struct {
	Version uint8
	Telemetry
}

// Type implements Frame.
func (f *TLMFrame) Type() FrameType { return FrameTLM }

func (f *TLMFrame) appendServiceData(b []byte) ([]byte, error) {
	if f.Version != TLMVersionPlain {
		return nil, fmt.Errorf("%w: tlm version 0x%02x", ErrUnsupportedFrame, f.Version)
	}
	b = append(b, byte(FrameTLM), f.Version)
	b = binary.BigEndian.AppendUint16(b, f.BatteryMV)
	b = binary.BigEndian.AppendUint16(b, uint16(f.Temperature))
	b = binary.BigEndian.AppendUint32(b, f.AdvCount)
	return binary.BigEndian.AppendUint32(b, f.Uptime), nil
}

// NewFrame builds the frame variant for a stored slot.
//
// UID payloads must be exactly 16 bytes and URL payloads 1 to 18 bytes.
// TLM ignores the payload and reads the telemetry source at call time;
// a nil source yields zero readings. EID and unknown types return
// ErrUnsupportedFrame.
func NewFrame(t FrameType, txPower int8, payload []byte, tlm TelemetrySource) (Frame, error) {
	switch t {
	case FrameUID:
		if len(payload) != UIDPayloadLength {
			return nil, fmt.Errorf("%w: uid payload is %d bytes, want %d", ErrPayloadLength, len(payload), UIDPayloadLength)
		}
		f := &UIDFrame{TxPower: txPower}
		copy(f.Namespace[:], payload[:NamespaceLength])
		copy(f.Instance[:], payload[NamespaceLength:])
		return f, nil

	case FrameURL:
		if len(payload) == 0 || len(payload) > MaxURLPayloadLength {
			return nil, fmt.Errorf("%w: url payload is %d bytes", ErrPayloadLength, len(payload))
		}
		return &URLFrame{TxPower: txPower, Payload: append([]byte(nil), payload...)}, nil

	case FrameTLM:
		f := &TLMFrame{Version: TLMVersionPlain}
		if tlm != nil {
			f.Telemetry = tlm.Telemetry()
		}
		return f, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrame, t)
	}
}

// Descriptor is everything the radio needs to start one advertisement.
type Descriptor struct {
	Frame        Frame
	Data         []byte
	Connectable  bool
	IntervalMS   uint16
	RadioTxPower int8
}

// FrameType returns the type of the described frame.
func (d Descriptor) FrameType() FrameType {
	return d.Frame.Type()
}

// ServiceData returns the service data bytes following the 0xFEAA UUID,
// starting with the frame type. BlueZ takes service data in this form.
func (d Descriptor) ServiceData() []byte {
	const offset = 8
	if len(d.Data) <= offset {
		return nil
	}
	return d.Data[offset:]
}

// Describe encodes f and wraps it with the advertising parameters.
func Describe(f Frame, connectable bool, intervalMS uint16, radioTxPower int8) (Descriptor, error) {
	data, err := Encode(f)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Frame:        f,
		Data:         data,
		Connectable:  connectable,
		IntervalMS:   intervalMS,
		RadioTxPower: radioTxPower,
	}, nil
}
