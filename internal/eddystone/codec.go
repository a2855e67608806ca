package eddystone

import (
	"encoding/binary"
	"fmt"
)

// Encode serialises f into advertising data:
//
//	03 03 AA FE            complete list of 16-bit service UUIDs
//	LL 16 AA FE TT ...     service data, LL = 3 + len(frame)
//
// The total length is data[0] + data[4] + 2 and never exceeds MaxFrameLength.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedFrame)
	}

	frame, err := f.appendServiceData(make([]byte, 0, MaxFrameLength-8))
	if err != nil {
		return nil, err
	}

	adv := make([]byte, 0, 8+len(frame))
	adv = append(adv, 0x03, adTypeCompleteUUID16)
	adv = binary.LittleEndian.AppendUint16(adv, ServiceUUID)
	adv = append(adv, byte(3+len(frame)), adTypeServiceData16)
	adv = binary.LittleEndian.AppendUint16(adv, ServiceUUID)
	adv = append(adv, frame...)

	if len(adv) > MaxFrameLength {
		return nil, fmt.Errorf("%w: frame is %d bytes", ErrPayloadLength, len(adv))
	}
	return adv, nil
}

// Parse walks the AD structures in adv, locates the Eddystone service data
// and decodes it back into a Frame.
func Parse(adv []byte) (Frame, error) {
	data, err := findServiceData(adv)
	if err != nil {
		return nil, err
	}
	return ParseServiceData(data)
}

// ParseServiceData decodes service data that starts at the frame type byte.
func ParseServiceData(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty service data", ErrMalformed)
	}

	body := data[1:]
	switch t := FrameType(data[0]); t {
	case FrameUID:
		// tx power + namespace + instance; the two RFU bytes are optional.
		if len(body) < 1+UIDPayloadLength {
			return nil, fmt.Errorf("%w: uid frame is %d bytes", ErrMalformed, len(data))
		}
		f := &UIDFrame{TxPower: int8(body[0])}
		copy(f.Namespace[:], body[1:1+NamespaceLength])
		copy(f.Instance[:], body[1+NamespaceLength:1+UIDPayloadLength])
		return f, nil

	case FrameURL:
		if len(body) < 2 || len(body)-1 > MaxURLPayloadLength {
			return nil, fmt.Errorf("%w: url frame is %d bytes", ErrMalformed, len(data))
		}
		return &URLFrame{TxPower: int8(body[0]), Payload: append([]byte(nil), body[1:]...)}, nil

	case FrameTLM:
		const plainLength = 1 + 2 + 2 + 4 + 4
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: tlm frame is %d bytes", ErrMalformed, len(data))
		}
		if body[0] != TLMVersionPlain {
			return nil, fmt.Errorf("%w: tlm version 0x%02x", ErrUnsupportedFrame, body[0])
		}
		if len(body) < plainLength {
			return nil, fmt.Errorf("%w: tlm frame is %d bytes", ErrMalformed, len(data))
		}
		return &TLMFrame{
			Version: body[0],
			Telemetry: Telemetry{
				BatteryMV:   binary.BigEndian.Uint16(body[1:3]),
				Temperature: int16(binary.BigEndian.Uint16(body[3:5])),
				AdvCount:    binary.BigEndian.Uint32(body[5:9]),
				Uptime:      binary.BigEndian.Uint32(body[9:13]),
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrame, t)
	}
}

// findServiceData returns the bytes after the UUID of the first 0xFEAA
// service data structure.
func findServiceData(adv []byte) ([]byte, error) {
	for i := 0; i < len(adv); {
		length := int(adv[i])
		if length == 0 {
			// Zero length terminates significant data.
			break
		}
		if i+1+length > len(adv) {
			return nil, fmt.Errorf("%w: ad structure at %d overruns %d bytes", ErrMalformed, i, len(adv))
		}

		typ := adv[i+1]
		value := adv[i+2 : i+1+length]
		if typ == adTypeServiceData16 && len(value) >= 2 &&
			binary.LittleEndian.Uint16(value) == ServiceUUID {
			return value[2:], nil
		}

		i += 1 + length
	}
	return nil, ErrNotEddystone
}
