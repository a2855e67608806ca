// Package slot persists the beacon's advertising slot records and lock key.
//
// Each slot is a fixed 42-byte record stamped with the 0x55AA storage marker
// when written through Store.Set. Clear overwrites the record with 0xFF so the
// marker no longer matches. Records are addressed by numeric tags in a
// Backend; slot i uses base+i and the lock key uses base+N.
//
// Record layout (multi-byte fields little-endian):
//
//	0   frame type        1   TLM version       2   payload length
//	3   payload[32]       35  radio tx power    36  advertised tx power
//	37  interval (u16)    39  connectable       40  marker (u16)
//
// Backend failures are wrapped in ErrBackend and returned without retry.
package slot
