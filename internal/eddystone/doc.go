// Package eddystone encodes and decodes Eddystone advertising frames.
//
// The codec is pure: it turns one slot's frame type, tx power byte and
// payload into the advertising data bytes handed to the radio, and parses
// those bytes back. It holds no state and performs no I/O apart from the
// optional sysfs telemetry sensor.
//
// # Frame layout
//
//	offset  0   1   2   3   4   5   6   7   8   9 ...
//	       03  03  AA  FE  LL  16  AA  FE  TT  frame body
//	       └ UUID list ──┘  └ service data, LL = 3 + len(frame) ──┘
//
// Frame bodies:
//
//	UID  00 tx  namespace[10] instance[6] 00 00          LL = 23
//	URL  10 tx  scheme  encoded-url[0..17]                LL = 5 + len(payload)
//	TLM  20 00  vbatt[2] temp[2] adv_cnt[4] sec_cnt[4]    LL = 17
//
// Multi-byte TLM fields are big-endian. Temperature is signed 8.8 fixed
// point. The second counter runs in 0.1 s units.
//
// # Telemetry
//
// TLM frames pull readings at encode time through a TelemetrySource.
// Battery and temperature come from a Sensor: SimulatedSensor for boards
// without sensors, SysfsSensor for Linux hosts.
//
// EID frames are recognised but never encoded.
package eddystone
