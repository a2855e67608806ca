// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic beacon.
//
// This package provides:
//   - Beacon status, capabilities and health endpoints for site monitoring
//   - Slot and characteristic write endpoints for commissioning tools
//   - The audit trail of accepted configuration writes
//   - A WebSocket hub relaying advertising, state and configuration events
//
// # Security
//
// Access tokens are HS256 JWTs issued by the Gray Logic core and verified
// with the shared secret. Roles map to permissions in package auth: user
// reads, admin configures, owner may also factory reset. WebSocket clients
// pass the token in the token query parameter.
//
// # Write Encoding
//
// Every write accepts a typed JSON form ({"interval_ms": 1000}) or the raw
// characteristic bytes as hex ({"value": "03e8"}). Both end up in the same
// beacon.Configurator call as a BLE characteristic write would, tagged with
// source "http" for the audit trail.
package api
