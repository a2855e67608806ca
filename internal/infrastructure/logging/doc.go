// Package logging configures log/slog for the beacon daemon.
//
// Every entry carries service and version attributes, and subsystems tag
// their own entries through Component:
//
//	log := logging.New(cfg.Logging, version)
//	machine.SetLogger(log.Component("machine"))
//
// The logging section of config.yaml selects level (debug, info, warn,
// error), format (json or text) and output (stdout or stderr).
//
// Attributes named lock_key, password, token or secret are replaced with
// "[REDACTED]" whatever their value. Slot payloads are public broadcast
// data and are logged as hex.
package logging
