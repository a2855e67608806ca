// Package config loads the beacon daemon's YAML configuration.
//
// Load reads the file, applies defaults for anything left unset, overlays
// GRAYLOGIC_* environment variables and validates the result. The lock
// key, MQTT password, InfluxDB token and JWT secret should come from the
// environment rather than the file; the JWT secret must match the one the
// Gray Logic core signs tokens with.
//
//	cfg, err := config.Load("/etc/graylogic/beacon.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
