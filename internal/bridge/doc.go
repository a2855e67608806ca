// Package bridge connects the beacon core to the Gray Logic bus.
//
// Outbound, a Bridge observes beacon events and republishes them:
//
//	advertising.started → graylogic/beacon/{id}/frame (+ /telemetry for TLM)
//	                      and InfluxDB beacon_advertising / beacon_telemetry
//	state/connection/config changes → graylogic/beacon/{id}/status (retained)
//
// Observers run on the machine's goroutine and must not block, so events
// pass through a bounded queue drained by Run. When the queue is full the
// event is dropped and counted.
//
// Inbound, SubscribeCommands routes graylogic/beacon/{id}/command/{name}
// messages to the configurator. Payloads are the hex encoded characteristic
// value and every outcome is reported on .../command_result.
package bridge
