// Package influxdb records beacon activity in InfluxDB v2.
//
// Two measurements are written, both tagged with site_id and beacon_id:
//   - beacon_advertising: one point per advertising start, tagged by slot
//     and frame type
//   - beacon_telemetry: battery, temperature and counters from TLM frames
//
// Writes go through the client library's batching write API and never
// block the caller. Batch failures arrive on the SetOnError callback;
// Connect and HealthCheck return their errors directly.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAdvertisement(influxdb.Advertisement{BeaconID: "hall-01", FrameType: "uid"}, time.Now())
package influxdb
