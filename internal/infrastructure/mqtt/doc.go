// Package mqtt connects the beacon daemon to the Gray Logic MQTT bus.
//
// The beacon reports advertising, telemetry and state snapshots to the bus
// and accepts configuration writes from it:
//
//	beacond ↔ Mosquitto ↔ Gray Logic Core
//
// All topics live under graylogic/beacon/{beacon_id}/:
//
//	availability            retained online/offline, also the Last Will
//	status                  retained state snapshot
//	frame                   one message per advertising start
//	telemetry               decoded TLM readings
//	command/{char}          configuration writes, hex payload
//	command_result          outcome of each command
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside the lab; TLS 1.2 is the minimum
//   - Broker ACLs should restrict command/# to the core's credentials
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Beacon.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBeaconCommands(cfg.Beacon.ID), 1,
//	    func(topic string, payload []byte) error {
//	        _, characteristic, _ := mqtt.ParseBeaconCommand(topic)
//	        return apply(characteristic, payload)
//	    })
package mqtt
