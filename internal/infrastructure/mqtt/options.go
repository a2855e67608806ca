package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 30 * time.Second

	// disconnectQuiesceMS lets in-flight publishes finish on Close.
	disconnectQuiesceMS = 500

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Availability states and reasons.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	reasonShutdown = "graceful_shutdown"
	reasonLost     = "unexpected_disconnect"
)

// presence is the retained payload on the availability topic.
type presence struct {
	Status    string `json:"status"`
	BeaconID  string `json:"beacon_id"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(status, reason, beaconID, clientID string) ([]byte, error) {
	return json.Marshal(presence{
		Status:    status,
		BeaconID:  beaconID,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// buildClientOptions maps the mqtt config section onto paho options.
// Sessions are clean: commands missed while offline are not replayed.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// setWill registers the retained offline message the broker publishes when
// the beacon vanishes without closing its connection.
func setWill(opts *pahomqtt.ClientOptions, beaconID, clientID string) error {
	payload, err := presencePayload(presenceOffline, reasonLost, beaconID, clientID)
	if err != nil {
		return err
	}
	opts.SetBinaryWill(Topics{}.BeaconAvailability(beaconID), payload, 1, true)
	return nil
}
