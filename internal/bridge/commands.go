package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/mqtt"
)

// commandTimeout bounds one configuration write, storage included.
const commandTimeout = 5 * time.Second

// commandSource tags audited writes that arrived over MQTT.
const commandSource = "mqtt"

// Subscriber is the subset of the MQTT client used for commands.
// It is satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeCommands routes configuration writes for this beacon to cfg.
func (b *Bridge) SubscribeCommands(sub Subscriber, cfg *beacon.Configurator) error {
	topic := b.topics.AllBeaconCommands(b.id)
	if err := sub.Subscribe(topic, b.qos, b.commandHandler(cfg)); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)
	return nil
}

func (b *Bridge) commandHandler(cfg *beacon.Configurator) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		id, characteristic, ok := mqtt.ParseBeaconCommand(topic)
		if !ok || id != b.id {
			b.logDebug("ignoring command topic", "topic", topic)
			return nil
		}

		err := b.applyCommand(cfg, characteristic, payload)
		result := CommandResult{
			Characteristic: characteristic,
			Status:         CommandAccepted,
			Timestamp:      time.Now().UTC(),
		}
		if err != nil {
			result.Status = CommandRejected
			result.Error = err.Error()
			b.logWarn("command rejected", "characteristic", characteristic, "error", err)
		} else {
			b.logInfo("command applied", "characteristic", characteristic)
		}
		b.publishJSON(b.topics.BeaconCommandResult(b.id), result, false)
		return nil
	}
}

func (b *Bridge) applyCommand(cfg *beacon.Configurator, characteristic string, payload []byte) error {
	value, err := hex.DecodeString(strings.TrimSpace(string(payload)))
	if err != nil {
		return fmt.Errorf("%w: payload is not hex", beacon.ErrInvalidValue)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = beacon.WithSource(ctx, commandSource)

	active := int(cfg.ActiveSlot()[0])

	switch characteristic {
	case beacon.CharActiveSlot:
		return cfg.WriteActiveSlot(ctx, value)
	case beacon.CharAdvInterval:
		return cfg.WriteAdvInterval(ctx, value)
	case beacon.CharRadioTxPower:
		return cfg.WriteRadioTxPower(ctx, active, value)
	case beacon.CharAdvTxPower:
		return cfg.WriteAdvTxPower(ctx, active, value)
	case beacon.CharLockState:
		return cfg.WriteLockState(ctx, value)
	case beacon.CharUnlock:
		return cfg.Unlock(ctx, value)
	case beacon.CharRemainConnectable:
		return cfg.WriteRemainConnectable(ctx, value)
	case beacon.CharSlotData:
		return cfg.WriteActiveSlotData(ctx, value)
	case beacon.CharFactoryReset:
		return cfg.WriteFactoryReset(ctx, value)
	default:
		return fmt.Errorf("%w: unknown characteristic %q", beacon.ErrWriteNotPermitted, characteristic)
	}
}
