package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// D-Bus names used by the backend.
const (
	bluezService            = "org.bluez"
	advertisementInterface  = "org.bluez.LEAdvertisement1"
	registerAdvertisement   = "org.bluez.LEAdvertisingManager1.RegisterAdvertisement"
	unregisterAdvertisement = "org.bluez.LEAdvertisingManager1.UnregisterAdvertisement"
	device1Interface        = "org.bluez.Device1"
	device1Connected        = "Connected"
	propertiesInterface     = "org.freedesktop.DBus.Properties"
	signalPropertiesChanged = propertiesInterface + ".PropertiesChanged"
	errAlreadyExists        = "org.bluez.Error.AlreadyExists"
	errDoesNotExist         = "org.bluez.Error.DoesNotExist"
)

// Advertisement contents.
const (
	eddystoneServiceUUID  = "feaa"
	advTypeConnectable    = "peripheral"
	advTypeNonConnectable = "broadcast"
)

// PropertiesChanged body positions.
const (
	changedInterfaceName = 0
	changedDictionary    = 1
)

var matchDevicePropertiesChanged = []dbus.MatchOption{
	dbus.WithMatchInterface(propertiesInterface),
	dbus.WithMatchMember("PropertiesChanged"),
	dbus.WithMatchArg(changedInterfaceName, device1Interface),
}

// advertisementProperties builds the LEAdvertisement1 property table for
// one Eddystone advertisement. The local name only goes into connectable
// advertisements, where it lands in the scan response.
func advertisementProperties(desc eddystone.Descriptor, connectable bool, localName string) prop.Map {
	advType := advTypeNonConnectable
	if connectable {
		advType = advTypeConnectable
	}

	props := map[string]*prop.Prop{
		"Type":         {Value: advType},
		"ServiceUUIDs": {Value: []string{eddystoneServiceUUID}},
		"ServiceData": {Value: map[string]interface{}{
			eddystoneServiceUUID: desc.ServiceData(),
		}},
		"MinInterval": {Value: uint32(desc.IntervalMS)},
		"MaxInterval": {Value: uint32(desc.IntervalMS)},
		"TxPower":     {Value: int16(desc.RadioTxPower)},
		"Timeout":     {Value: uint16(0)},
	}
	if connectable && localName != "" {
		props["LocalName"] = &prop.Prop{Value: localName}
	}

	return prop.Map{advertisementInterface: props}
}

// parseConnected extracts a Device1 Connected change from a signal.
func parseConnected(sig *dbus.Signal) (path dbus.ObjectPath, connected bool, ok bool) {
	if sig == nil || sig.Name != signalPropertiesChanged || len(sig.Body) <= changedDictionary {
		return "", false, false
	}
	if iface, isString := sig.Body[changedInterfaceName].(string); !isString || iface != device1Interface {
		return "", false, false
	}
	changes, isMap := sig.Body[changedDictionary].(map[string]dbus.Variant)
	if !isMap {
		return "", false, false
	}
	v, present := changes[device1Connected]
	if !present {
		return "", false, false
	}
	connected, ok = v.Value().(bool)
	return sig.Path, connected, ok
}

// connections tracks which devices are connected. The beacon counts as
// connected while at least one device is.
type connections map[dbus.ObjectPath]bool

// update records a device change and reports whether the beacon-level
// state flipped, together with the new state.
func (c connections) update(path dbus.ObjectPath, connected bool) (changed, beaconConnected bool) {
	before := len(c) > 0
	if connected {
		c[path] = true
	} else {
		delete(c, path)
	}
	after := len(c) > 0
	return before != after, after
}
