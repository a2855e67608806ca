// Package bluez advertises Eddystone frames through the BlueZ D-Bus API.
//
// Each advertisement is an org.bluez.LEAdvertisement1 object exported on
// the system bus and registered with the adapter's LEAdvertisingManager1.
// Start replaces the registered advertisement; Stop unregisters it.
//
// WatchConnections follows org.bluez.Device1 Connected property changes
// so the beacon machine can enter and leave its connected phase.
//
// The daemon needs access to the system bus and permission to talk to
// org.bluez, which normally means running as root or in the bluetooth group.
package bluez
