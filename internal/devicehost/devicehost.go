// Package devicehost defines the three capability-set collaborator
// interfaces the control loop depends on instead of a concrete host SDK
// (DeviceHost, EnergyHost, SettingsHost), plus a concrete ModbusDeviceHost
// generalized from sigenergy/modbus_client.go's register read/write helpers
// to arbitrary per-device boolean/numeric capabilities.
package devicehost

import "context"

// Capability names a single readable/writable point on a device.
type Capability string

const (
	CapabilityOnOff             Capability = "onoff"
	CapabilityPower             Capability = "power"
	CapabilityTargetTemperature Capability = "target_temperature"
	CapabilityMeasureTemperature Capability = "measure_temperature"
)

// DeviceInfo is what DeviceHost.Enumerate returns for one device.
type DeviceInfo struct {
	ID           string
	Name         string
	Zone         string
	Capabilities []Capability
}

// DeviceHost enumerates devices and reads/writes their capabilities. A
// runtime feature probe (HasCapability) lets callers degrade gracefully
// instead of raising when a device lacks a capability.
type DeviceHost interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	HasCapability(deviceID string, cap Capability) bool
	GetCapability(ctx context.Context, deviceID string, cap Capability) (any, error)
	SetCapability(ctx context.Context, deviceID string, cap Capability, value any) error
	// Subscribe delivers capability-change events for deviceID until ctx is
	// done; nil is a valid return for a host with no push support.
	Subscribe(ctx context.Context, deviceID string) (<-chan CapabilityEvent, error)
}

// CapabilityEvent is one push notification from Subscribe.
type CapabilityEvent struct {
	DeviceID   string
	Capability Capability
	Value      any
}

// EnergyHost fetches dynamic price data and the pricing currency. This is a
// thinner collaborator than internal/price's own fetchers; it exists for
// hosts (e.g. a Homey-style integration) that already expose prices
// in-process and don't need an HTTP round trip of their own.
type EnergyHost interface {
	FetchPrices(ctx context.Context, day string) ([]EnergyHostPrice, error)
	Currency(ctx context.Context) (string, error)
}

// EnergyHostPrice is one hourly entry as EnergyHost returns it.
type EnergyHostPrice struct {
	StartsAt string
	Total    float64
}

// SettingsHost is the typed get/set/change-notification contract that
// internal/settings.Store implements; declared here so internal/devicehost
// can depend on the interface rather than the concrete settings package.
type SettingsHost interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
}
