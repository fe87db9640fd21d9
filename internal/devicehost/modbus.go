package devicehost

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// RegisterMap describes where one capability lives on one slave, and how to
// decode/encode it. Generalizes sigenergy/modbus_client.go's hardcoded
// register offsets (PlantAddress 247, register 40000 etc.) to an arbitrary
// per-device, per-capability table so the same host can drive heaters,
// plugs, and EV chargers from different vendors.
type RegisterMap struct {
	SlaveID  byte
	Address  uint16
	Quantity uint16 // in 16-bit registers
	Scale    float64 // divide raw integer by Scale to get the float64 value; 1 for integers/bools
	ReadOnly bool
}

// ModbusDeviceHost is a DeviceHost backed by a single Modbus RTU or TCP
// connection, grounded on sigenergy/modbus_client.go's NewRTUClient /
// NewTCPClient / bytesToU16 / bytesToS16 helpers, generalized from the
// Sigenergy plant-specific register layout to an injected per-device
// capability table.
type ModbusDeviceHost struct {
	mu          sync.Mutex
	client      modbus.Client
	closer      func() error
	setSlaveIDFn func(byte)

	devices map[string]DeviceInfo
	regs    map[string]map[Capability]RegisterMap // deviceID -> capability -> register
}

// NewRTUModbusDeviceHost dials an RTU serial connection.
func NewRTUModbusDeviceHost(device string, baudRate int) (*ModbusDeviceHost, error) {
	handler := modbus.NewRTUClientHandler(device)
	handler.BaudRate = baudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("devicehost: connect RTU %s: %w", device, err)
	}
	return &ModbusDeviceHost{
		client:       modbus.NewClient(handler),
		closer:       handler.Close,
		setSlaveIDFn: func(id byte) { handler.SlaveId = id },
		devices:      map[string]DeviceInfo{},
		regs:         map[string]map[Capability]RegisterMap{},
	}, nil
}

// NewTCPModbusDeviceHost dials a TCP gateway.
func NewTCPModbusDeviceHost(address string) (*ModbusDeviceHost, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = 1 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("devicehost: connect TCP %s: %w", address, err)
	}
	return &ModbusDeviceHost{
		client:       modbus.NewClient(handler),
		closer:       handler.Close,
		setSlaveIDFn: func(id byte) { handler.SlaveId = id },
		devices:      map[string]DeviceInfo{},
		regs:         map[string]map[Capability]RegisterMap{},
	}, nil
}

// Close releases the underlying serial/TCP connection.
func (h *ModbusDeviceHost) Close() error {
	if h.closer != nil {
		return h.closer()
	}
	return nil
}

// RegisterDevice adds a device and its capability register table. Building
// this host's device set is a caller responsibility (loaded from config),
// unlike a real Homey/Sigenergy SDK which discovers devices dynamically.
func (h *ModbusDeviceHost) RegisterDevice(info DeviceInfo, registers map[Capability]RegisterMap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices[info.ID] = info
	h.regs[info.ID] = registers
}

func (h *ModbusDeviceHost) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	return out, nil
}

func (h *ModbusDeviceHost) HasCapability(deviceID string, cap Capability) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.regs[deviceID][cap]
	return ok
}

func (h *ModbusDeviceHost) GetCapability(ctx context.Context, deviceID string, cap Capability) (any, error) {
	h.mu.Lock()
	reg, ok := h.regs[deviceID][cap]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("devicehost: device %q has no %q capability", deviceID, cap)
	}

	h.mu.Lock()
	h.setSlaveID(reg.SlaveID)
	data, err := h.client.ReadHoldingRegisters(reg.Address, reg.Quantity)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("devicehost: read %s.%s: %w", deviceID, cap, err)
	}
	return decodeRegister(reg, data), nil
}

func (h *ModbusDeviceHost) SetCapability(ctx context.Context, deviceID string, cap Capability, value any) error {
	h.mu.Lock()
	reg, ok := h.regs[deviceID][cap]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("devicehost: device %q has no %q capability", deviceID, cap)
	}
	if reg.ReadOnly {
		return fmt.Errorf("devicehost: %s.%s is read-only", deviceID, cap)
	}

	raw, err := encodeRegister(reg, value)
	if err != nil {
		return fmt.Errorf("devicehost: encode %s.%s: %w", deviceID, cap, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.setSlaveID(reg.SlaveID)
	if reg.Quantity == 1 {
		_, err = h.client.WriteSingleRegister(reg.Address, binary.BigEndian.Uint16(raw))
	} else {
		_, err = h.client.WriteMultipleRegisters(reg.Address, reg.Quantity, raw)
	}
	if err != nil {
		return fmt.Errorf("devicehost: write %s.%s: %w", deviceID, cap, err)
	}
	return nil
}

// Subscribe always returns nil: plain Modbus has no push mechanism, so
// callers must poll via GetCapability. This is the documented "absent
// capability degrades gracefully" path for the Subscribe capability.
func (h *ModbusDeviceHost) Subscribe(ctx context.Context, deviceID string) (<-chan CapabilityEvent, error) {
	return nil, nil
}

// setSlaveID mirrors sigenergy/modbus_client.go's SetSlaveID: the handler is
// shared across all devices on the bus, so the slave address must be set
// immediately before each call. Caller holds h.mu.
func (h *ModbusDeviceHost) setSlaveID(slaveID byte) {
	if h.setSlaveIDFn != nil {
		h.setSlaveIDFn(slaveID)
	}
}

func decodeRegister(reg RegisterMap, data []byte) any {
	if reg.Quantity == 1 {
		raw := int16(binary.BigEndian.Uint16(data))
		if reg.Scale == 0 || reg.Scale == 1 {
			if raw == 0 {
				return false
			}
			if raw == 1 {
				return true
			}
			return float64(raw)
		}
		return float64(raw) / reg.Scale
	}
	raw := int32(binary.BigEndian.Uint32(data))
	if reg.Scale == 0 || reg.Scale == 1 {
		return float64(raw)
	}
	return float64(raw) / reg.Scale
}

func encodeRegister(reg RegisterMap, value any) ([]byte, error) {
	var f float64
	switch v := value.(type) {
	case bool:
		if v {
			f = 1
		}
	case float64:
		f = v
	case int:
		f = float64(v)
	default:
		return nil, fmt.Errorf("unsupported capability value type %T", value)
	}

	scale := reg.Scale
	if scale == 0 {
		scale = 1
	}
	raw := int64(f * scale)

	if reg.Quantity == 1 {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(int16(raw)))
		return buf, nil
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(raw)))
	return buf, nil
}
