package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// readBufferSize is generous for Rev F payloads: the largest value is the
// step list, 40 records of 3 bytes, base64-encoded.
const readBufferSize = 512

// TinyGoAdapter wraps tinygo.org/x/bluetooth. One instance owns the
// system radio; use Adapter-typed values everywhere else.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled and connections.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by peripheral address
}

// NewTinyGoAdapter creates an adapter backed by the default system radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// The stack fires this (with connected=false) when a peripheral
	// drops the link, so routed OnDisconnect callbacks see link loss.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.linkLost()
		}
	})

	a.enabled = true
	return nil
}

// PoweredOn reports whether Enable has brought the radio up. It issues
// no I/O; the power-on wait in the session layer retries Enable and
// polls this.
func (a *TinyGoAdapter) PoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *TinyGoAdapter) stopScan() {
	if err := a.adapter.StopScan(); err != nil {
		if strings.Contains(err.Error(), "no scan in progress") {
			return
		}
		slog.Warn("[BLE] failed to stop scan", "error", err)
	}
}

func (a *TinyGoAdapter) Scan(ctx context.Context, found func(Advertisement) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.stopScan()
		case <-done:
		}
	}()

	// Scan blocks until StopScan; the callback runs on the stack's
	// dispatch goroutine.
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			LocalName: result.LocalName(),
			Address:   result.Address.String(),
			RSSI:      int(result.RSSI),
		}
		if found(adv) {
			a.stopScan()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return ctx.Err()
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	// The stack's Connect blocks with its own timeout; wrap it so our
	// ctx cancellation returns promptly even if the dial is still
	// in flight.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, params)
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{
			device:   result.device,
			services: make(map[string]bluetooth.DeviceService),
		}
		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	services     map[string]bluetooth.DeviceService // keyed by service UUID
	disconnectCb func()
}

func (c *tinyGoConnection) service(serviceUUID string) (bluetooth.DeviceService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[serviceUUID]; ok {
		return svc, nil
	}

	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	services, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: discover service %s: %w", serviceUUID, err)
	}
	if len(services) != 1 {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	c.services[serviceUUID] = services[0]
	return services[0], nil
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := c.service(serviceUUID)
	if err != nil {
		return nil, err
	}

	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristic %s: %w", charUUID, err)
	}
	if len(chars) != 1 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(callback func()) {
	c.mu.Lock()
	c.disconnectCb = callback
	c.mu.Unlock()
}

func (c *tinyGoConnection) linkLost() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) WriteWithoutResponse(data []byte) error {
	n, err := c.char.WriteWithoutResponse(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("ble: short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (c *tinyGoCharacteristic) Subscribe(callback func(data []byte)) error {
	return c.char.EnableNotifications(callback)
}
