package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halcyonmed/buddhactl/internal/ble"
	"github.com/halcyonmed/buddhactl/internal/protocol"
)

// mockCharacteristic records writes, serves a canned value, and lets
// tests push notifications.
type mockCharacteristic struct {
	mu       sync.Mutex
	value    []byte
	writes   [][]byte
	callback func([]byte)

	readErr      error
	writeErr     error
	subscribeErr error
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	cp := make([]byte, len(c.value))
	copy(cp, c.value)
	return cp, nil
}

func (c *mockCharacteristic) WriteWithoutResponse(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	c.value = cp
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.callback = cb
	return nil
}

// SimulateNotification pushes a payload to the subscriber, if any.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// mockConnection simulates a connected peripheral with lazily created
// characteristics keyed by characteristic UUID.
type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	disconnectCb func()
	disconnected bool
	discoverErr  error
}

func newMockConnection() *mockConnection {
	return &mockConnection{chars: make(map[string]*mockCharacteristic)}
}

func (c *mockConnection) char(charUUID string) *mockCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[charUUID]
	if !ok {
		ch = &mockCharacteristic{}
		c.chars[charUUID] = ch
	}
	return ch
}

func (c *mockConnection) fieldChar(name protocol.FieldName) *mockCharacteristic {
	return c.char(protocol.Field(name).Characteristic)
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	err := c.discoverErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.char(charUUID), nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect fires the registered link-loss callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the radio: a fixed advertisement stream and a
// single connectable peripheral.
type mockAdapter struct {
	mu             sync.Mutex
	advertisements []ble.Advertisement
	connection     *mockConnection
	connectErr     error
	scanErr        error

	// powerPolls counts PoweredOn calls; the adapter reports powered
	// once powerPolls reaches poweredAfter.
	powerPolls   int
	poweredAfter int
	enableCalls  int
}

func newMockAdapter(advs []ble.Advertisement) *mockAdapter {
	return &mockAdapter{
		advertisements: advs,
		connection:     newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableCalls++
	return nil
}

func (a *mockAdapter) PoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.powerPolls++
	return a.powerPolls > a.poweredAfter
}

func (a *mockAdapter) Scan(ctx context.Context, found func(ble.Advertisement) bool) error {
	a.mu.Lock()
	advs := make([]ble.Advertisement, len(a.advertisements))
	copy(advs, a.advertisements)
	err := a.scanErr
	a.mu.Unlock()
	if err != nil {
		return err
	}
	for _, adv := range advs {
		if found(adv) {
			return nil
		}
	}
	// Nothing matched; a real scan keeps running until the deadline.
	<-ctx.Done()
	return ctx.Err()
}

func (a *mockAdapter) Connect(ctx context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.connection, nil
}

var _ ble.Adapter = (*mockAdapter)(nil)

func testOptions() Options {
	return Options{
		NamePrefix:   "buddha",
		ScanTimeout:  200 * time.Millisecond,
		AdapterWait:  100 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

// seedNumeric primes a field's characteristic with an encoded value.
func seedNumeric(conn *mockConnection, name protocol.FieldName, v int) {
	desc := protocol.Field(name)
	conn.fieldChar(name).value = encodeNumeric(desc, v)
}

// newConnectedClient returns a client connected to a seeded mock device.
func newConnectedClient(t *testing.T) (*Client, *mockAdapter) {
	t.Helper()
	adapter := newMockAdapter([]ble.Advertisement{
		{LocalName: "Buddha-0042", Address: "AA:BB:CC:DD:EE:FF", RSSI: -45},
	})
	client := New(adapter, testOptions())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client, adapter
}
