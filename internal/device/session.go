package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyonmed/buddhactl/internal/ble"
	"github.com/halcyonmed/buddhactl/internal/protocol"
)

// State is the connection lifecycle state. Field I/O is only permitted
// in StateReady; every other state yields ErrNotConnected.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// session wraps one live link: the connection plus every Rev F
// characteristic, enumerated up front before the client goes Ready.
// It exists only while connected and is owned by exactly one Client.
type session struct {
	adv   ble.Advertisement
	conn  ble.Connection
	chars map[protocol.FieldName]ble.Characteristic
	armed map[protocol.FieldName]bool // transport notifications enabled
}

// Connect scans for the first advertisement whose local name carries the
// configured prefix (case-insensitive), connects to it, and enumerates
// the full Rev F characteristic set. One connect attempt is made per
// call; on any failure the client is left disconnected with no scan
// still running.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("device: connect while %s", state)
	}
	c.mu.Unlock()

	if err := c.waitForAdapter(ctx); err != nil {
		return err
	}

	c.setState(StateScanning)
	adv, err := c.scanForDevice(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	slog.Info("[BLE] found device", "name", adv.LocalName, "address", adv.Address, "rssi", adv.RSSI)

	c.setState(StateConnecting)
	conn, err := c.adapter.Connect(ctx, adv.Address)
	if err != nil {
		c.setState(StateDisconnected)
		return &DeviceError{Op: "connect", Err: err}
	}

	c.setState(StateDiscovering)
	chars := make(map[protocol.FieldName]ble.Characteristic, len(protocol.Fields()))
	for _, f := range protocol.Fields() {
		char, err := conn.DiscoverCharacteristic(f.Service, f.Characteristic)
		if err != nil {
			if derr := conn.Disconnect(); derr != nil {
				slog.Warn("[BLE] disconnect after failed discovery", "error", derr)
			}
			c.setState(StateDisconnected)
			return &DeviceError{Op: "discover", Field: f.Name, Err: err}
		}
		chars[f.Name] = char
	}

	sess := &session{
		adv:   adv,
		conn:  conn,
		chars: chars,
		armed: make(map[protocol.FieldName]bool),
	}
	conn.OnDisconnect(func() {
		c.handleLinkLoss(sess)
	})

	c.mu.Lock()
	c.sess = sess
	c.state = StateReady
	c.mu.Unlock()
	slog.Info("[BLE] connected", "name", adv.LocalName, "address", adv.Address)

	// Listeners registered during an earlier session are still in the
	// registry; arm their notifications on the fresh link.
	for _, name := range c.subs.fields() {
		if err := c.arm(protocol.Field(name)); err != nil {
			slog.Warn("[BLE] failed to re-arm notifications", "field", name, "error", err)
		}
	}
	return nil
}

// waitForAdapter enables the radio and polls its power state until it
// reports on, the wait budget runs out, or ctx is cancelled. Enable is
// retried across the window; the radio may still be powering up on the
// first attempts.
func (c *Client) waitForAdapter(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.AdapterWait)
	for {
		if err := c.adapter.Enable(); err != nil {
			slog.Debug("[BLE] enable adapter", "error", err)
		}
		if c.adapter.PoweredOn() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrAdapterNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.PollInterval):
		}
	}
}

func (c *Client) scanForDevice(ctx context.Context) (ble.Advertisement, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()

	prefix := strings.ToLower(c.opts.NamePrefix)
	var (
		match   ble.Advertisement
		matched bool
	)
	err := c.adapter.Scan(scanCtx, func(adv ble.Advertisement) bool {
		if strings.HasPrefix(strings.ToLower(adv.LocalName), prefix) {
			match = adv
			matched = true
			return true
		}
		return false
	})
	if matched {
		return match, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		// The caller cancelled; not a transport failure.
		return ble.Advertisement{}, cerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ble.Advertisement{}, ErrScanTimeout
	}
	if err == nil {
		err = errors.New("scan stopped without a match")
	}
	return ble.Advertisement{}, &DeviceError{Op: "scan", Err: err}
}

// handleLinkLoss destroys the session when the peripheral drops the
// link. Pending operations fail through the transport; later calls see
// ErrNotConnected.
func (c *Client) handleLinkLoss(sess *session) {
	c.mu.Lock()
	if c.sess != sess {
		// A newer session replaced this one; nothing to tear down.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	slog.Warn("[BLE] link lost", "address", sess.adv.Address)
}

// Disconnect requests link termination and clears the session. It is
// idempotent and never fails: termination errors are logged, and the
// session is released on every path.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.conn.Disconnect(); err != nil {
		slog.Warn("[BLE] disconnect", "error", err)
	}
	slog.Info("[BLE] disconnected", "address", sess.adv.Address)
}

// Connected reports whether a session is live. It issues no I/O.
func (c *Client) Connected() bool {
	return c.State() == StateReady
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	slog.Debug("[BLE] state", "state", s)
}

// Device returns the advertisement of the connected peripheral.
func (c *Client) Device() (ble.Advertisement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ble.Advertisement{}, false
	}
	return c.sess.adv, true
}
