// Package device is the typed client for the Buddha treatment device.
// It owns the connection lifecycle, validates values before they reach
// the radio, and fans device notifications out to subscribers. One
// Client drives at most one device at a time.
package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/halcyonmed/buddhactl/internal/ble"
	"github.com/halcyonmed/buddhactl/internal/protocol"
)

// Options configures a Client.
type Options struct {
	// NamePrefix filters advertisements; matching is a case-insensitive
	// prefix test on the advertised local name.
	NamePrefix string
	// ScanTimeout bounds the advertisement scan.
	ScanTimeout time.Duration
	// AdapterWait bounds the wait for the radio to power on.
	AdapterWait time.Duration
	// PollInterval is how often adapter power state is polled.
	PollInterval time.Duration
}

// DefaultOptions returns sensible defaults for production use.
func DefaultOptions() Options {
	return Options{
		NamePrefix:   "buddha",
		ScanTimeout:  30 * time.Second,
		AdapterWait:  5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Client is the device facade. All GATT operations issued through it are
// serialized on a per-connection operation lock, so concurrent callers
// (and the composite helpers below) reach the radio in issue order.
type Client struct {
	adapter ble.Adapter
	opts    Options

	// mu guards state and sess.
	mu    sync.Mutex
	state State
	sess  *session

	// opMu serializes characteristic I/O on the live link.
	opMu sync.Mutex

	subs *subscriptions
}

// New creates a Client driving devices through adapter. The caller is
// expected to have obtained radio permissions already; the only runtime
// precondition checked here is adapter power state.
func New(adapter ble.Adapter, opts Options) *Client {
	if opts.NamePrefix == "" {
		opts.NamePrefix = "buddha"
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	if opts.AdapterWait <= 0 {
		opts.AdapterWait = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Client{
		adapter: adapter,
		opts:    opts,
		subs:    newSubscriptions(),
	}
}

// characteristic returns the live characteristic for name, or
// ErrNotConnected when no session exists.
func (c *Client) characteristic(name protocol.FieldName) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess.chars[name], nil
}

func (c *Client) readPayload(desc protocol.FieldDescriptor) ([]byte, error) {
	// The session check always wins: without a link every operation is
	// ErrNotConnected, whatever else is wrong with the request.
	char, err := c.characteristic(desc.Name)
	if err != nil {
		return nil, err
	}
	if !desc.Access.CanRead() {
		return nil, &protocol.ValidationError{Field: string(desc.Name), Reason: "field is not readable"}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	payload, err := char.Read()
	if err != nil {
		return nil, &DeviceError{Op: "read", Field: desc.Name, Err: err}
	}
	return payload, nil
}

func (c *Client) writePayload(desc protocol.FieldDescriptor, payload []byte) error {
	char, err := c.characteristic(desc.Name)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := char.WriteWithoutResponse(payload); err != nil {
		return &DeviceError{Op: "write", Field: desc.Name, Err: err}
	}
	return nil
}

func decodeNumeric(desc protocol.FieldDescriptor, payload []byte) (int, error) {
	switch desc.Kind {
	case protocol.KindU8:
		v, err := protocol.DecodeU8(payload)
		return int(v), err
	case protocol.KindU16:
		v, err := protocol.DecodeU16(payload)
		return int(v), err
	case protocol.KindI16:
		v, err := protocol.DecodeI16(payload)
		return int(v), err
	}
	return 0, &protocol.ValidationError{Field: string(desc.Name), Reason: "field is not numeric"}
}

// validateNumeric checks v against the field's declared domain. It runs
// before any I/O so an out-of-range value never produces a partial
// side effect.
func validateNumeric(desc protocol.FieldDescriptor, v int) error {
	if !desc.Access.CanWrite() {
		return &protocol.ValidationError{Field: string(desc.Name), Reason: "field is not writable"}
	}
	switch desc.Kind {
	case protocol.KindU8, protocol.KindU16, protocol.KindI16:
	default:
		return &protocol.ValidationError{Field: string(desc.Name), Reason: "field is not numeric"}
	}
	if v < desc.Min || v > desc.Max {
		return &protocol.ValidationError{
			Field:  string(desc.Name),
			Reason: fmt.Sprintf("%d outside %d..%d", v, desc.Min, desc.Max),
		}
	}
	return nil
}

func encodeNumeric(desc protocol.FieldDescriptor, v int) []byte {
	switch desc.Kind {
	case protocol.KindU8:
		return protocol.EncodeU8(uint8(v))
	case protocol.KindI16:
		return protocol.EncodeI16(int16(v))
	default:
		return protocol.EncodeU16(uint16(v))
	}
}

// ReadNumeric reads and decodes a numeric field.
func (c *Client) ReadNumeric(name protocol.FieldName) (int, error) {
	desc := protocol.Field(name)
	if _, err := c.characteristic(desc.Name); err != nil {
		return 0, err
	}
	switch desc.Kind {
	case protocol.KindU8, protocol.KindU16, protocol.KindI16:
	default:
		return 0, &protocol.ValidationError{Field: string(name), Reason: "field is not numeric"}
	}
	payload, err := c.readPayload(desc)
	if err != nil {
		return 0, err
	}
	return decodeNumeric(desc, payload)
}

// WriteNumeric validates v against the field's domain, then writes it
// without response: success means the local stack accepted the write,
// not that the device applied it.
func (c *Client) WriteNumeric(name protocol.FieldName, v int) error {
	desc := protocol.Field(name)
	if _, err := c.characteristic(desc.Name); err != nil {
		return err
	}
	if err := validateNumeric(desc, v); err != nil {
		return err
	}
	return c.writePayload(desc, encodeNumeric(desc, v))
}

// ReadVersion reads one of the version fields.
func (c *Client) ReadVersion(name protocol.FieldName) (protocol.Version, error) {
	desc := protocol.Field(name)
	if _, err := c.characteristic(desc.Name); err != nil {
		return protocol.Version{}, err
	}
	if desc.Kind != protocol.KindVersion {
		return protocol.Version{}, &protocol.ValidationError{Field: string(name), Reason: "field is not a version"}
	}
	payload, err := c.readPayload(desc)
	if err != nil {
		return protocol.Version{}, err
	}
	return protocol.DecodeVersion(payload)
}

// ReadSteps reads the current treatment program.
func (c *Client) ReadSteps() ([]protocol.Step, error) {
	payload, err := c.readPayload(protocol.Field(protocol.FieldStepList))
	if err != nil {
		return nil, err
	}
	return protocol.DecodeSteps(payload)
}

// WriteSteps validates and uploads a treatment program.
func (c *Client) WriteSteps(steps []protocol.Step) error {
	desc := protocol.Field(protocol.FieldStepList)
	if _, err := c.characteristic(desc.Name); err != nil {
		return err
	}
	payload, err := protocol.EncodeSteps(steps)
	if err != nil {
		return err
	}
	return c.writePayload(desc, payload)
}

// Subscribe registers fn for decoded notifications of name. Multiple
// subscriptions to one field are independent; the returned cancel
// removes only this one and is a no-op when called again.
func (c *Client) Subscribe(name protocol.FieldName, fn func(int)) (cancel func(), err error) {
	desc := protocol.Field(name)
	if _, err := c.characteristic(desc.Name); err != nil {
		return nil, err
	}
	if !desc.Access.CanNotify() {
		return nil, &protocol.ValidationError{Field: string(name), Reason: "field does not support notifications"}
	}
	if err := c.arm(desc); err != nil {
		return nil, err
	}
	return c.subs.add(name, fn), nil
}

// arm enables transport notifications for desc once per session. Every
// notified payload is decoded here and fanned out through the registry.
func (c *Client) arm(desc protocol.FieldDescriptor) error {
	c.mu.Lock()
	if c.state != StateReady || c.sess == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sess := c.sess
	if sess.armed[desc.Name] {
		c.mu.Unlock()
		return nil
	}
	char := sess.chars[desc.Name]
	c.mu.Unlock()

	dispatch := func(payload []byte) {
		v, err := decodeNumeric(desc, payload)
		if err != nil {
			// A malformed notification is dropped, not fatal.
			return
		}
		c.subs.dispatch(desc.Name, v)
	}

	c.opMu.Lock()
	err := char.Subscribe(dispatch)
	c.opMu.Unlock()
	if err != nil {
		return &DeviceError{Op: "subscribe", Field: desc.Name, Err: err}
	}

	c.mu.Lock()
	if c.sess == sess {
		sess.armed[desc.Name] = true
	}
	c.mu.Unlock()
	return nil
}

// TreatmentSnapshot aggregates the treatment control group. The reads
// behind it run concurrently, so the values are close in time but not
// sampled atomically.
type TreatmentSnapshot struct {
	Control         protocol.Control
	Status          protocol.Status
	TotalDurationMs int
	RemainingMs     int
	IntensityPct    int
	ErrorCode       int
	LRA1Enable      bool
	LRA2Enable      bool
	LRA3Enable      bool
	Steps           []protocol.Step
}

// ReadSnapshot reads the whole treatment group and returns it as one
// snapshot. The per-connection operation lock keeps the underlying reads
// ordered even though they are dispatched concurrently.
func (c *Client) ReadSnapshot() (*TreatmentSnapshot, error) {
	snap := &TreatmentSnapshot{}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	gather := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}()
	}
	number := func(name protocol.FieldName, dst *int) {
		gather(func() error {
			v, err := c.ReadNumeric(name)
			if err == nil {
				*dst = v
			}
			return err
		})
	}
	flag := func(name protocol.FieldName, dst *bool) {
		gather(func() error {
			v, err := c.ReadNumeric(name)
			if err == nil {
				*dst = v != 0
			}
			return err
		})
	}

	var control, status int
	number(protocol.FieldControl, &control)
	number(protocol.FieldStatus, &status)
	number(protocol.FieldTotalDurationMs, &snap.TotalDurationMs)
	number(protocol.FieldRemainingMs, &snap.RemainingMs)
	number(protocol.FieldIntensityPct, &snap.IntensityPct)
	number(protocol.FieldErrorCode, &snap.ErrorCode)
	flag(protocol.FieldLRA1Enable, &snap.LRA1Enable)
	flag(protocol.FieldLRA2Enable, &snap.LRA2Enable)
	flag(protocol.FieldLRA3Enable, &snap.LRA3Enable)
	gather(func() error {
		steps, err := c.ReadSteps()
		if err == nil {
			snap.Steps = steps
		}
		return err
	})
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	snap.Control = protocol.Control(control)
	snap.Status = protocol.Status(status)
	return snap, nil
}

// SetTreatmentParams writes total duration and intensity together. Both
// values are validated before either write is dispatched; the writes
// themselves are concurrent and independent, not transactional.
func (c *Client) SetTreatmentParams(durationMs, intensityPct int) error {
	durDesc := protocol.Field(protocol.FieldTotalDurationMs)
	intDesc := protocol.Field(protocol.FieldIntensityPct)
	if _, err := c.characteristic(durDesc.Name); err != nil {
		return err
	}
	if err := validateNumeric(durDesc, durationMs); err != nil {
		return err
	}
	if err := validateNumeric(intDesc, intensityPct); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = c.writePayload(durDesc, encodeNumeric(durDesc, durationMs))
	}()
	go func() {
		defer wg.Done()
		errs[1] = c.writePayload(intDesc, encodeNumeric(intDesc, intensityPct))
	}()
	wg.Wait()
	return errors.Join(errs...)
}

// Start begins the loaded treatment program.
func (c *Client) Start() error {
	return c.WriteNumeric(protocol.FieldControl, int(protocol.ControlStart))
}

// Stop halts the running treatment.
func (c *Client) Stop() error {
	return c.WriteNumeric(protocol.FieldControl, int(protocol.ControlStop))
}

// Pause suspends the running treatment.
func (c *Client) Pause() error {
	return c.WriteNumeric(protocol.FieldControl, int(protocol.ControlPause))
}

// EnterShipMode powers the device down for transport. The device drops
// the link once the write lands.
func (c *Client) EnterShipMode() error {
	return c.WriteNumeric(protocol.FieldShipMode, 1)
}
