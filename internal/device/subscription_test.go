package device

import (
	"context"
	"errors"
	"testing"

	"github.com/halcyonmed/buddhactl/internal/protocol"
)

func TestSubscriptionsAddAndDispatch(t *testing.T) {
	subs := newSubscriptions()
	var a, b []int
	subs.add(protocol.FieldStatus, func(v int) { a = append(a, v) })
	subs.add(protocol.FieldStatus, func(v int) { b = append(b, v) })

	subs.dispatch(protocol.FieldStatus, 1)
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("dispatch reached %d/%d listeners, want 1/1", len(a), len(b))
	}

	// Other fields are unaffected.
	subs.dispatch(protocol.FieldBatteryLevel, 50)
	if len(a) != 1 || len(b) != 1 {
		t.Error("dispatch to another field leaked to status listeners")
	}
}

func TestSubscriptionsCancelIsScoped(t *testing.T) {
	subs := newSubscriptions()
	var a, b int
	cancelA := subs.add(protocol.FieldStatus, func(int) { a++ })
	subs.add(protocol.FieldStatus, func(int) { b++ })

	cancelA()
	subs.dispatch(protocol.FieldStatus, 2)
	if a != 0 {
		t.Error("cancelled listener still invoked")
	}
	if b != 1 {
		t.Errorf("sibling listener invoked %d times, want 1", b)
	}

	// Cancelling twice is a no-op.
	cancelA()
	subs.dispatch(protocol.FieldStatus, 2)
	if b != 2 {
		t.Errorf("sibling listener invoked %d times after double cancel, want 2", b)
	}
}

func TestSubscribeDeliversDecodedNotifications(t *testing.T) {
	client, adapter := newConnectedClient(t)

	var first, second []int
	cancelFirst, err := client.Subscribe(protocol.FieldStatus, func(v int) { first = append(first, v) })
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	if _, err := client.Subscribe(protocol.FieldStatus, func(v int) { second = append(second, v) }); err != nil {
		t.Fatalf("second Subscribe error = %v", err)
	}

	char := adapter.connection.fieldChar(protocol.FieldStatus)
	char.SimulateNotification(protocol.EncodeU8(uint8(protocol.StatusRunning)))

	if len(first) != 1 || first[0] != int(protocol.StatusRunning) {
		t.Errorf("first listener got %v, want [1]", first)
	}
	if len(second) != 1 || second[0] != int(protocol.StatusRunning) {
		t.Errorf("second listener got %v, want [1]", second)
	}

	// Disposing one subscription leaves the sibling receiving.
	cancelFirst()
	char.SimulateNotification(protocol.EncodeU8(uint8(protocol.StatusPaused)))
	if len(first) != 1 {
		t.Errorf("cancelled listener got %v after cancel", first)
	}
	if len(second) != 2 || second[1] != int(protocol.StatusPaused) {
		t.Errorf("surviving listener got %v, want [1 2]", second)
	}
}

func TestSubscribeRequiresNotifyCapability(t *testing.T) {
	client, _ := newConnectedClient(t)

	_, err := client.Subscribe(protocol.FieldControl, func(int) {})
	var verr *protocol.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Subscribe on non-notify field error = %v, want *ValidationError", err)
	}
}

func TestSubscribeU16Notifications(t *testing.T) {
	client, adapter := newConnectedClient(t)

	var got []int
	if _, err := client.Subscribe(protocol.FieldRemainingMs, func(v int) { got = append(got, v) }); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	adapter.connection.fieldChar(protocol.FieldRemainingMs).SimulateNotification(protocol.EncodeU16(42000))
	if len(got) != 1 || got[0] != 42000 {
		t.Errorf("listener got %v, want [42000]", got)
	}
}

func TestSubscribeDropsMalformedNotification(t *testing.T) {
	client, adapter := newConnectedClient(t)

	var got []int
	if _, err := client.Subscribe(protocol.FieldBatteryLevel, func(v int) { got = append(got, v) }); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	char := adapter.connection.fieldChar(protocol.FieldBatteryLevel)
	char.SimulateNotification([]byte("!!not base64!!"))
	char.SimulateNotification(protocol.EncodeU8(90))
	if len(got) != 1 || got[0] != 90 {
		t.Errorf("listener got %v, want [90]", got)
	}
}

func TestSubscribeArmsTransportOncePerField(t *testing.T) {
	client, adapter := newConnectedClient(t)

	if _, err := client.Subscribe(protocol.FieldStatus, func(int) {}); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	char := adapter.connection.fieldChar(protocol.FieldStatus)
	char.mu.Lock()
	char.subscribeErr = errors.New("transport rejects a second EnableNotifications")
	char.mu.Unlock()

	// Already armed, so no second transport subscribe happens.
	if _, err := client.Subscribe(protocol.FieldStatus, func(int) {}); err != nil {
		t.Errorf("second Subscribe error = %v, want reuse of armed notification", err)
	}
}

func TestReconnectRearmsListeners(t *testing.T) {
	client, adapter := newConnectedClient(t)

	var got []int
	if _, err := client.Subscribe(protocol.FieldBatteryLevel, func(v int) { got = append(got, v) }); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}

	adapter.connection.SimulateDisconnect()

	// Fresh link on reconnect.
	adapter.mu.Lock()
	adapter.connection = newMockConnection()
	adapter.mu.Unlock()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}

	adapter.connection.fieldChar(protocol.FieldBatteryLevel).SimulateNotification(protocol.EncodeU8(77))
	if len(got) != 1 || got[0] != 77 {
		t.Errorf("listener got %v after reconnect, want [77]", got)
	}
}
