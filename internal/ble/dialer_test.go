package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/btserial/internal/link"
)

func dialMock(t *testing.T) (*mockAdapter, *channel) {
	t.Helper()
	adapter := newMockAdapter()
	d := NewDialer(adapter, Options{})
	lc, err := d.Dial(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return adapter, lc.(*channel)
}

func receive(t *testing.T, ch link.Channel, p []byte) (int, error) {
	t.Helper()
	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := ch.Receive(p)
		res <- result{n, err}
	}()
	select {
	case r := <-res:
		return r.n, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() did not return")
		return 0, nil
	}
}

func TestDialNegotiatesMTU(t *testing.T) {
	_, ch := dialMock(t)
	if ch.Variant() != link.VariantChunked {
		t.Errorf("Variant() = %v, want chunked", ch.Variant())
	}
	// ATT MTU 23 leaves 20 bytes of payload.
	if ch.MTU() != 20 {
		t.Errorf("MTU() = %d, want 20", ch.MTU())
	}
}

func TestDialMTUUnavailable(t *testing.T) {
	adapter := newMockAdapter()
	d := NewDialer(&mtuFailingAdapter{adapter}, Options{})
	lc, err := d.Dial(context.Background(), "AA")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if lc.MTU() != 0 {
		t.Errorf("MTU() = %d, want 0 when the stack cannot report it", lc.MTU())
	}
}

type mtuFailingAdapter struct{ *mockAdapter }

func (a *mtuFailingAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	conn, err := a.mockAdapter.Connect(ctx, addr)
	if err == nil {
		conn.(*mockConnection).txChar.mtuErr = errors.New("not supported")
	}
	return conn, err
}

func TestDialEnablesAdapterOnce(t *testing.T) {
	adapter := newMockAdapter()
	d := NewDialer(adapter, Options{})
	for i := 0; i < 3; i++ {
		if _, err := d.Dial(context.Background(), "AA"); err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
	}
	if adapter.enables != 1 {
		t.Errorf("Enable() called %d times, want 1", adapter.enables)
	}
}

func TestDialConnectError(t *testing.T) {
	adapter := newMockAdapter()
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	d := NewDialer(adapter, Options{})
	if _, err := d.Dial(context.Background(), "AA"); err == nil {
		t.Fatal("Dial() error = nil, want error")
	}
}

func TestDialUnknownServiceDisconnects(t *testing.T) {
	adapter := newMockAdapter()
	d := NewDialer(adapter, Options{TXCharUUID: "0000ffe1-0000-1000-8000-00805f9b34fb"})
	if _, err := d.Dial(context.Background(), "AA"); err == nil {
		t.Fatal("Dial() error = nil, want discovery error")
	}
	if adapter.latestConnection().disconnectCount() != 1 {
		t.Error("connection was not released after discovery failed")
	}
}

func TestChannelReceivesNotifications(t *testing.T) {
	adapter, ch := dialMock(t)
	rx := adapter.latestConnection().rxChar

	rx.SimulateNotification([]byte("hello"))
	rx.SimulateNotification([]byte(" world"))

	buf := make([]byte, 3)
	var got []byte
	for len(got) < 11 {
		n, err := receive(t, ch, buf)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "hello world" {
		t.Errorf("received %q, want %q", got, "hello world")
	}
}

func TestChannelReceiveBlocksUntilNotification(t *testing.T) {
	adapter, ch := dialMock(t)
	go func() {
		time.Sleep(10 * time.Millisecond)
		adapter.latestConnection().rxChar.SimulateNotification([]byte("x"))
	}()
	n, err := receive(t, ch, make([]byte, 8))
	if err != nil || n != 1 {
		t.Errorf("Receive() = %d, %v; want 1, nil", n, err)
	}
}

func TestChannelDisconnectFailsReceive(t *testing.T) {
	adapter, ch := dialMock(t)
	adapter.latestConnection().SimulateDisconnect()

	if _, err := receive(t, ch, make([]byte, 8)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Receive() error = %v, want ErrDisconnected", err)
	}
	if err := ch.Send(context.Background(), []byte("x")); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() error = %v, want ErrDisconnected", err)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	adapter, ch := dialMock(t)
	_ = ch.Close()
	_ = ch.Close()

	if n := adapter.latestConnection().disconnectCount(); n != 1 {
		t.Errorf("Disconnect() called %d times, want 1", n)
	}
	if _, err := receive(t, ch, make([]byte, 8)); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() error = %v, want ErrClosed", err)
	}
}

func TestChannelSend(t *testing.T) {
	adapter, ch := dialMock(t)
	tx := adapter.latestConnection().txChar

	if err := ch.Send(context.Background(), []byte("abc")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if tx.writeCount() != 1 || string(tx.writes[0]) != "abc" {
		t.Errorf("writes = %q, want [abc]", tx.writes)
	}

	tx.mu.Lock()
	tx.writeErr = errMockRejected
	tx.mu.Unlock()
	if err := ch.Send(context.Background(), []byte("d")); !errors.Is(err, errMockRejected) {
		t.Errorf("Send() error = %v, want %v", err, errMockRejected)
	}
}

func TestChannelResolveName(t *testing.T) {
	_, ch := dialMock(t)
	name, err := ch.ResolveName(context.Background())
	if err != nil {
		t.Fatalf("ResolveName() error = %v", err)
	}
	if name != "Nordic_UART" {
		t.Errorf("ResolveName() = %q, want %q", name, "Nordic_UART")
	}
}

func TestServiceOverBLE(t *testing.T) {
	adapter := newMockAdapter()
	svc, err := link.New(link.DefaultConfig(), NewDialer(adapter, Options{}))
	if err != nil {
		t.Fatalf("link.New() error = %v", err)
	}
	defer svc.Stop()

	frames := make(chan string, 4)
	connected := make(chan struct{})
	svc.SetListener(link.ListenerFuncs{
		StatusChange: func(s link.Status) {
			if s == link.Connected {
				close(connected)
			}
		},
		DataRead: func(b []byte) { frames <- string(b) },
	})

	if err := svc.Connect("AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connected")
	}

	conn := adapter.latestConnection()
	conn.rxChar.SimulateNotification([]byte("temp=21"))
	conn.rxChar.SimulateNotification([]byte(".5\n"))
	select {
	case f := <-frames:
		if f != "temp=21.5" {
			t.Errorf("frame = %q, want %q", f, "temp=21.5")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	payload := make([]byte, 45)
	if err := svc.Write(context.Background(), payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n := conn.txChar.writeCount(); n != 3 {
		t.Errorf("GATT writes = %d, want 3", n)
	}
}
