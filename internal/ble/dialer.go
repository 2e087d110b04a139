package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chaz8081/btserial/internal/link"
)

var (
	// ErrDisconnected is returned by Receive after the peripheral dropped.
	ErrDisconnected = errors.New("ble: peripheral disconnected")
	// ErrClosed is returned by channel operations after Close.
	ErrClosed = errors.New("ble: channel closed")
)

// Options selects the GATT service used as the serial link.
type Options struct {
	ServiceUUID string
	TXCharUUID  string
	RXCharUUID  string
}

// DefaultOptions returns the Nordic UART Service layout.
func DefaultOptions() Options {
	return Options{
		ServiceUUID: ServiceUUID,
		TXCharUUID:  TXCharUUID,
		RXCharUUID:  RXCharUUID,
	}
}

// Dialer opens chunked link channels to BLE peripherals.
type Dialer struct {
	adapter Adapter
	opts    Options

	enableOnce sync.Once
	enableErr  error
}

// NewDialer returns a dialer using adapter. Empty option fields fall back to
// DefaultOptions.
func NewDialer(adapter Adapter, opts Options) *Dialer {
	def := DefaultOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.TXCharUUID == "" {
		opts.TXCharUUID = def.TXCharUUID
	}
	if opts.RXCharUUID == "" {
		opts.RXCharUUID = def.RXCharUUID
	}
	return &Dialer{adapter: adapter, opts: opts}
}

var _ link.Dialer = (*Dialer)(nil)

// Dial connects to the peripheral at address, discovers the serial service
// and subscribes to its notifications.
func (d *Dialer) Dial(ctx context.Context, address string) (link.Channel, error) {
	d.enableOnce.Do(func() { d.enableErr = d.adapter.Enable() })
	if d.enableErr != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", d.enableErr)
	}

	conn, err := d.adapter.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	ch, err := d.setup(conn, address)
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = ch.Close()
		return nil, err
	}

	slog.Info("[BLE] connected", "address", address, "mtu", ch.mtu)
	return ch, nil
}

func (d *Dialer) setup(conn Connection, address string) (*channel, error) {
	tx, err := conn.DiscoverCharacteristic(d.opts.ServiceUUID, d.opts.TXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover TX characteristic: %w", err)
	}
	rx, err := conn.DiscoverCharacteristic(d.opts.ServiceUUID, d.opts.RXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover RX characteristic: %w", err)
	}

	ch := newChannel(conn, tx, address)
	if mtu, err := tx.MTU(); err != nil {
		slog.Debug("[BLE] MTU unavailable, using default", "error", err)
	} else if mtu > attHeaderSize {
		ch.mtu = mtu - attHeaderSize
	}

	conn.OnDisconnect(ch.lost)
	if err := rx.Subscribe(ch.deliver); err != nil {
		return nil, fmt.Errorf("ble: subscribe RX characteristic: %w", err)
	}
	return ch, nil
}

// channel is a link.Channel over one GATT connection. Notifications are queued
// until Receive picks them up.
type channel struct {
	conn    Connection
	tx      Characteristic
	address string
	mtu     int

	mu      sync.Mutex
	queue   [][]byte
	pending []byte
	err     error
	signal  chan struct{}

	closeOnce sync.Once
}

func newChannel(conn Connection, tx Characteristic, address string) *channel {
	return &channel{
		conn:    conn,
		tx:      tx,
		address: address,
		signal:  make(chan struct{}, 1),
	}
}

var (
	_ link.Channel      = (*channel)(nil)
	_ link.NameResolver = (*channel)(nil)
)

func (c *channel) Variant() link.Variant { return link.VariantChunked }
func (c *channel) MTU() int              { return c.mtu }
func (c *channel) PeerName() string      { return c.address }

// deliver runs on the BLE stack's notification goroutine and must not block.
func (c *channel) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	if c.err == nil {
		c.queue = append(c.queue, cp)
	}
	c.mu.Unlock()
	c.wake()
}

func (c *channel) Receive(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 && len(c.queue) > 0 {
			c.pending = c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
		}
		if len(c.pending) > 0 {
			n := copy(p, c.pending)
			c.pending = c.pending[n:]
			c.mu.Unlock()
			return n, nil
		}
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}
		<-c.signal
	}
}

// Send writes one fragment with response, so it returns after the
// peripheral confirmed it.
func (c *channel) Send(ctx context.Context, fragment []byte) error {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- c.tx.Write(fragment) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveName reads the GAP Device Name characteristic.
func (c *channel) ResolveName(ctx context.Context) (string, error) {
	type result struct {
		name string
		err  error
	}
	res := make(chan result, 1)
	go func() {
		char, err := c.conn.DiscoverCharacteristic(GenericAccessUUID, DeviceNameUUID)
		if err != nil {
			res <- result{err: err}
			return
		}
		buf := make([]byte, 248)
		n, err := char.Read(buf)
		res <- result{name: strings.TrimRight(string(buf[:n]), "\x00"), err: err}
	}()

	select {
	case r := <-res:
		return r.name, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fail(ErrClosed)
		err = c.conn.Disconnect()
	})
	return err
}

func (c *channel) lost() {
	slog.Warn("[BLE] peripheral disconnected", "address", c.address)
	c.fail(ErrDisconnected)
}

func (c *channel) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		c.queue = nil
		c.pending = nil
	}
	c.mu.Unlock()
	c.wake()
}

func (c *channel) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}
