// Package rfcomm carries link channels over Bluetooth Classic byte streams:
// RFCOMM sockets handed out by BlueZ and bound /dev/rfcommN serial devices.
package rfcomm

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/chaz8081/btserial/internal/link"
)

// ErrClosed is returned by channel operations after Close.
var ErrClosed = errors.New("rfcomm: channel closed")

// StreamChannel adapts a connected byte stream to link.Channel. Payloads are
// written whole; the stream has no MTU.
type StreamChannel struct {
	rwc  io.ReadWriteCloser
	peer string
	name string

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewStreamChannel wraps rwc. name is the human-readable peer name, or empty
// to report peer instead.
func NewStreamChannel(rwc io.ReadWriteCloser, peer, name string) *StreamChannel {
	return &StreamChannel{
		rwc:    rwc,
		peer:   peer,
		name:   name,
		closed: make(chan struct{}),
	}
}

var _ link.Channel = (*StreamChannel)(nil)

func (c *StreamChannel) Variant() link.Variant { return link.VariantStream }
func (c *StreamChannel) MTU() int              { return 0 }

func (c *StreamChannel) PeerName() string {
	if c.name != "" {
		return c.name
	}
	return c.peer
}

func (c *StreamChannel) Receive(p []byte) (int, error) {
	n, err := c.rwc.Read(p)
	if err != nil && c.isClosed() {
		return n, ErrClosed
	}
	return n, err
}

// Send writes fragment in full. Writes are ordered: a Send abandoned through
// ctx still completes before the next one starts.
func (c *StreamChannel) Send(ctx context.Context, fragment []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	errc := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_, err := c.rwc.Write(fragment)
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying stream once and unblocks a pending Receive.
func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *StreamChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
