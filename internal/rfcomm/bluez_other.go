//go:build !linux

package rfcomm

import (
	"context"
	"errors"

	"github.com/chaz8081/btserial/internal/link"
)

// ErrUnsupported is returned by BlueZDialer on platforms without BlueZ.
var ErrUnsupported = errors.New("rfcomm: BlueZ sockets require Linux; bind a serial device and use the tty transport")

// BlueZDialer is unavailable off Linux; every Dial fails.
type BlueZDialer struct{}

// NewBlueZDialer returns a dialer that always fails with ErrUnsupported.
func NewBlueZDialer(string) *BlueZDialer { return &BlueZDialer{} }

var _ link.Dialer = (*BlueZDialer)(nil)

func (d *BlueZDialer) Dial(context.Context, string) (link.Channel, error) {
	return nil, ErrUnsupported
}

func (d *BlueZDialer) Close() error { return nil }
