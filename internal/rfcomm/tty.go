package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/chaz8081/btserial/internal/link"
)

// DefaultBaud is used when a TTYDialer has no baud rate set.
const DefaultBaud = 9600

// pollInterval bounds how long a tty read blocks, and with it how long Close
// takes to unblock Receive.
const pollInterval = 200 * time.Millisecond

// TTYDialer opens serial devices bound to a remote RFCOMM channel, such as
// /dev/rfcomm0 set up with `rfcomm bind`.
type TTYDialer struct {
	Device string // used when Dial gets an empty peer
	Baud   int

	open func(*serial.Config) (io.ReadWriteCloser, error)
}

// NewTTYDialer returns a dialer for device at baud.
func NewTTYDialer(device string, baud int) *TTYDialer {
	return &TTYDialer{Device: device, Baud: baud}
}

var _ link.Dialer = (*TTYDialer)(nil)

// Dial opens the serial device named by peer, or the dialer's Device when
// peer is empty.
func (d *TTYDialer) Dial(ctx context.Context, peer string) (link.Channel, error) {
	device := peer
	if device == "" {
		device = d.Device
	}
	if device == "" {
		return nil, errors.New("rfcomm: no serial device configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}
	open := d.open
	if open == nil {
		open = openPort
	}
	port, err := open(&serial.Config{
		Name:        device,
		Baud:        baud,
		Parity:      serial.ParityNone,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("rfcomm: open %s: %w", device, err)
	}

	slog.Info("[RFCOMM] serial device opened", "device", device, "baud", baud)
	return NewStreamChannel(&pollingPort{port: port, timeout: pollInterval}, device, ""), nil
}

func openPort(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(cfg)
}

// ErrHangup is returned by Receive when the serial device keeps reporting
// end of file without waiting for the read timeout, which is how a tty whose
// remote end went away behaves.
var ErrHangup = errors.New("rfcomm: serial device hung up")

const hangupReads = 3

// pollingPort turns the port's read timeouts into a blocking Read that
// returns once data arrives, the port fails, or it is closed.
type pollingPort struct {
	port    io.ReadWriteCloser
	timeout time.Duration
	closed  atomic.Bool
}

func (p *pollingPort) Read(b []byte) (int, error) {
	quick := 0
	for {
		start := time.Now()
		n, err := p.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if time.Since(start) < p.timeout/4 {
			quick++
			if quick >= hangupReads {
				return 0, ErrHangup
			}
		} else {
			quick = 0
		}
	}
}

func (p *pollingPort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *pollingPort) Close() error {
	p.closed.Store(true)
	return p.port.Close()
}
