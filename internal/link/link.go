// Package link implements a transport-agnostic serial layer over a Bluetooth
// connection. It frames the inbound byte stream on a single delimiter byte,
// fragments outbound payloads to the transport MTU, and owns the connection
// lifecycle (Idle, Connecting, Connected) on behalf of the application.
package link

import (
	"errors"
	"fmt"
	"time"
)

// Status is the connection status held by a Service.
type Status int

const (
	Idle Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned by Write when the service is not Connected.
	ErrNotConnected = errors.New("link: not connected")
	// ErrStopped is returned by operations on a stopped service.
	ErrStopped = errors.New("link: service stopped")
	// ErrWriteFailed wraps a fragment send the transport reported as failed.
	ErrWriteFailed = errors.New("link: write failed")
	// ErrInvalidConfig is returned for unusable configuration values.
	ErrInvalidConfig = errors.New("link: invalid config")
)

// Notice texts delivered through Listener.OnNotice.
const (
	NoticeConnectFailed  = "unable to connect to device"
	NoticeConnectionLost = "connection lost"
	NoticeWriteFailed    = "write failed"
)

// Config holds the framing and fragmentation settings for a Service.
type Config struct {
	BufferSize   int           // inbound frame buffer capacity, >= 2
	Delimiter    byte          // frame boundary byte
	DefaultMTU   int           // fragment size until the transport negotiates one
	WriteTimeout time.Duration // per-fragment confirmation timeout, 0 waits forever
}

// DefaultConfig returns a 1024-byte frame buffer, newline delimiter and a
// 20-byte MTU until the transport negotiates a larger one.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1024,
		Delimiter:  '\n',
		DefaultMTU: 20,
	}
}

// Validate reports configuration values the data path cannot work with.
func (c Config) Validate() error {
	if c.BufferSize < 2 {
		return fmt.Errorf("%w: buffer size must be >= 2, got %d", ErrInvalidConfig, c.BufferSize)
	}
	if c.DefaultMTU < 1 {
		return fmt.Errorf("%w: default MTU must be >= 1, got %d", ErrInvalidConfig, c.DefaultMTU)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
