package link

import "context"

// Variant distinguishes how a transport delivers inbound bytes and how its
// outbound side is sized.
type Variant int

const (
	// VariantStream is a byte stream (RFCOMM socket, serial device). Payloads
	// are written whole.
	VariantStream Variant = iota
	// VariantChunked delivers inbound bytes in notification batches and
	// accepts outbound writes of at most MTU bytes (BLE GATT).
	VariantChunked
)

func (v Variant) String() string {
	if v == VariantChunked {
		return "chunked"
	}
	return "stream"
}

// Channel is an established link to a remote peer.
type Channel interface {
	// Variant reports the transport flavour.
	Variant() Variant
	// Receive blocks until inbound bytes are available. It returns an error
	// once the link is lost or the channel has been closed.
	Receive(p []byte) (int, error)
	// Send transmits one fragment and returns after the transport confirmed
	// it, or with the transport's failure.
	Send(ctx context.Context, fragment []byte) error
	// MTU returns the negotiated fragment size, or 0 when nothing was negotiated.
	MTU() int
	// PeerName returns the best known human-readable peer identity.
	PeerName() string
	// Close releases the link. It is idempotent and unblocks a pending Receive.
	Close() error
}

// Dialer establishes channels. Dial may block for as long as pairing and
// negotiation take; it must return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, peer string) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, peer string) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, peer string) (Channel, error) { return f(ctx, peer) }

// NameResolver is implemented by channels whose peer name is only available
// after a further lookup.
type NameResolver interface {
	ResolveName(ctx context.Context) (string, error)
}
