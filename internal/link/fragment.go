package link

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fragment splits payload into pieces of at most mtu bytes. All pieces but
// the last are exactly mtu long. An mtu <= 0 means the transport has no limit
// and payload is returned as a single fragment. Returns nil for an empty
// payload.
func Fragment(payload []byte, mtu int) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	if mtu <= 0 || len(payload) <= mtu {
		return [][]byte{clone(payload)}
	}

	frags := make([][]byte, 0, (len(payload)+mtu-1)/mtu)
	for start := 0; start < len(payload); start += mtu {
		end := min(start+mtu, len(payload))
		frags = append(frags, clone(payload[start:end]))
	}
	return frags
}

func clone(p []byte) []byte {
	cp := make([]byte, len(p))
	copy(cp, p)
	return cp
}

// Sender is the outbound half of a Channel.
type Sender interface {
	Send(ctx context.Context, fragment []byte) error
}

// FragmentingWriter drives fragment sets to a Sender one fragment at a time.
// Only one set is in flight; concurrent Write calls wait their turn and never
// interleave.
type FragmentingWriter struct {
	sender  Sender
	ctx     context.Context // session lifetime; cancelled on teardown
	timeout time.Duration
	onSent  func(fragment []byte)

	slot chan struct{}

	mu         sync.Mutex
	mtu        int
	negotiated bool
}

// NewFragmentingWriter returns a writer bound to sender for the lifetime of
// ctx. mtu <= 0 disables fragmentation. onSent, if non-nil, is called with
// each confirmed fragment while the writer is still busy, so it must not
// block on another Write. A positive timeout bounds the wait for each
// confirmation.
func NewFragmentingWriter(ctx context.Context, sender Sender, mtu int, timeout time.Duration, onSent func([]byte)) *FragmentingWriter {
	return &FragmentingWriter{
		sender:  sender,
		ctx:     ctx,
		timeout: timeout,
		onSent:  onSent,
		slot:    make(chan struct{}, 1),
		mtu:     mtu,
	}
}

// MTU returns the fragment size used for the next Write.
func (w *FragmentingWriter) MTU() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mtu
}

// UpdateMTU applies a transport-negotiated MTU. Only the first positive value
// is accepted; it affects writes started afterwards.
func (w *FragmentingWriter) UpdateMTU(mtu int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if mtu <= 0 || w.negotiated {
		return false
	}
	w.mtu = mtu
	w.negotiated = true
	return true
}

// Write splits payload with the current MTU and sends the fragments in order,
// each after the previous one was confirmed. The first failure abandons the
// rest of the set. Write returns early when ctx or the writer's session is
// cancelled.
func (w *FragmentingWriter) Write(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	select {
	case w.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.slot }()

	frags := Fragment(payload, w.MTU())
	for i, frag := range frags {
		if err := w.halted(ctx); err != nil {
			return err
		}
		if err := w.sendOne(ctx, frag); err != nil {
			if herr := w.halted(ctx); herr != nil {
				return herr
			}
			return fmt.Errorf("%w: fragment %d/%d: %w", ErrWriteFailed, i+1, len(frags), err)
		}
		if err := w.halted(ctx); err != nil {
			return err
		}
		if w.onSent != nil {
			w.onSent(frag)
		}
	}
	return nil
}

// halted reports whether the session or the call was cancelled. The session
// is checked directly since the AfterFunc linking it to ctx may not have run.
func (w *FragmentingWriter) halted(ctx context.Context) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (w *FragmentingWriter) sendOne(ctx context.Context, frag []byte) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.sender.Send(ctx, frag)
}
