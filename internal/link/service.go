package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const readChunkSize = 512

// Option configures a Service.
type Option func(*Service)

// WithExecutor marshals listener callbacks onto exec instead of running them
// on the goroutine where the event occurred.
func WithExecutor(exec Executor) Option {
	return func(s *Service) { s.disp = NewDispatcher(exec) }
}

// Service is the connection state machine. It owns the current Status, starts
// and stops the per-connection frame reader and fragmenting writer, and
// reports everything through its Listener. All methods are safe for
// concurrent use.
type Service struct {
	cfg    Config
	dialer Dialer
	disp   *Dispatcher

	mu      sync.Mutex
	status  Status
	peer    string
	gen     uint64             // bumped by every Connect, Disconnect and Stop
	cancel  context.CancelFunc // cancels the in-flight dial or the active session
	sess    *session
	stopped bool

	stats counters
}

// session is the state bound to one established channel.
type session struct {
	ch     Channel
	ctx    context.Context
	writer *FragmentingWriter
	done   chan struct{} // closed when the read loop exits
}

// New creates an idle Service. Configuration errors are reported here rather
// than on the data path.
func New(cfg Config, dialer Dialer, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: nil dialer", ErrInvalidConfig)
	}
	s := &Service{
		cfg:    cfg,
		dialer: dialer,
		disp:   NewDispatcher(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetListener registers the listener for all subsequent events. A nil
// listener discards events.
func (s *Service) SetListener(l Listener) { s.disp.SetListener(l) }

// Config returns the configuration the service was created with.
func (s *Service) Config() Config { return s.cfg }

// Status returns the current connection status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Peer returns the identifier passed to the most recent Connect.
func (s *Service) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Stats returns a snapshot of the link counters.
func (s *Service) Stats() Stats { return s.stats.snapshot() }

// Connect tears down any previous attempt or connection and starts
// establishing a link to peer in the background. The outcome is reported
// through the listener: Connected on success, or Idle plus a notice on
// failure.
func (s *Service) Connect(peer string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.peer = peer
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStatusLocked(Connecting)
	s.mu.Unlock()
	s.disp.Flush()

	slog.Info("[LINK] connecting", "peer", peer)
	go s.dial(ctx, gen, peer)
	return nil
}

// Disconnect cancels a pending connect or closes the active connection. It is
// a no-op when the service is already Idle.
func (s *Service) Disconnect() {
	s.mu.Lock()
	if s.status == Idle {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.gen++
	s.setStatusLocked(Idle)
	peer := s.peer
	s.mu.Unlock()
	s.disp.Flush()

	slog.Info("[LINK] disconnected", "peer", peer)
}

// Stop disconnects and makes the service unusable. Further Connect and Write
// calls return ErrStopped.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.teardownLocked()
	s.gen++
	if s.status != Idle {
		s.setStatusLocked(Idle)
	}
	s.mu.Unlock()
	s.disp.Flush()
}

// Write sends payload to the connected peer, split to the current MTU. It
// blocks until every fragment was confirmed, a fragment failed, ctx was
// cancelled, or the connection ended. Write returns ErrNotConnected without
// touching the transport unless the status is Connected.
func (s *Service) Write(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.status != Connected || s.sess == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	sess := s.sess
	s.mu.Unlock()

	if len(payload) == 0 {
		return nil
	}

	err := sess.writer.Write(ctx, payload)
	// fragmentSent only queues; deliver once the writer slot is free.
	s.disp.Flush()
	switch {
	case err == nil:
		return nil
	case sess.ctx.Err() != nil:
		return ErrNotConnected
	case errors.Is(err, ErrWriteFailed):
		s.mu.Lock()
		if s.sess == sess {
			s.stats.writeErrors.Add(1)
			s.disp.post(event{kind: evNotice, text: NoticeWriteFailed})
		}
		s.mu.Unlock()
		s.disp.Flush()
		slog.Warn("[LINK] write failed", "error", err)
		return err
	default:
		return err
	}
}

func (s *Service) dial(ctx context.Context, gen uint64, peer string) {
	ch, err := s.dialer.Dial(ctx, peer)

	s.mu.Lock()
	if gen != s.gen || s.stopped {
		// Superseded by a newer Connect, a Disconnect or Stop.
		s.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err == nil && ch == nil {
		err = errors.New("dialer returned no channel")
	}
	if err != nil {
		s.cancel()
		s.cancel = nil
		s.stats.connectFails.Add(1)
		s.setStatusLocked(Idle)
		s.disp.post(event{kind: evNotice, text: NoticeConnectFailed})
		s.mu.Unlock()
		s.disp.Flush()
		slog.Warn("[LINK] connect failed", "peer", peer, "error", err)
		return
	}

	sess := s.startSessionLocked(ctx, ch)
	s.stats.connects.Add(1)
	s.setStatusLocked(Connected)
	resolver, async := ch.(NameResolver)
	if !async {
		s.disp.post(event{kind: evName, text: peerName(ch, peer)})
	}
	mtu := sess.writer.MTU()
	s.mu.Unlock()
	s.disp.Flush()

	slog.Info("[LINK] connected", "peer", peer, "variant", ch.Variant(), "mtu", mtu)
	go s.readLoop(sess)
	if async {
		go s.resolveName(sess, resolver, peer)
	}
}

func (s *Service) startSessionLocked(ctx context.Context, ch Channel) *session {
	sess := &session{
		ch:   ch,
		ctx:  ctx,
		done: make(chan struct{}),
	}
	mtu := 0
	if ch.Variant() == VariantChunked {
		mtu = s.cfg.DefaultMTU
	}
	sess.writer = NewFragmentingWriter(ctx, ch, mtu, s.cfg.WriteTimeout, func(frag []byte) {
		s.fragmentSent(sess, frag)
	})
	if ch.Variant() == VariantChunked {
		sess.writer.UpdateMTU(ch.MTU())
	}
	s.sess = sess
	return sess
}

// readLoop feeds inbound bytes through a FrameReader until the channel fails
// or the session is torn down.
func (s *Service) readLoop(sess *session) {
	defer close(sess.done)

	reader := NewFrameReader(s.cfg.BufferSize, s.cfg.Delimiter)
	buf := make([]byte, readChunkSize)
	for {
		n, err := sess.ch.Receive(buf)
		if n > 0 {
			s.mu.Lock()
			if s.sess != sess {
				s.mu.Unlock()
				return
			}
			s.stats.bytesReceived.Add(uint64(n))
			reader.FeedChunk(buf[:n], func(frame []byte) {
				s.stats.framesReceived.Add(1)
				s.disp.post(event{kind: evData, data: frame})
			})
			s.mu.Unlock()
			s.disp.Flush()
		}
		if err != nil {
			s.lost(sess, err)
			return
		}
	}
}

// lost handles a read failure. Failures of a session that was already torn
// down on purpose are ignored.
func (s *Service) lost(sess *session, err error) {
	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.gen++
	s.stats.connectionLost.Add(1)
	s.setStatusLocked(Idle)
	s.disp.post(event{kind: evNotice, text: NoticeConnectionLost})
	peer := s.peer
	s.mu.Unlock()
	s.disp.Flush()

	slog.Warn("[LINK] connection lost", "peer", peer, "error", err)
}

func (s *Service) fragmentSent(sess *session, frag []byte) {
	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return
	}
	s.stats.fragmentsSent.Add(1)
	s.stats.bytesSent.Add(uint64(len(frag)))
	s.disp.post(event{kind: evWrite, data: frag})
	s.mu.Unlock()
}

func (s *Service) resolveName(sess *session, r NameResolver, peer string) {
	name, err := r.ResolveName(sess.ctx)
	if err != nil || name == "" {
		if sess.ctx.Err() != nil {
			return
		}
		slog.Debug("[LINK] peer name lookup failed", "peer", peer, "error", err)
		name = peerName(sess.ch, peer)
	}

	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return
	}
	s.disp.post(event{kind: evName, text: name})
	s.mu.Unlock()
	s.disp.Flush()
}

// teardownLocked cancels the dial or session and closes the channel. The
// caller holds mu and decides the resulting status.
func (s *Service) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.sess != nil {
		if err := s.sess.ch.Close(); err != nil {
			slog.Debug("[LINK] close channel", "error", err)
		}
		s.sess = nil
	}
}

func (s *Service) setStatusLocked(status Status) {
	s.status = status
	s.disp.post(event{kind: evStatus, status: status})
}

func peerName(ch Channel, peer string) string {
	if name := ch.PeerName(); name != "" {
		return name
	}
	return peer
}
