package link

import "sync"

// Executor runs callbacks on a designated execution context.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a scheduling function to the Executor interface.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

type eventKind int

const (
	evStatus eventKind = iota
	evData
	evName
	evWrite
	evNotice
)

type event struct {
	kind   eventKind
	status Status
	data   []byte
	text   string
}

// Dispatcher delivers link events to a Listener in the order they were
// posted. Delivery happens on the goroutine that flushes the queue, or on the
// configured Executor. Events posted from inside a callback are queued behind
// it instead of being delivered recursively.
type Dispatcher struct {
	exec Executor

	mu       sync.Mutex
	listener Listener
	queue    []event
	draining bool
}

// NewDispatcher returns a dispatcher. A nil exec delivers events directly on
// the flushing goroutine.
func NewDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec}
}

// SetListener replaces the listener. A nil listener drops events.
func (d *Dispatcher) SetListener(l Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// post queues ev without delivering it. Safe to call while holding other locks.
func (d *Dispatcher) post(ev event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
}

// Flush delivers queued events. If another goroutine (or an outer frame of
// this one) is already delivering, Flush returns and that drainer picks the
// events up, which keeps a single total order.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue[0] = event{}
		d.queue = d.queue[1:]
		l := d.listener
		d.mu.Unlock()

		if l != nil {
			d.deliver(l, ev)
		}

		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(l Listener, ev event) {
	fn := func() { dispatchTo(l, ev) }
	if d.exec == nil {
		fn()
		return
	}
	d.exec.Execute(fn)
}

func dispatchTo(l Listener, ev event) {
	switch ev.kind {
	case evStatus:
		l.OnStatusChange(ev.status)
	case evData:
		l.OnDataRead(ev.data)
	case evName:
		l.OnDeviceName(ev.text)
	case evWrite:
		l.OnDataWrite(ev.data)
	case evNotice:
		l.OnNotice(ev.text)
	}
}

// Loop is an Executor backed by one goroutine that runs callbacks in the order
// they were scheduled. Execute never blocks, so callbacks may schedule more
// work on their own loop.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		fns := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
		if len(fns) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

// Execute schedules fn on the loop. Callbacks scheduled after Close are dropped.
func (l *Loop) Execute(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Close stops the loop after the already queued callbacks ran and waits for it
// to exit. It must not be called from a callback.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
