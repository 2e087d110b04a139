package link

// Listener receives link events. Callbacks run on the dispatcher's execution
// context and must not block for long.
type Listener interface {
	OnStatusChange(status Status)
	// OnDataRead receives one frame, delimiter excluded. The link never reuses
	// the slice; listeners must treat it as read-only.
	OnDataRead(frame []byte)
	OnDeviceName(name string)
	// OnDataWrite receives each fragment once the transport confirmed it.
	OnDataWrite(fragment []byte)
	// OnNotice receives human-readable failure notices such as "connection lost".
	OnNotice(message string)
}

// ListenerFuncs adapts optional functions to the Listener interface. Nil
// fields are ignored.
type ListenerFuncs struct {
	StatusChange func(Status)
	DataRead     func([]byte)
	DeviceName   func(string)
	DataWrite    func([]byte)
	Notice       func(string)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnStatusChange(s Status) {
	if f.StatusChange != nil {
		f.StatusChange(s)
	}
}

func (f ListenerFuncs) OnDataRead(frame []byte) {
	if f.DataRead != nil {
		f.DataRead(frame)
	}
}

func (f ListenerFuncs) OnDeviceName(name string) {
	if f.DeviceName != nil {
		f.DeviceName(name)
	}
}

func (f ListenerFuncs) OnDataWrite(fragment []byte) {
	if f.DataWrite != nil {
		f.DataWrite(fragment)
	}
}

func (f ListenerFuncs) OnNotice(msg string) {
	if f.Notice != nil {
		f.Notice(msg)
	}
}

// Listeners fans every event out to each listener in order.
type Listeners []Listener

var _ Listener = Listeners(nil)

func (ls Listeners) OnStatusChange(s Status) {
	for _, l := range ls {
		l.OnStatusChange(s)
	}
}

func (ls Listeners) OnDataRead(frame []byte) {
	for _, l := range ls {
		l.OnDataRead(frame)
	}
}

func (ls Listeners) OnDeviceName(name string) {
	for _, l := range ls {
		l.OnDeviceName(name)
	}
}

func (ls Listeners) OnDataWrite(fragment []byte) {
	for _, l := range ls {
		l.OnDataWrite(fragment)
	}
}

func (ls Listeners) OnNotice(msg string) {
	for _, l := range ls {
		l.OnNotice(msg)
	}
}
