package link

import "sync/atomic"

// Stats is a snapshot of link counters.
type Stats struct {
	Connects       uint64 // successful establishments
	ConnectFails   uint64
	ConnectionLost uint64
	FramesReceived uint64
	BytesReceived  uint64
	FragmentsSent  uint64
	BytesSent      uint64
	WriteErrors    uint64
}

type counters struct {
	connects       atomic.Uint64
	connectFails   atomic.Uint64
	connectionLost atomic.Uint64
	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64
	fragmentsSent  atomic.Uint64
	bytesSent      atomic.Uint64
	writeErrors    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Connects:       c.connects.Load(),
		ConnectFails:   c.connectFails.Load(),
		ConnectionLost: c.connectionLost.Load(),
		FramesReceived: c.framesReceived.Load(),
		BytesReceived:  c.bytesReceived.Load(),
		FragmentsSent:  c.fragmentsSent.Load(),
		BytesSent:      c.bytesSent.Load(),
		WriteErrors:    c.writeErrors.Load(),
	}
}
