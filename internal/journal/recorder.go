package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/btserial/internal/link"
)

// Recorder is a link.Listener that journals every event.
type Recorder struct {
	db      *DB
	peer    func() string
	timeout time.Duration
}

// NewRecorder journals into db. peer reports the current peer id for each
// entry and may be nil.
func NewRecorder(db *DB, peer func() string) *Recorder {
	return &Recorder{db: db, peer: peer, timeout: 2 * time.Second}
}

var _ link.Listener = (*Recorder)(nil)

func (r *Recorder) record(e Entry) {
	if r.peer != nil {
		e.Peer = r.peer()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.db.Record(ctx, e); err != nil {
		slog.Warn("[JOURNAL] record failed", "kind", e.Kind, "error", err)
	}
}

func (r *Recorder) OnStatusChange(s link.Status) {
	r.record(Entry{Kind: KindStatus, Text: s.String()})
}

func (r *Recorder) OnDataRead(frame []byte) {
	r.record(Entry{Kind: KindFrame, Text: string(frame), Payload: frame})
}

func (r *Recorder) OnDeviceName(name string) {
	r.record(Entry{Kind: KindName, Text: name})
}

func (r *Recorder) OnDataWrite(fragment []byte) {
	r.record(Entry{Kind: KindWrite, Text: string(fragment), Payload: fragment})
}

func (r *Recorder) OnNotice(msg string) {
	r.record(Entry{Kind: KindNotice, Text: msg})
}
