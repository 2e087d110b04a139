// Package bridge exposes a link service over HTTP: a status and control API
// and a WebSocket stream that mirrors link events and accepts lines to send.
package bridge

import (
	"bytes"
	"sync"
	"time"

	"github.com/chaz8081/btserial/internal/link"
)

// EventType classifies a link event for WebSocket clients.
type EventType string

const (
	EventStatus EventType = "status"
	EventFrame  EventType = "frame"
	EventName   EventType = "device_name"
	EventWrite  EventType = "write"
	EventNotice EventType = "notice"
)

// Event is the JSON envelope broadcast to WebSocket clients. Frame and write
// events carry the exact bytes in Data (base64); Text is a lossy rendering
// for display.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Data      []byte    `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans link events out to all registered WebSocket clients. It
// implements link.Listener.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

var _ link.Listener = (*EventBus)(nil)

// Subscribe registers a client. The returned function unsubscribes and
// closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish sends e to all current subscribers. Slow consumers whose buffer is
// full miss the event so link callbacks never stall.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *EventBus) OnStatusChange(s link.Status) {
	b.Publish(Event{Type: EventStatus, Text: s.String()})
}

func (b *EventBus) OnDataRead(frame []byte) {
	b.Publish(Event{Type: EventFrame, Text: string(frame), Data: bytes.Clone(frame)})
}

func (b *EventBus) OnDeviceName(name string) {
	b.Publish(Event{Type: EventName, Text: name})
}

func (b *EventBus) OnDataWrite(fragment []byte) {
	b.Publish(Event{Type: EventWrite, Text: string(fragment), Data: bytes.Clone(fragment)})
}

func (b *EventBus) OnNotice(msg string) {
	b.Publish(Event{Type: EventNotice, Text: msg})
}
