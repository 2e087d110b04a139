package link

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var got []string
	d.SetListener(ListenerFuncs{
		StatusChange: func(s Status) { got = append(got, "status:"+s.String()) },
		DataRead:     func(b []byte) { got = append(got, "data:"+string(b)) },
		Notice:       func(m string) { got = append(got, "notice:"+m) },
	})

	d.post(event{kind: evStatus, status: Connecting})
	d.post(event{kind: evData, data: []byte("x")})
	d.post(event{kind: evNotice, text: "n"})
	d.Flush()

	want := []string{"status:connecting", "data:x", "notice:n"}
	if !equalStrings(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDispatcherQueuesEventsPostedFromCallback(t *testing.T) {
	d := NewDispatcher(nil)
	var got []string
	var depth int
	d.SetListener(ListenerFuncs{
		StatusChange: func(s Status) {
			depth++
			defer func() { depth-- }()
			if depth > 1 {
				t.Error("callback re-entered")
			}
			got = append(got, s.String())
			if s == Connected {
				d.post(event{kind: evStatus, status: Idle})
				d.Flush()
			}
		},
	})

	d.post(event{kind: evStatus, status: Connected})
	d.post(event{kind: evStatus, status: Connecting})
	d.Flush()

	want := []string{"connected", "connecting", "idle"}
	if !equalStrings(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDispatcherNilListenerDropsEvents(t *testing.T) {
	d := NewDispatcher(nil)
	d.post(event{kind: evStatus, status: Connected})
	d.Flush()

	var got int
	d.SetListener(ListenerFuncs{StatusChange: func(Status) { got++ }})
	d.Flush()
	if got != 0 {
		t.Errorf("listener saw %d events posted before it was set, want 0", got)
	}
}

func TestDispatcherUsesExecutor(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	d := NewDispatcher(loop)
	d.SetListener(ListenerFuncs{
		DataRead: func(b []byte) {
			mu.Lock()
			got = append(got, int(b[0]))
			n := len(got)
			mu.Unlock()
			if n == 100 {
				close(done)
			}
		},
	})

	for i := 0; i < 100; i++ {
		d.post(event{kind: evData, data: []byte{byte(i)}})
		d.Flush()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for executor delivery")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d = %d, want %d", i, v, i)
		}
	}
}

func TestLoopRunsScheduledWorkInOrder(t *testing.T) {
	loop := NewLoop()
	gate := make(chan struct{})
	loop.Execute(func() { <-gate })

	var got []string
	loop.Execute(func() {
		got = append(got, "a")
		loop.Execute(func() { got = append(got, "c") })
	})
	loop.Execute(func() { got = append(got, "b") })
	close(gate)
	loop.Close()

	want := []string{"a", "b", "c"}
	if !equalStrings(got, want) {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestLoopDropsWorkAfterClose(t *testing.T) {
	loop := NewLoop()
	loop.Close()
	ran := false
	loop.Execute(func() { ran = true })
	loop.Close()
	if ran {
		t.Error("callback ran after Close")
	}
}

func TestListenersFanOut(t *testing.T) {
	var got []string
	mk := func(name string) Listener {
		return ListenerFuncs{DeviceName: func(n string) { got = append(got, fmt.Sprintf("%s:%s", name, n)) }}
	}
	Listeners{mk("a"), mk("b")}.OnDeviceName("HC-05")

	want := []string{"a:HC-05", "b:HC-05"}
	if !equalStrings(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestExecutorFuncSchedules(t *testing.T) {
	var scheduled int
	exec := ExecutorFunc(func(fn func()) {
		scheduled++
		fn()
	})

	var got []Status
	d := NewDispatcher(exec)
	d.SetListener(ListenerFuncs{StatusChange: func(s Status) { got = append(got, s) }})
	d.post(event{kind: evStatus, status: Connecting})
	d.post(event{kind: evStatus, status: Connected})
	d.Flush()

	if scheduled == 0 {
		t.Error("executor was never used")
	}
	if len(got) != 2 || got[0] != Connecting || got[1] != Connected {
		t.Errorf("got %v, want [Connecting Connected]", got)
	}
}
