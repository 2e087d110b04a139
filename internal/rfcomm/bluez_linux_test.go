package rfcomm

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

func TestDevicePath(t *testing.T) {
	p, err := DevicePath("hci0", "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("DevicePath() error = %v", err)
	}
	if p != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Errorf("DevicePath() = %q", p)
	}
	if mac := MACFromPath(p); mac != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MACFromPath() = %q, want AA:BB:CC:DD:EE:FF", mac)
	}
}

func TestDevicePathRejectsBadAddress(t *testing.T) {
	if _, err := DevicePath("hci0", "/dev/rfcomm0"); err == nil {
		t.Error("DevicePath() error = nil, want error")
	}
}

func TestMACFromPathWithoutDevice(t *testing.T) {
	if mac := MACFromPath("/org/bluez/hci0"); mac != "" {
		t.Errorf("MACFromPath() = %q, want empty", mac)
	}
}

const testDev = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

// testFD returns the read end of a fresh pipe.
func testFD(t *testing.T) int {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return fds[0]
}

func TestProfileDeliversToWaiter(t *testing.T) {
	p := &profile{waiters: make(map[dbus.ObjectPath]chan int)}
	ch := p.expect(testDev)
	fd := testFD(t)

	if derr := p.NewConnection(testDev, dbus.UnixFD(fd), nil); derr != nil {
		t.Fatalf("NewConnection() error = %v", derr)
	}
	got := <-ch
	if got != fd {
		t.Errorf("delivered fd %d, want %d", got, fd)
	}
	_ = unix.Close(got)
	if len(p.waiters) != 0 {
		t.Errorf("%d waiters left, want 0", len(p.waiters))
	}
}

func TestProfileRejectsUnexpectedConnection(t *testing.T) {
	p := &profile{waiters: make(map[dbus.ObjectPath]chan int)}
	derr := p.NewConnection(testDev, dbus.UnixFD(testFD(t)), nil)
	if derr == nil {
		t.Fatal("NewConnection() error = nil, want rejection")
	}
	if derr.Name != "org.bluez.Error.Rejected" {
		t.Errorf("error name = %q", derr.Name)
	}
}

func TestProfileAbandonDropsWaiter(t *testing.T) {
	p := &profile{waiters: make(map[dbus.ObjectPath]chan int)}
	ch := p.expect(testDev)
	if derr := p.NewConnection(testDev, dbus.UnixFD(testFD(t)), nil); derr != nil {
		t.Fatalf("NewConnection() error = %v", derr)
	}
	p.abandon(testDev, ch)

	select {
	case fd := <-ch:
		t.Errorf("fd %d still queued after abandon", fd)
	default:
	}
	if derr := p.NewConnection(testDev, dbus.UnixFD(testFD(t)), nil); derr == nil {
		t.Error("NewConnection() after abandon was accepted")
	}
}
