//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/chaz8081/btserial/internal/link"
)

const (
	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
	propsIface           = "org.freedesktop.DBus.Properties"
)

var pathCounter uint64

// BlueZDialer connects to the Serial Port Profile of remote devices through
// BlueZ. It registers a client-role Profile1 object on first use; BlueZ hands
// each RFCOMM socket to that object once ConnectProfile succeeds.
type BlueZDialer struct {
	adapter string

	mu      sync.Mutex
	closed  bool
	bus     *dbus.Conn
	prof    *profile
	path    dbus.ObjectPath
	cleanup []func()
}

// NewBlueZDialer returns a dialer using the named controller, e.g. "hci0".
func NewBlueZDialer(adapter string) *BlueZDialer {
	if adapter == "" {
		adapter = "hci0"
	}
	return &BlueZDialer{adapter: adapter}
}

var _ link.Dialer = (*BlueZDialer)(nil)

// profile implements org.bluez.Profile1 and routes NewConnection calls to the
// Dial waiting for that device.
type profile struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers the RFCOMM socket FD to the waiting Dial.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[dev]
	if !ok {
		// No Dial is waiting for this device; close FD and reject.
		_ = unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
	delete(p.waiters, dev)
	ch <- int(fd) // buffered, one delivery per waiter
	return nil
}

func (p *profile) expect(dev dbus.ObjectPath) chan int {
	ch := make(chan int, 1)
	p.mu.Lock()
	p.waiters[dev] = ch
	p.mu.Unlock()
	return ch
}

// abandon stops waiting for dev and closes a socket delivered in the meantime.
func (p *profile) abandon(dev dbus.ObjectPath, ch chan int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiters[dev] == ch {
		delete(p.waiters, dev)
	}
	select {
	case fd := <-ch:
		_ = unix.Close(fd)
	default:
	}
}

// ensureProfileLocked connects to the system bus and registers the client
// profile if not yet done.
func (d *BlueZDialer) ensureProfileLocked() error {
	if d.prof != nil {
		return nil
	}
	if d.bus == nil {
		c, err := dbus.SystemBus()
		if err != nil {
			return fmt.Errorf("rfcomm: connect system bus: %w", err)
		}
		d.bus = c
		// Close the bus last during cleanup.
		d.cleanup = append(d.cleanup, func() { d.bus.Close() })
	}

	prof := &profile{waiters: make(map[dbus.ObjectPath]chan int)}
	id := atomic.AddUint64(&pathCounter, 1)
	path := dbus.ObjectPath("/com/github/chaz8081/btserial/client/p" + strconv.FormatUint(id, 10))
	if err := d.bus.Export(prof, path, profileInterfaceName); err != nil {
		return fmt.Errorf("rfcomm: export client profile: %w", err)
	}
	pm := d.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	optsMap := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, SPPUUID, optsMap); call.Err != nil {
		_ = d.bus.Export(nil, path, profileInterfaceName)
		return fmt.Errorf("rfcomm: RegisterProfile(client): %w", call.Err)
	}
	d.cleanup = append(d.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, path).Err
		_ = d.bus.Export(nil, path, profileInterfaceName)
	})
	d.prof = prof
	d.path = path
	return nil
}

// Dial asks BlueZ to connect the Serial Port Profile of the device with MAC
// address peer and waits for the resulting socket. The device must already
// be paired.
func (d *BlueZDialer) Dial(ctx context.Context, peer string) (link.Channel, error) {
	devPath, err := DevicePath(d.adapter, peer)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("rfcomm: dialer closed")
	}
	if err := d.ensureProfileLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	bus := d.bus
	prof := d.prof
	d.mu.Unlock()

	fdc := prof.expect(devPath)
	devObj := bus.Object(bluezService, devPath)
	if call := devObj.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, SPPUUID); call.Err != nil {
		prof.abandon(devPath, fdc)
		return nil, fmt.Errorf("rfcomm: ConnectProfile %s: %w", peer, call.Err)
	}

	var fd int
	select {
	case <-ctx.Done():
		prof.abandon(devPath, fdc)
		return nil, fmt.Errorf("rfcomm: connect canceled: %w", ctx.Err())
	case fd = <-fdc:
	}

	// A non-blocking descriptor lets the runtime poller unblock Read on Close.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: socket setup: %w", err)
	}
	f := os.NewFile(uintptr(fd), "rfcomm:"+peer)

	slog.Info("[RFCOMM] connected", "peer", peer, "path", devPath)
	return &bluezChannel{
		StreamChannel: NewStreamChannel(f, peer, ""),
		dev:           devObj,
	}, nil
}

// Close unregisters the profile and closes the bus connection. Channels
// already dialed stay open.
func (d *BlueZDialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cleanup := d.cleanup
	d.cleanup = nil
	d.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}

// bluezChannel looks the peer's display name up on its Device1 object.
type bluezChannel struct {
	*StreamChannel
	dev dbus.BusObject
}

var _ link.NameResolver = (*bluezChannel)(nil)

func (c *bluezChannel) ResolveName(ctx context.Context) (string, error) {
	var v dbus.Variant
	call := c.dev.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "Alias")
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&v); err != nil {
		return "", err
	}
	name, _ := v.Value().(string)
	return name, nil
}

// MACFromPath extracts the device address from a BlueZ object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func MACFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	mac := s[idx+5:]
	mac = strings.ReplaceAll(mac, "_", ":")
	return mac
}

// DevicePath builds the BlueZ object path of the device with address mac on
// the given controller.
func DevicePath(adapter, mac string) (dbus.ObjectPath, error) {
	if !ValidMAC(mac) {
		return "", fmt.Errorf("rfcomm: invalid device address %q", mac)
	}
	p := "/org/bluez/" + adapter + "/dev_" + strings.ToUpper(strings.ReplaceAll(mac, ":", "_"))
	return dbus.ObjectPath(p), nil
}
