// Package bluez connects to HM-10 style BLE displays through the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/mcdev12/scoreboard/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// HM-10 serial-over-GATT service. Displays accept command bytes on the characteristic.
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

const (
	busName           = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	propsIface        = "org.freedesktop.DBus.Properties"
	objectManagerName = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Config selects the adapter and the service discovery timing.
type Config struct {
	Adapter         string
	ResolveTimeout  time.Duration
	PollInterval    time.Duration
	SignalQueueSize int
}

// DefaultConfig uses hci0.
func DefaultConfig() Config {
	return Config{
		Adapter:         "hci0",
		ResolveTimeout:  15 * time.Second,
		PollInterval:    200 * time.Millisecond,
		SignalQueueSize: 16,
	}
}

// Connector dials displays over the system bus. It implements transport.Connector and
// transport.Scanner.
type Connector struct {
	conn   *dbus.Conn
	config Config
}

// NewConnector attaches to the system bus and checks that BlueZ is running.
func NewConnector(config Config) (*Connector, error) {
	if config.Adapter == "" {
		config.Adapter = DefaultConfig().Adapter
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = DefaultConfig().ResolveTimeout
	}
	if config.SignalQueueSize <= 0 {
		config.SignalQueueSize = DefaultConfig().SignalQueueSize
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &Connector{conn: conn, config: config}, nil
}

// Dial connects the device and waits for GATT service discovery.
func (c *Connector) Dial(ctx context.Context, address string) (transport.Link, error) {
	if err := validateAddress(address); err != nil {
		return nil, &transport.ConnectError{Status: transport.StatusGattError, Err: err}
	}
	path := devicePath(c.config.Adapter, address)
	device := c.conn.Object(busName, path)

	connected, err := c.getBool(path, deviceIface, "Connected")
	if err != nil || !connected {
		if call := device.CallWithContext(ctx, deviceIface+".Connect", 0); call.Err != nil {
			return nil, &transport.ConnectError{Status: statusOf(call.Err), Err: call.Err}
		}
	}

	if err := c.waitServicesResolved(ctx, path); err != nil {
		device.Call(deviceIface+".Disconnect", 0)
		return nil, &transport.ConnectError{Status: transport.StatusConnTimeout, Err: err}
	}

	l := &link{
		conn:    c.conn,
		address: address,
		path:    path,
		signals: make(chan *dbus.Signal, c.config.SignalQueueSize),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	if err := l.watch(); err != nil {
		device.Call(deviceIface+".Disconnect", 0)
		return nil, fmt.Errorf("watch %s: %w", address, err)
	}
	log.Debug().Str("address", address).Str("path", string(path)).Msg("bluez device ready")
	return l, nil
}

func (c *Connector) waitServicesResolved(ctx context.Context, path dbus.ObjectPath) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ResolveTimeout)
	defer cancel()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		resolved, err := c.getBool(path, deviceIface, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service discovery: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Scan runs LE discovery on the adapter and reports every device seen, once per address,
// until ctx is done.
func (c *Connector) Scan(ctx context.Context, found func(address, name string)) error {
	adapter := c.conn.Object(busName, adapterPath(c.config.Adapter))
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("set discovery filter: %w", call.Err)
	}
	if call := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("start discovery: %w", call.Err)
	}
	defer adapter.Call(adapterIface+".StopDiscovery", 0)

	seen := make(map[string]bool)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		objects, err := c.managedObjects(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("bluez object listing failed")
			continue
		}
		for _, d := range discovered(objects, c.config.Adapter) {
			if seen[d.address] {
				continue
			}
			seen[d.address] = true
			found(d.address, d.name)
		}
	}
}

func (c *Connector) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	call := c.conn.Object(busName, "/").CallWithContext(ctx, objectManagerName+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}
	return objects, nil
}

func (c *Connector) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := c.conn.Object(busName, path).GetProperty(iface + "." + prop)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.%s has type %T", iface, prop, v.Value())
	}
	return b, nil
}

// link is one connected device. The write endpoint is the HM-10 characteristic object path.
type link struct {
	conn    *dbus.Conn
	address string
	path    dbus.ObjectPath
	signals chan *dbus.Signal
	done    chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func (l *link) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(l.path),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
}

// watch turns a Connected=false property change into a closed Done channel.
func (l *link) watch() error {
	if err := l.conn.AddMatchSignal(l.matchOptions()...); err != nil {
		return err
	}
	l.conn.Signal(l.signals)
	go func() {
		defer close(l.done)
		for {
			select {
			case <-l.stop:
				return
			case sig, ok := <-l.signals:
				if !ok {
					return
				}
				if sig.Path == l.path && disconnectedSignal(sig) {
					log.Debug().Str("address", l.address).Msg("bluez reported disconnect")
					return
				}
			}
		}
	}()
	return nil
}

func (l *link) Resolve(ctx context.Context) (transport.Endpoint, error) {
	var objects managedObjects
	call := l.conn.Object(busName, "/").CallWithContext(ctx, objectManagerName+".GetManagedObjects", 0)
	if call.Err != nil {
		return "", fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return "", fmt.Errorf("decode managed objects: %w", err)
	}
	char, ok := findCharacteristic(objects, l.path, CharacteristicUUID)
	if !ok {
		return "", fmt.Errorf("characteristic %s not found on %s", CharacteristicUUID, l.address)
	}
	return transport.Endpoint(char), nil
}

// Write uses write-without-response; the display never acknowledges.
func (l *link) Write(ctx context.Context, ep transport.Endpoint, p []byte) error {
	obj := l.conn.Object(busName, dbus.ObjectPath(ep))
	call := obj.CallWithContext(ctx, gattCharIface+".WriteValue", 0, p, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	if call.Err != nil {
		return fmt.Errorf("write value: %w", call.Err)
	}
	return nil
}

func (l *link) Done() <-chan struct{} { return l.done }

func (l *link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		l.conn.RemoveSignal(l.signals)
		_ = l.conn.RemoveMatchSignal(l.matchOptions()...)
		if call := l.conn.Object(busName, l.path).Call(deviceIface+".Disconnect", 0); call.Err != nil {
			err = fmt.Errorf("disconnect %s: %w", l.address, call.Err)
		}
	})
	return err
}

// disconnectedSignal reports whether sig is a Device1 PropertiesChanged with Connected=false.
// Body: [interface string, changed map[string]Variant, invalidated []string].
func disconnectedSignal(sig *dbus.Signal) bool {
	if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}

type advert struct {
	address string
	name    string
}

// discovered lists the devices BlueZ knows under the adapter, sorted by address.
func discovered(objects managedObjects, adapter string) []advert {
	prefix := string(adapterPath(adapter)) + "/"
	var out []advert
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		address, _ := props["Address"].Value().(string)
		if address == "" {
			continue
		}
		name, _ := props["Alias"].Value().(string)
		if n, ok := props["Name"].Value().(string); ok && n != "" {
			name = n
		}
		out = append(out, advert{address: address, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address < out[j].address })
	return out
}

// findCharacteristic looks for a characteristic with the given UUID below the device path.
func findCharacteristic(objects managedObjects, device dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[gattCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if u, _ := props["UUID"].Value().(string); strings.EqualFold(u, uuid) {
			return path, true
		}
	}
	return "", false
}

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// devicePath converts "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapterPath(adapter), strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

func validateAddress(address string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return fmt.Errorf("invalid BLE address %q", address)
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return fmt.Errorf("invalid BLE address %q", address)
		}
	}
	return nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// statusOf maps BlueZ error names to the GATT status codes operators see.
func statusOf(err error) int {
	name := ""
	var derr dbus.Error
	var pderr *dbus.Error
	switch {
	case errors.As(err, &pderr):
		name = pderr.Name
	case errors.As(err, &derr):
		name = derr.Name
	}
	switch name {
	case "org.bluez.Error.AuthenticationFailed", "org.bluez.Error.AuthenticationRejected":
		return 5
	case "org.freedesktop.DBus.Error.NoReply", "org.bluez.Error.Timeout":
		return transport.StatusConnTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transport.StatusConnTimeout
	}
	return transport.StatusGattError
}
