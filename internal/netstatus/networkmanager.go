package netstatus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	nmBusName   = "org.freedesktop.NetworkManager"
	nmPath      = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmInterface = "org.freedesktop.NetworkManager"
)

// NetworkManager connectivity states.
const (
	NMStateUnknown         uint32 = 0
	NMStateAsleep          uint32 = 10
	NMStateDisconnected    uint32 = 20
	NMStateDisconnecting   uint32 = 30
	NMStateConnecting      uint32 = 40
	NMStateConnectedLocal  uint32 = 50
	NMStateConnectedSite   uint32 = 60
	NMStateConnectedGlobal uint32 = 70
)

// StateOnline maps a NetworkManager state to reachability. Any established
// connection counts, since audio is often served from the local network.
func StateOnline(state uint32) bool {
	return state >= NMStateConnectedLocal
}

// NetworkManager observes NetworkManager on the system bus. It reads the
// State property once and then follows StateChanged signals.
type NetworkManager struct {
	logger *slog.Logger
	// connect defaults to dbus.ConnectSystemBus.
	connect func() (*dbus.Conn, error)
}

// NewNetworkManager creates a NetworkManager observer.
func NewNetworkManager(logger *slog.Logger) *NetworkManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetworkManager{logger: logger, connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }}
}

// Name implements Source.
func (n *NetworkManager) Name() string {
	return "networkmanager"
}

// Run implements Source.
func (n *NetworkManager) Run(ctx context.Context, report func(bool)) error {
	conn, err := n.connect()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	obj := conn.Object(nmBusName, nmPath)
	v, err := obj.GetProperty(nmInterface + ".State")
	if err != nil {
		return fmt.Errorf("failed to read NetworkManager state: %w", err)
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return fmt.Errorf("unexpected NetworkManager state type %T", v.Value())
	}
	report(StateOnline(state))

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(nmPath),
		dbus.WithMatchInterface(nmInterface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to NetworkManager signals: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	n.logger.Debug("observing NetworkManager", "state", state)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if s, ok := stateFromSignal(sig); ok {
				n.logger.Debug("NetworkManager state changed", "state", s)
				report(StateOnline(s))
			}
		}
	}
}

// stateFromSignal extracts the new state from a StateChanged signal.
func stateFromSignal(sig *dbus.Signal) (uint32, bool) {
	if sig == nil || sig.Name != nmInterface+".StateChanged" || len(sig.Body) < 1 {
		return 0, false
	}
	s, ok := sig.Body[0].(uint32)
	return s, ok
}
