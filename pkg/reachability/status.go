// Package reachability tracks network connectivity and signals when it returns.
package reachability

import (
	"context"
	"net"
	"strings"
)

// InterfaceType is the kind of interface a reachable path uses.
type InterfaceType int

const (
	Other InterfaceType = iota
	WiFi
	Cellular
	WiredEthernet
	Loopback
)

// AllInterfaceTypes lists every InterfaceType.
var AllInterfaceTypes = []InterfaceType{Other, WiFi, Cellular, WiredEthernet, Loopback}

func (t InterfaceType) String() string {
	switch t {
	case WiFi:
		return "wifi"
	case Cellular:
		return "cellular"
	case WiredEthernet:
		return "wiredEthernet"
	case Loopback:
		return "loopback"
	default:
		return "other"
	}
}

// Status is reachable-via-interface or unreachable.
type Status struct {
	Reachable bool
	Interface InterfaceType
}

// Unreachable is the zero Status.
var Unreachable = Status{}

// ReachableVia returns a reachable status on t.
func ReachableVia(t InterfaceType) Status { return Status{Reachable: true, Interface: t} }

func (s Status) String() string {
	if !s.Reachable {
		return "unreachable"
	}
	return "reachable(" + s.Interface.String() + ")"
}

// Probe reports the current status, considering only the allowed interface types.
type Probe interface {
	Probe(ctx context.Context, allowed []InterfaceType) (Status, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, allowed []InterfaceType) (Status, error)

func (f ProbeFunc) Probe(ctx context.Context, allowed []InterfaceType) (Status, error) {
	return f(ctx, allowed)
}

// InterfaceProbe inspects the host's network interfaces. An interface counts when it is up
// and has at least one address. Wired is preferred over Wi-Fi, then cellular, other and
// loopback.
type InterfaceProbe struct {
	// Interfaces defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
	// Addrs defaults to (*net.Interface).Addrs.
	Addrs func(net.Interface) ([]net.Addr, error)
}

var preference = []InterfaceType{WiredEthernet, WiFi, Cellular, Other, Loopback}

func (p InterfaceProbe) Probe(_ context.Context, allowed []InterfaceType) (Status, error) {
	list := p.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	addrs := p.Addrs
	if addrs == nil {
		addrs = func(i net.Interface) ([]net.Addr, error) { return i.Addrs() }
	}

	ifaces, err := list()
	if err != nil {
		return Unreachable, err
	}
	found := map[InterfaceType]bool{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		a, err := addrs(iface)
		if err != nil || len(a) == 0 {
			continue
		}
		found[Classify(iface)] = true
	}
	for _, t := range preference {
		if found[t] && isAllowed(t, allowed) {
			return ReachableVia(t), nil
		}
	}
	return Unreachable, nil
}

// Classify guesses the interface type from flags and common naming schemes.
func Classify(iface net.Interface) InterfaceType {
	if iface.Flags&net.FlagLoopback != 0 {
		return Loopback
	}
	name := strings.ToLower(iface.Name)
	switch {
	case hasAnyPrefix(name, "wl", "wifi", "ath", "ra"):
		return WiFi
	case hasAnyPrefix(name, "wwan", "rmnet", "ppp", "pdp_ip", "ccmni", "usb"):
		return Cellular
	case hasAnyPrefix(name, "eth", "en", "em", "eno", "ens", "enp"):
		return WiredEthernet
	default:
		return Other
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// isAllowed treats a nil allow list as every type except loopback.
func isAllowed(t InterfaceType, allowed []InterfaceType) bool {
	if allowed == nil {
		return t != Loopback
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
