package reachability

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProbe struct {
	mu      sync.Mutex
	status  Status
	allowed []InterfaceType
}

func (p *scriptedProbe) set(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

func (p *scriptedProbe) Probe(_ context.Context, allowed []InterfaceType) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed = allowed
	return p.status, nil
}

func TestUpdateDeduplicatesAndPulses(t *testing.T) {
	m := New()
	sub, cancel := m.Subscribe()
	defer cancel()
	assert.Equal(t, Unreachable, <-sub)

	pulse := m.Reachable()
	m.Update(Unreachable)
	select {
	case s := <-sub:
		t.Fatalf("unexpected duplicate %v", s)
	default:
	}

	m.Update(ReachableVia(WiFi))
	assert.Equal(t, ReachableVia(WiFi), <-sub)
	select {
	case <-pulse:
	default:
		t.Fatal("pulse not closed on becoming reachable")
	}

	next := m.Reachable()
	m.Update(ReachableVia(WiFi))
	select {
	case <-next:
		t.Fatal("duplicate status must not pulse")
	default:
	}

	m.Update(Unreachable)
	assert.Equal(t, Unreachable, <-sub)
	assert.Equal(t, Unreachable, m.Status())
}

func TestSubscribeKeepsLatestForSlowReaders(t *testing.T) {
	m := New()
	sub, cancel := m.Subscribe()
	m.Update(ReachableVia(Cellular))
	m.Update(ReachableVia(WiredEthernet))
	assert.Equal(t, ReachableVia(WiredEthernet), <-sub)

	cancel()
	cancel()
	_, open := <-sub
	assert.False(t, open)
	m.Update(Unreachable)
}

func TestStartPollsProbe(t *testing.T) {
	probe := &scriptedProbe{}
	m := New(WithProbe(probe), WithInterval(10*time.Millisecond))
	m.SetInterfaceTypes(Loopback)
	sub, cancel := m.Subscribe()
	defer cancel()
	<-sub

	m.Start(context.Background())
	m.Start(context.Background())
	defer m.Stop()

	probe.set(ReachableVia(Loopback))
	select {
	case s := <-sub:
		assert.Equal(t, ReachableVia(Loopback), s)
	case <-time.After(2 * time.Second):
		t.Fatal("no status published")
	}
	probe.mu.Lock()
	assert.Equal(t, []InterfaceType{Loopback}, probe.allowed)
	probe.mu.Unlock()

	m.Stop()
	m.Stop()
	assert.Equal(t, ReachableVia(Loopback), m.Status())
}

func TestInterfaceProbe(t *testing.T) {
	up := net.FlagUp
	ifaces := []net.Interface{
		{Name: "lo", Flags: up | net.FlagLoopback},
		{Name: "wlan0", Flags: up},
		{Name: "eth0", Flags: 0},
		{Name: "docker0", Flags: up},
	}
	withAddr := map[string]bool{"lo": true, "wlan0": true, "eth0": true}
	p := InterfaceProbe{
		Interfaces: func() ([]net.Interface, error) { return ifaces, nil },
		Addrs: func(i net.Interface) ([]net.Addr, error) {
			if withAddr[i.Name] {
				return []net.Addr{&net.IPNet{IP: net.IPv4(10, 0, 0, 1), Mask: net.CIDRMask(8, 32)}}, nil
			}
			return nil, nil
		},
	}

	s, err := p.Probe(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ReachableVia(WiFi), s)

	s, err = p.Probe(context.Background(), []InterfaceType{Loopback})
	require.NoError(t, err)
	assert.Equal(t, ReachableVia(Loopback), s)

	s, err = p.Probe(context.Background(), []InterfaceType{Cellular})
	require.NoError(t, err)
	assert.Equal(t, Unreachable, s)
}

func TestClassify(t *testing.T) {
	tests := map[string]InterfaceType{
		"eth0":   WiredEthernet,
		"enp3s0": WiredEthernet,
		"wlp2s0": WiFi,
		"wwan0":  Cellular,
		"tun0":   Other,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(net.Interface{Name: name}), name)
	}
	assert.Equal(t, Loopback, Classify(net.Interface{Name: "lo0", Flags: net.FlagLoopback}))
	assert.Equal(t, "reachable(wiredEthernet)", ReachableVia(WiredEthernet).String())
	assert.Equal(t, "unreachable", Unreachable.String())
}
