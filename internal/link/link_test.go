package link

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/flow-sensor/internal/uplink"
)

func newTestSupervisor(l Link, s Sender) (*Supervisor, *[]time.Duration) {
	sup := NewSupervisor(l, s, Options{ConnectAttempts: 15, ConnectPoll: time.Second}, nil)
	var waits []time.Duration
	sup.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return sup, &waits
}

func TestSupervisorStartsDisconnected(t *testing.T) {
	sup, _ := newTestSupervisor(NewFakeLink(false), uplink.NewFakeSender())
	assert.Equal(t, Disconnected, sup.State())
	assert.Equal(t, "", sup.Address())
}

func TestConnectAlreadyUp(t *testing.T) {
	l := NewFakeLink(true)
	sup, waits := newTestSupervisor(l, uplink.NewFakeSender())

	addr, ok := sup.Connect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", addr)
	assert.Equal(t, Connected, sup.State())
	assert.Equal(t, 0, l.AssociationCount(), "no association when link is already up")
	assert.Empty(t, *waits)

	// Idempotent.
	addr, ok = sup.Connect(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.50", addr)
	assert.Equal(t, 0, l.AssociationCount())
}

func TestConnectAfterPolls(t *testing.T) {
	l := NewFakeLink(false)
	l.UpAfterPolls = 3
	sup, waits := newTestSupervisor(l, uplink.NewFakeSender())

	addr, ok := sup.Connect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", addr)
	assert.Equal(t, Connected, sup.State())
	assert.Equal(t, 1, l.AssociationCount())
	assert.Len(t, *waits, 3)
}

func TestConnectTimeout(t *testing.T) {
	l := NewFakeLink(false)
	sup, waits := newTestSupervisor(l, uplink.NewFakeSender())

	_, ok := sup.Connect(context.Background())
	assert.False(t, ok)
	assert.Equal(t, Disconnected, sup.State())
	assert.Len(t, *waits, 15, "bounded to 15 one-second polls")
	for _, w := range *waits {
		assert.Equal(t, time.Second, w)
	}
}

func TestConnectAssociateErrorStillPolls(t *testing.T) {
	l := NewFakeLink(false)
	l.AssociateError = errors.New("wpa_cli missing")
	l.UpAfterPolls = 1
	sup, _ := newTestSupervisor(l, uplink.NewFakeSender())

	_, ok := sup.Connect(context.Background())
	assert.True(t, ok)
}

func TestConnectCancelled(t *testing.T) {
	sup, _ := newTestSupervisor(NewFakeLink(false), uplink.NewFakeSender())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := sup.Connect(ctx)
	assert.False(t, ok)
	assert.Equal(t, Disconnected, sup.State())
}

func TestConnectDropsStaleConnectedState(t *testing.T) {
	l := NewFakeLink(true)
	sup, _ := newTestSupervisor(l, uplink.NewFakeSender())
	_, ok := sup.Connect(context.Background())
	require.True(t, ok)

	l.SetUp(false)
	_, ok = sup.Connect(context.Background())
	assert.False(t, ok)
	assert.Equal(t, Disconnected, sup.State())
	assert.Equal(t, 1, l.AssociationCount())
}

func TestSendDisconnectedSkipsNetwork(t *testing.T) {
	sender := uplink.NewFakeSender()
	sup, _ := newTestSupervisor(NewFakeLink(false), sender)

	outcome := sup.Send(context.Background(), uplink.Reading{DeviceID: "dev-1"})
	assert.Equal(t, uplink.SkippedNoLink, outcome)
	assert.Equal(t, 0, sender.Calls(), "no network call while disconnected")
}

func TestSendDoesNotFlipStateOnFailure(t *testing.T) {
	sender := uplink.NewFakeSender(
		&uplink.TransportError{Err: errors.New("timeout")},
		&uplink.StatusError{StatusCode: 500},
	)
	sender.Result = &uplink.IngestResult{DailyTotal: 3, Anomalies: []string{"high_flow_rate"}}
	sup, _ := newTestSupervisor(NewFakeLink(true), sender)
	sup.Connect(context.Background())

	assert.Equal(t, uplink.NetworkError, sup.Send(context.Background(), uplink.Reading{}))
	assert.Equal(t, Connected, sup.State())
	assert.Equal(t, uplink.ServerError, sup.Send(context.Background(), uplink.Reading{}))
	assert.Equal(t, Connected, sup.State())
	assert.Equal(t, uplink.Sent, sup.Send(context.Background(), uplink.Reading{}))
	assert.Equal(t, 3, sender.Calls())
}

func TestRegisterGated(t *testing.T) {
	sender := uplink.NewFakeSender()
	l := NewFakeLink(false)
	sup, _ := newTestSupervisor(l, sender)

	err := sup.Register(context.Background(), uplink.Registration{DeviceID: "dev-1"})
	assert.ErrorIs(t, err, uplink.ErrLinkUnavailable)

	l.SetUp(true)
	sup.Connect(context.Background())
	require.NoError(t, sup.Register(context.Background(), uplink.Registration{DeviceID: "dev-1"}))
	assert.Len(t, sender.Registrations, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
}

func TestInterfaceLinkAddress(t *testing.T) {
	ifaces := []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Index: 2, Name: "eth0", Flags: 0},
		{Index: 3, Name: "wlan0", Flags: net.FlagUp},
	}
	addrs := map[string][]net.Addr{
		"lo":   {&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}},
		"eth0": {&net.IPNet{IP: net.IPv4(10, 0, 0, 2), Mask: net.CIDRMask(24, 32)}},
		"wlan0": {
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.IPv4(192, 168, 1, 77), Mask: net.CIDRMask(24, 32)},
		},
	}

	l := NewInterfaceLink("", nil)
	l.interfaces = func() ([]net.Interface, error) { return ifaces, nil }
	l.addrs = func(i net.Interface) ([]net.Addr, error) { return addrs[i.Name], nil }

	addr, ok := l.Address()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.77", addr)

	l.name = "eth0"
	_, ok = l.Address()
	assert.False(t, ok, "eth0 is down")

	l.interfaces = func() ([]net.Interface, error) { return nil, errors.New("netlink") }
	_, ok = l.Address()
	assert.False(t, ok)
}

func TestInterfaceLinkAssociateNoCommand(t *testing.T) {
	l := NewInterfaceLink("wlan0", nil)
	assert.NoError(t, l.Associate(context.Background()))
}

func TestInterfaceLinkAssociateCommandFails(t *testing.T) {
	l := NewInterfaceLink("wlan0", []string{"/nonexistent/wpa_cli", "reconnect"})
	assert.Error(t, l.Associate(context.Background()))
}
