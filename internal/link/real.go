package link

import (
	"context"
	"fmt"
	"net"
	"os/exec"
)

// InterfaceLink reports link state from a network interface's IPv4 address.
// Association itself is owned by the OS network stack; an optional command
// (for example `wpa_cli -i wlan0 reconnect`) nudges it on Associate.
type InterfaceLink struct {
	name       string
	reconnect  []string
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewInterfaceLink watches the named interface. An empty name accepts any
// non-loopback interface that is up.
func NewInterfaceLink(name string, reconnect []string) *InterfaceLink {
	return &InterfaceLink{
		name:       name,
		reconnect:  reconnect,
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Associate runs the reconnect command, if any.
func (l *InterfaceLink) Associate(ctx context.Context) error {
	if len(l.reconnect) == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, l.reconnect[0], l.reconnect[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w (%s)", l.reconnect[0], err, out)
	}
	return nil
}

// Address returns the first IPv4 address of the watched interface.
func (l *InterfaceLink) Address() (string, bool) {
	ifaces, err := l.interfaces()
	if err != nil {
		return "", false
	}
	for _, iface := range ifaces {
		if l.name != "" && iface.Name != l.name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := l.addrs(iface)
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip, true
		}
	}
	return "", false
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsLinkLocalUnicast() {
			return ip4.String()
		}
	}
	return ""
}
