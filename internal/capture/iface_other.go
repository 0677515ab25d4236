//go:build !linux

package capture

import (
	"fmt"
	"net"
	"net/netip"
)

// SelectInterface returns the named interface, or the first up
// non-loopback interface.
func SelectInterface(name string) (*net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, name, err)
		}
		return ifi, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagLoopback == 0 && ifaces[i].Flags&net.FlagUp != 0 {
			return &ifaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no up non-loopback interface", ErrInterfaceUnavailable)
}

// HostAddrs returns the addresses configured on ifi, or on every interface
// when ifi is nil.
func HostAddrs(ifi *net.Interface) ([]netip.Addr, error) {
	var (
		addrs []net.Addr
		err   error
	)
	if ifi != nil {
		addrs, err = ifi.Addrs()
	} else {
		addrs, err = net.InterfaceAddrs()
	}
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok {
			if ip, ok := netip.AddrFromSlice(n.IP); ok {
				out = append(out, ip.Unmap())
			}
		}
	}
	return out, nil
}
