//go:build linux

package capture

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// SelectInterface returns the named interface. With an empty name it picks
// the link of the IPv4 default route, else the first up non-loopback link.
func SelectInterface(name string) (*net.Interface, error) {
	if name != "" {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, name, err)
		}
		return ifaceOf(link)
	}

	if routes, err := netlink.RouteList(nil, netlink.FAMILY_V4); err == nil {
		for _, r := range routes {
			if !isDefaultRoute(r) || r.LinkIndex == 0 {
				continue
			}
			if link, err := netlink.LinkByIndex(r.LinkIndex); err == nil {
				return ifaceOf(link)
			}
		}
	}

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || attrs.Flags&net.FlagUp == 0 {
			continue
		}
		return ifaceOf(link)
	}
	return nil, fmt.Errorf("%w: no up non-loopback link", ErrInterfaceUnavailable)
}

func isDefaultRoute(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0 && r.Dst.IP.IsUnspecified()
}

func ifaceOf(link netlink.Link) (*net.Interface, error) {
	ifi, err := net.InterfaceByIndex(link.Attrs().Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, link.Attrs().Name, err)
	}
	return ifi, nil
}

// HostAddrs returns the addresses configured on ifi, or on every link when
// ifi is nil.
func HostAddrs(ifi *net.Interface) ([]netip.Addr, error) {
	var link netlink.Link
	if ifi != nil {
		var err error
		if link, err = netlink.LinkByIndex(ifi.Index); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, ifi.Name, err)
		}
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if ip, ok := netip.AddrFromSlice(a.IP); ok {
			out = append(out, ip.Unmap())
		}
	}
	return out, nil
}
