package capture

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"grimm.is/warden/internal/traffic"
)

// Drop reasons, also used as metric labels.
var (
	ErrTruncated = errors.New("truncated")
	ErrEtherType = errors.New("ethertype")
	ErrTransport = errors.New("transport")
	ErrFragment  = errors.New("fragment")
	ErrMalformed = errors.New("malformed")
	ErrNotLocal  = errors.New("foreign")
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86dd
	etherTypeVLAN = 0x8100

	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58

	ipv6HopByHop = 0
	ipv6Routing  = 43
	ipv6Fragment = 44
	ipv6DestOpts = 60
)

// Packet is the routing-relevant part of one decoded frame.
type Packet struct {
	Src, Dst         netip.Addr
	SrcPort, DstPort traffic.Port
	Protocol         traffic.Protocol
	Size             int
}

// DecodeEthernet decodes an Ethernet II frame with at most one 802.1Q tag.
// Size is the length of the whole frame.
func DecodeEthernet(frame []byte) (Packet, error) {
	if len(frame) < 14 {
		return Packet{}, ErrTruncated
	}
	off := 12
	et := binary.BigEndian.Uint16(frame[off:])
	if et == etherTypeVLAN {
		if len(frame) < 18 {
			return Packet{}, ErrTruncated
		}
		off += 4
		et = binary.BigEndian.Uint16(frame[off:])
	}
	payload := frame[off+2:]

	var (
		p   Packet
		err error
	)
	switch et {
	case etherTypeIPv4:
		p, err = decodeIPv4(payload)
	case etherTypeIPv6:
		p, err = decodeIPv6(payload)
	default:
		return Packet{}, ErrEtherType
	}
	p.Size = len(frame)
	return p, err
}

// DecodeIP decodes a bare IPv4 or IPv6 packet, as delivered by NFLOG.
func DecodeIP(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, ErrTruncated
	}
	var (
		p   Packet
		err error
	)
	switch b[0] >> 4 {
	case 4:
		p, err = decodeIPv4(b)
	case 6:
		p, err = decodeIPv6(b)
	default:
		return Packet{}, ErrMalformed
	}
	p.Size = len(b)
	return p, err
}

func decodeIPv4(b []byte) (Packet, error) {
	if len(b) < ipv4.HeaderLen {
		return Packet{}, ErrTruncated
	}
	if b[0]>>4 != 4 {
		return Packet{}, ErrMalformed
	}
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return Packet{}, ErrMalformed
	}
	src, ok1 := netip.AddrFromSlice(h.Src.To4())
	dst, ok2 := netip.AddrFromSlice(h.Dst.To4())
	if !ok1 || !ok2 {
		return Packet{}, ErrMalformed
	}
	p := Packet{Src: src, Dst: dst}
	if h.FragOff != 0 {
		return p, ErrFragment
	}
	return p, decodeTransport(&p, h.Protocol, b[h.Len:])
}

func decodeIPv6(b []byte) (Packet, error) {
	h, err := ipv6.ParseHeader(b)
	if err != nil {
		return Packet{}, ErrTruncated
	}
	src, ok1 := netip.AddrFromSlice(h.Src)
	dst, ok2 := netip.AddrFromSlice(h.Dst)
	if !ok1 || !ok2 {
		return Packet{}, ErrMalformed
	}
	p := Packet{Src: src.Unmap(), Dst: dst.Unmap()}

	next, rest := h.NextHeader, b[ipv6.HeaderLen:]
	for {
		switch next {
		case ipv6HopByHop, ipv6Routing, ipv6DestOpts:
			if len(rest) < 8 {
				return p, ErrTruncated
			}
			n := (int(rest[1]) + 1) * 8
			if len(rest) < n {
				return p, ErrTruncated
			}
			next, rest = int(rest[0]), rest[n:]
		case ipv6Fragment:
			if len(rest) < 8 {
				return p, ErrTruncated
			}
			if binary.BigEndian.Uint16(rest[2:4])>>3 != 0 {
				return p, ErrFragment
			}
			next, rest = int(rest[0]), rest[8:]
		default:
			return p, decodeTransport(&p, next, rest)
		}
	}
}

func decodeTransport(p *Packet, proto int, b []byte) error {
	switch proto {
	case protoTCP, protoUDP:
		if len(b) < 4 {
			return ErrTruncated
		}
		p.Protocol = traffic.ProtocolTCP
		if proto == protoUDP {
			p.Protocol = traffic.ProtocolUDP
		}
		p.SrcPort = traffic.PortOf(binary.BigEndian.Uint16(b[0:2]))
		p.DstPort = traffic.PortOf(binary.BigEndian.Uint16(b[2:4]))
		return nil
	case protoICMP, protoICMPv6:
		p.Protocol = traffic.ProtocolICMP
		return nil
	}
	return ErrTransport
}
