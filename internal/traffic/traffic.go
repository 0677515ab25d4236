// Package traffic defines the normalized description of one observed packet.
package traffic

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Protocol is the transport tag of a record or the protocol constraint of a rule.
type Protocol uint8

const (
	ProtocolAny Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	default:
		return "any"
	}
}

// ParseProtocol accepts tcp, udp, icmp or any, case-insensitively.
// An empty string is any.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return ProtocolAny, nil
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "icmp", "icmpv6":
		return ProtocolICMP, nil
	}
	return ProtocolAny, fmt.Errorf("unknown protocol %q", s)
}

// Direction is the flow direction of a record relative to the local host.
type Direction uint8

const (
	DirectionAny Direction = iota
	Inbound
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "any"
	}
}

// ParseDirection accepts inbound, outbound or any. An empty string is any.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "both":
		return DirectionAny, nil
	case "inbound", "in":
		return Inbound, nil
	case "outbound", "out":
		return Outbound, nil
	}
	return DirectionAny, fmt.Errorf("unknown direction %q", s)
}

// Port is an optional transport port.
type Port struct {
	Num   uint16
	Valid bool
}

// NoPort is the absent port.
var NoPort = Port{}

// PortOf returns a present port.
func PortOf(n uint16) Port {
	return Port{Num: n, Valid: true}
}

func (p Port) String() string {
	if !p.Valid {
		return "-"
	}
	return strconv.Itoa(int(p.Num))
}

// Record is one observed packet. It is immutable once built.
type Record struct {
	Src       netip.Addr
	Dst       netip.Addr
	SrcPort   Port
	DstPort   Port
	Protocol  Protocol
	Direction Direction
	Size      int
	Timestamp time.Time
}

// IsInbound reports whether the record arrived at the local host.
func (r Record) IsInbound() bool { return r.Direction == Inbound }

// IsOutbound reports whether the record left the local host.
func (r Record) IsOutbound() bool { return r.Direction == Outbound }

// Remote returns the far side of the flow: the source for inbound traffic,
// the destination for outbound traffic.
func (r Record) Remote() netip.Addr {
	if r.Direction == Outbound {
		return r.Dst
	}
	return r.Src
}

// Endpoint formats an address with an optional port.
func Endpoint(addr netip.Addr, port Port) string {
	if !port.Valid {
		return addr.String()
	}
	return netip.AddrPortFrom(addr, port.Num).String()
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s -> %s (%d bytes)",
		r.Direction, r.Protocol, Endpoint(r.Src, r.SrcPort), Endpoint(r.Dst, r.DstPort), r.Size)
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON encodes a present port as a number and an absent one as null.
func (p Port) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendUint(nil, uint64(p.Num), 10), nil
}

// UnmarshalJSON accepts a number or null.
func (p *Port) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*p = NoPort
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", s, err)
	}
	*p = PortOf(uint16(n))
	return nil
}
