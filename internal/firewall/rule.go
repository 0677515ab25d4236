package firewall

import (
	"net/netip"
	"strings"

	"grimm.is/warden/internal/traffic"
)

// Rule is one ordered policy entry. Empty address fields and absent ports
// are wildcards.
type Rule struct {
	Name      string            `json:"name"`
	Action    Action            `json:"action"`
	Direction traffic.Direction `json:"direction"`
	Protocol  traffic.Protocol  `json:"protocol"`
	Src       string            `json:"src,omitempty"`
	Dst       string            `json:"dst,omitempty"`
	SrcPort   traffic.Port      `json:"src_port"`
	DstPort   traffic.Port      `json:"dst_port"`
	Enabled   bool              `json:"enabled"`
}

// addrMatch is a compiled address specifier.
type addrMatch struct {
	set    bool
	prefix netip.Prefix
}

func (m addrMatch) matches(addr netip.Addr) bool {
	return !m.set || m.prefix.Contains(addr.Unmap())
}

// parseAddrSpec accepts a single address or a CIDR network. A single
// address compiles to a full-length prefix, so matching is exact equality.
func parseAddrSpec(s string) (addrMatch, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return addrMatch{}, nil
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return addrMatch{}, err
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return addrMatch{set: true, prefix: p.Masked()}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return addrMatch{}, err
	}
	a = a.Unmap()
	return addrMatch{set: true, prefix: netip.PrefixFrom(a, a.BitLen())}, nil
}

// compiledRule is a Rule with its address specifiers parsed once per
// rule-set generation.
type compiledRule struct {
	Rule
	src, dst addrMatch
	// broken rules never match.
	broken bool
}

func compileRule(r Rule) (compiledRule, []*RuleError) {
	c := compiledRule{Rule: r}
	var defects []*RuleError

	var err error
	if c.src, err = parseAddrSpec(r.Src); err != nil {
		defects = append(defects, &RuleError{Rule: r.Name, Field: "src", Value: r.Src, Err: err})
	}
	if c.dst, err = parseAddrSpec(r.Dst); err != nil {
		defects = append(defects, &RuleError{Rule: r.Name, Field: "dst", Value: r.Dst, Err: err})
	}
	c.broken = len(defects) > 0
	return c, defects
}

func (c *compiledRule) matches(rec traffic.Record) bool {
	if c.broken {
		return false
	}
	if c.Direction != traffic.DirectionAny && c.Direction != rec.Direction {
		return false
	}
	if c.Protocol != traffic.ProtocolAny && c.Protocol != rec.Protocol {
		return false
	}
	if !c.src.matches(rec.Src) || !c.dst.matches(rec.Dst) {
		return false
	}
	if c.SrcPort.Valid && (!rec.SrcPort.Valid || rec.SrcPort.Num != c.SrcPort.Num) {
		return false
	}
	if c.DstPort.Valid && (!rec.DstPort.Valid || rec.DstPort.Num != c.DstPort.Num) {
		return false
	}
	return true
}
