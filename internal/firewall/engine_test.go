package firewall

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/traffic"
)

func rec(dir traffic.Direction, proto traffic.Protocol, src, dst string, sport, dport uint16) traffic.Record {
	r := traffic.Record{
		Src:       netip.MustParseAddr(src),
		Dst:       netip.MustParseAddr(dst),
		Protocol:  proto,
		Direction: dir,
		Size:      60,
	}
	if sport != 0 {
		r.SrcPort = traffic.PortOf(sport)
	}
	if dport != 0 {
		r.DstPort = traffic.PortOf(dport)
	}
	return r
}

func TestEngine_FirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "log_ssh", Action: Log, DstPort: traffic.PortOf(22), Enabled: true},
		{Name: "block_ssh", Action: Block, DstPort: traffic.PortOf(22), Enabled: true},
	}, Allow, nil)

	m, ok := e.Evaluate(rec(traffic.Inbound, traffic.ProtocolTCP, "8.8.8.8", "10.0.0.1", 5000, 22))
	require.True(t, ok)
	assert.Equal(t, "log_ssh", m.Rule)
	assert.Equal(t, Log, m.Action)
}

func TestEngine_DisabledNeverMatches(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "off", Action: Block, Enabled: false},
		{Name: "on", Action: Log, Enabled: true},
	}, Allow, nil)

	m, ok := e.Evaluate(rec(traffic.Inbound, traffic.ProtocolUDP, "1.1.1.1", "10.0.0.1", 53, 5353))
	require.True(t, ok)
	assert.Equal(t, "on", m.Rule)

	e.Update([]Rule{{Name: "off", Action: Block}})
	_, ok = e.Evaluate(rec(traffic.Inbound, traffic.ProtocolUDP, "1.1.1.1", "10.0.0.1", 53, 5353))
	assert.False(t, ok)
}

func TestEngine_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		rec   traffic.Record
		match bool
	}{
		{
			name:  "cidr contains",
			rule:  Rule{Dst: "10.0.0.0/8"},
			rec:   rec(traffic.Outbound, traffic.ProtocolTCP, "192.168.1.2", "10.1.2.3", 1000, 80),
			match: true,
		},
		{
			name: "cidr excludes",
			rule: Rule{Dst: "10.0.0.0/8"},
			rec:  rec(traffic.Outbound, traffic.ProtocolTCP, "192.168.1.2", "11.0.0.0", 1000, 80),
		},
		{
			name:  "single address exact",
			rule:  Rule{Src: "192.168.1.2"},
			rec:   rec(traffic.Outbound, traffic.ProtocolTCP, "192.168.1.2", "1.1.1.1", 1000, 80),
			match: true,
		},
		{
			name: "single address differs",
			rule: Rule{Src: "192.168.1.2"},
			rec:  rec(traffic.Outbound, traffic.ProtocolTCP, "192.168.1.3", "1.1.1.1", 1000, 80),
		},
		{
			name:  "mapped record address",
			rule:  Rule{Src: "192.168.1.0/24"},
			rec:   rec(traffic.Outbound, traffic.ProtocolTCP, "::ffff:192.168.1.9", "1.1.1.1", 1000, 80),
			match: true,
		},
		{
			name:  "ipv6 prefix",
			rule:  Rule{Dst: "2001:db8::/32"},
			rec:   rec(traffic.Outbound, traffic.ProtocolUDP, "2001:db8::1", "2001:db8:1::2", 1000, 53),
			match: true,
		},
		{
			name: "direction mismatch",
			rule: Rule{Direction: traffic.Inbound},
			rec:  rec(traffic.Outbound, traffic.ProtocolTCP, "10.0.0.1", "1.1.1.1", 1000, 80),
		},
		{
			name:  "direction any",
			rule:  Rule{Direction: traffic.DirectionAny},
			rec:   rec(traffic.Inbound, traffic.ProtocolTCP, "1.1.1.1", "10.0.0.1", 80, 1000),
			match: true,
		},
		{
			name: "protocol mismatch",
			rule: Rule{Protocol: traffic.ProtocolUDP},
			rec:  rec(traffic.Outbound, traffic.ProtocolTCP, "10.0.0.1", "1.1.1.1", 1000, 53),
		},
		{
			name: "port required but missing",
			rule: Rule{Protocol: traffic.ProtocolAny, DstPort: traffic.PortOf(0)},
			rec:  rec(traffic.Outbound, traffic.ProtocolICMP, "10.0.0.1", "1.1.1.1", 0, 0),
		},
		{
			name: "src port mismatch",
			rule: Rule{SrcPort: traffic.PortOf(123)},
			rec:  rec(traffic.Outbound, traffic.ProtocolUDP, "10.0.0.1", "1.1.1.1", 124, 123),
		},
		{
			name:  "dst port equal",
			rule:  Rule{DstPort: traffic.PortOf(443)},
			rec:   rec(traffic.Outbound, traffic.ProtocolTCP, "10.0.0.1", "1.1.1.1", 40000, 443),
			match: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Name = "r"
			tt.rule.Action = Block
			tt.rule.Enabled = true
			e := NewEngine([]Rule{tt.rule}, Allow, nil)
			_, ok := e.Evaluate(tt.rec)
			assert.Equal(t, tt.match, ok)
		})
	}
}

func TestEngine_BrokenRuleNeverMatches(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "broken", Action: Block, Src: "not-an-address", Enabled: true},
		{Name: "fine", Action: Log, Enabled: true},
	}, Allow, nil)

	defects := e.Defects()
	require.Len(t, defects, 1)
	assert.Equal(t, "broken", defects[0].Rule)
	assert.Equal(t, "src", defects[0].Field)
	assert.ErrorContains(t, defects[0], `invalid src "not-an-address"`)

	m, ok := e.Evaluate(rec(traffic.Inbound, traffic.ProtocolTCP, "1.2.3.4", "10.0.0.1", 1, 2))
	require.True(t, ok)
	assert.Equal(t, "fine", m.Rule)
}

func TestEngine_DecideDefault(t *testing.T) {
	e := NewEngine(nil, Block, nil)
	a, reason := e.Decide(rec(traffic.Inbound, traffic.ProtocolTCP, "1.2.3.4", "10.0.0.1", 1, 2))
	assert.Equal(t, Block, a)
	assert.Equal(t, "default", reason)

	e.Replace([]Rule{{Name: "any", Action: Allow, Enabled: true}}, Block)
	a, reason = e.Decide(rec(traffic.Inbound, traffic.ProtocolTCP, "1.2.3.4", "10.0.0.1", 1, 2))
	assert.Equal(t, Allow, a)
	assert.Equal(t, "rule:any", reason)
}

func TestEngine_ReplaceIsAtomic(t *testing.T) {
	allowAll := []Rule{
		{Name: "a1", Action: Allow, Enabled: true},
		{Name: "a2", Action: Allow, Enabled: true},
	}
	blockAll := []Rule{
		{Name: "b1", Action: Block, Enabled: true},
		{Name: "b2", Action: Block, Enabled: true},
	}
	e := NewEngine(allowAll, Allow, nil)
	gen := e.Generation()

	r := rec(traffic.Inbound, traffic.ProtocolTCP, "1.2.3.4", "10.0.0.1", 1, 2)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m, ok := e.Evaluate(r)
				if !ok || (m.Rule != "a1" && m.Rule != "b1") {
					t.Errorf("observed partial rule set: %+v", m)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			e.Update(blockAll)
		} else {
			e.Update(allowAll)
		}
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, gen+200, e.Generation())
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{
		"allow": Allow, "ACCEPT": Allow, "block": Block, "drop": Block, "reject": Block, "log": Log,
	} {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAction("maybe")
	assert.Error(t, err)

	var a Action
	require.NoError(t, a.UnmarshalText([]byte("log")))
	assert.Equal(t, Log, a)
	b, _ := Block.MarshalText()
	assert.Equal(t, "block", string(b))
}
