package capture

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/traffic"
)

// LocalAddrs is the set of addresses that belong to this host. It decides
// the direction of a packet.
type LocalAddrs struct {
	mu  sync.RWMutex
	set map[netip.Addr]struct{}
}

// NewLocalAddrs returns a set holding addrs.
func NewLocalAddrs(addrs ...netip.Addr) *LocalAddrs {
	l := &LocalAddrs{}
	l.Replace(addrs)
	return l
}

// Replace swaps the whole set.
func (l *LocalAddrs) Replace(addrs []netip.Addr) {
	set := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		set[a.Unmap()] = struct{}{}
	}
	l.mu.Lock()
	l.set = set
	l.mu.Unlock()
}

// Contains reports whether addr is local.
func (l *LocalAddrs) Contains(addr netip.Addr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.set[addr.Unmap()]
	return ok
}

// Len returns the number of addresses.
func (l *LocalAddrs) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.set)
}

// Direction is Inbound when dst is local, Outbound when src is local.
// Packets between two foreign addresses report false.
func (l *LocalAddrs) Direction(src, dst netip.Addr) (traffic.Direction, bool) {
	switch {
	case l.Contains(dst):
		return traffic.Inbound, true
	case l.Contains(src):
		return traffic.Outbound, true
	}
	return traffic.DirectionAny, false
}

// Record turns a decoded packet into a traffic record, or reports why it
// was dropped.
func (l *LocalAddrs) Record(p Packet, ts time.Time) (traffic.Record, error) {
	dir, ok := l.Direction(p.Src, p.Dst)
	if !ok {
		return traffic.Record{}, ErrNotLocal
	}
	return traffic.Record{
		Src:       p.Src,
		Dst:       p.Dst,
		SrcPort:   p.SrcPort,
		DstPort:   p.DstPort,
		Protocol:  p.Protocol,
		Direction: dir,
		Size:      p.Size,
		Timestamp: ts,
	}, nil
}

// dropped counts a discarded frame by reason.
func dropped(err error) {
	reason := "other"
	for _, known := range []error{ErrTruncated, ErrEtherType, ErrTransport, ErrFragment, ErrMalformed, ErrNotLocal} {
		if errors.Is(err, known) {
			reason = known.Error()
			break
		}
	}
	metrics.Get().CaptureDropped.WithLabelValues(reason).Inc()
}
