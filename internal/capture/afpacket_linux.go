//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"
)

// AFPacketSource reads every frame seen on one interface through an
// AF_PACKET socket. It needs CAP_NET_RAW.
type AFPacketSource struct {
	opts  Options
	local *LocalAddrs

	mu   sync.Mutex
	ifi  *net.Interface
	conn *packet.Conn
}

// NewAFPacket returns an unopened AF_PACKET source.
func NewAFPacket(opts Options) *AFPacketSource {
	return &AFPacketSource{opts: opts.withDefaults(), local: NewLocalAddrs()}
}

func (s *AFPacketSource) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ifi != nil {
		return "afpacket:" + s.ifi.Name
	}
	return "afpacket"
}

// Open selects the interface, loads its addresses and opens the socket.
func (s *AFPacketSource) Open() error {
	ifi, err := SelectInterface(s.opts.Interface)
	if err != nil {
		return err
	}
	addrs, err := HostAddrs(ifi)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}
	s.local.Replace(addrs)

	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrChannelCreation, ifi.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.ifi, s.conn = ifi, conn
	s.opts.Logger.Info("capturing", "interface", ifi.Name, "local_addrs", len(addrs))
	return nil
}

func (s *AFPacketSource) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	conn, ifi := s.conn, s.ifi
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	defer conn.Close()

	buf := make([]byte, 1<<16)
	nextRefresh := s.opts.Clock.Now().Add(s.opts.RefreshInterval)
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := s.opts.Clock.Now()
		if !now.Before(nextRefresh) {
			if addrs, err := HostAddrs(ifi); err == nil {
				s.local.Replace(addrs)
			} else {
				s.opts.Logger.Warn("address refresh failed", "interface", ifi.Name, "error", err)
			}
			nextRefresh = now.Add(s.opts.RefreshInterval)
		}

		if err := conn.SetReadDeadline(now.Add(ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", ifi.Name, err)
		}

		p, err := DecodeEthernet(buf[:n])
		if err != nil {
			dropped(err)
			continue
		}
		rec, err := s.local.Record(p, s.opts.Clock.Now())
		if err != nil {
			dropped(err)
			continue
		}
		h(rec)
	}
}
