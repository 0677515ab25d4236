//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/florianl/go-nflog/v2"
	"golang.org/x/sys/unix"
)

// NFLogSource receives packets copied to a netfilter log group, for
// example by an nftables rule with `log group 100`. Payloads start at the
// IP header.
type NFLogSource struct {
	opts  Options
	local *LocalAddrs

	mu sync.Mutex
	nf *nflog.Nflog
}

// NewNFLog returns an unopened NFLOG source.
func NewNFLog(opts Options) *NFLogSource {
	if opts.NFLogGroup == 0 {
		opts.NFLogGroup = 100
	}
	return &NFLogSource{opts: opts.withDefaults(), local: NewLocalAddrs()}
}

func (s *NFLogSource) Name() string {
	return fmt.Sprintf("nflog:%d", s.opts.NFLogGroup)
}

// Open loads the host addresses and binds the log group.
func (s *NFLogSource) Open() error {
	addrs, err := HostAddrs(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}
	s.local.Replace(addrs)

	nf, err := nflog.Open(&nflog.Config{
		Group:       s.opts.NFLogGroup,
		Copymode:    nflog.CopyPacket,
		ReadTimeout: ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: nflog group %d: %v", ErrChannelCreation, s.opts.NFLogGroup, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nf != nil {
		s.nf.Close()
	}
	s.nf = nf
	s.opts.Logger.Info("listening on nflog", "group", s.opts.NFLogGroup, "local_addrs", len(addrs))
	return nil
}

func (s *NFLogSource) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	nf := s.nf
	s.nf = nil
	s.mu.Unlock()
	if nf == nil {
		return ErrNotOpen
	}
	defer nf.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fatal := make(chan error, 1)

	hook := func(attrs nflog.Attribute) int {
		if attrs.Payload == nil {
			return 0
		}
		p, err := DecodeIP(*attrs.Payload)
		if err != nil {
			dropped(err)
			return 0
		}
		ts := s.opts.Clock.Now()
		if attrs.Timestamp != nil {
			ts = *attrs.Timestamp
		}
		rec, err := s.local.Record(p, ts)
		if err != nil {
			dropped(err)
			return 0
		}
		h(rec)
		return 0
	}
	onErr := func(err error) int {
		if ctx.Err() != nil {
			return 1
		}
		if errors.Is(err, unix.ENOBUFS) {
			dropped(errors.New("overrun"))
			return 0
		}
		select {
		case fatal <- err:
		default:
		}
		return 1
	}
	if err := nf.RegisterWithErrorFunc(ctx, hook, onErr); err != nil {
		return fmt.Errorf("%w: register nflog callback: %v", ErrChannelCreation, err)
	}

	refresh := time.NewTicker(s.opts.RefreshInterval)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return fmt.Errorf("nflog group %d: %w", s.opts.NFLogGroup, err)
		case <-refresh.C:
			if addrs, err := HostAddrs(nil); err == nil {
				s.local.Replace(addrs)
			}
		}
	}
}
