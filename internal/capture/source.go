// Package capture turns frames observed on a network interface into
// traffic.Records.
//
// Two kernel-backed sources exist on Linux: an AF_PACKET socket that sees
// every frame on one interface, and an NFLOG group fed by an existing
// nftables/iptables log rule. ChannelSource feeds records from memory.
package capture

import (
	"context"
	"errors"
	"sync"

	"grimm.is/warden/internal/traffic"
)

var (
	// ErrInterfaceUnavailable means no usable capture interface was found.
	ErrInterfaceUnavailable = errors.New("capture interface unavailable")
	// ErrChannelCreation means the kernel capture channel could not be opened.
	ErrChannelCreation = errors.New("failed to create capture channel")
	// ErrUnsupported is returned on platforms without kernel capture.
	ErrUnsupported = errors.New("capture not supported on this platform")
	// ErrNotOpen is returned by Run before a successful Open.
	ErrNotOpen = errors.New("capture source not open")
)

// Handler receives each decoded record. It is called from the capture
// goroutine, one record at a time, in arrival order.
type Handler func(traffic.Record)

// Source is a producer of traffic records.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string
	// Open acquires the capture channel.
	Open() error
	// Run delivers records to h until ctx is cancelled or the channel
	// fails. The channel is released when Run returns; a new Open is
	// required before the next Run.
	Run(ctx context.Context, h Handler) error
}

// ChannelSource delivers records sent on a Go channel. Run returns nil when
// the channel is closed.
type ChannelSource struct {
	ch <-chan traffic.Record

	mu      sync.Mutex
	open    bool
	OpenErr error
}

// NewChannelSource wraps ch.
func NewChannelSource(ch <-chan traffic.Record) *ChannelSource {
	return &ChannelSource{ch: ch}
}

func (s *ChannelSource) Name() string { return "channel" }

// Open fails with OpenErr when it is set.
func (s *ChannelSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	return nil
}

func (s *ChannelSource) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.open = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-s.ch:
			if !ok {
				return nil
			}
			h(rec)
		}
	}
}
