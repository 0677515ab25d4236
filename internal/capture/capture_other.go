//go:build !linux

package capture

import "context"

// AFPacketSource is only available on Linux.
type AFPacketSource struct{}

// NewAFPacket returns a source whose Open fails with ErrUnsupported.
func NewAFPacket(Options) *AFPacketSource { return &AFPacketSource{} }

func (*AFPacketSource) Name() string { return "afpacket" }
func (*AFPacketSource) Open() error { return ErrUnsupported }
func (*AFPacketSource) Run(context.Context, Handler) error { return ErrNotOpen }

// NFLogSource is only available on Linux.
type NFLogSource struct{}

// NewNFLog returns a source whose Open fails with ErrUnsupported.
func NewNFLog(Options) *NFLogSource { return &NFLogSource{} }

func (*NFLogSource) Name() string { return "nflog" }
func (*NFLogSource) Open() error { return ErrUnsupported }
func (*NFLogSource) Run(context.Context, Handler) error { return ErrNotOpen }
