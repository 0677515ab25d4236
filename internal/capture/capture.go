package capture

import (
	"fmt"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/logging"
)

// ReadTimeout bounds each blocking read so Run notices cancellation.
const ReadTimeout = time.Second

// Options configure the kernel-backed sources.
type Options struct {
	// Interface for AF_PACKET capture. Empty selects one automatically.
	Interface string
	// NFLogGroup is the netfilter log group to subscribe to.
	NFLogGroup uint16
	// RefreshInterval is how often the local address set is re-read.
	RefreshInterval time.Duration

	Logger *logging.Logger
	Clock  clock.Clock
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.WithComponent("capture")
	}
	o.Clock = clock.Or(o.Clock)
	return o
}

// New returns the source named by kind: "afpacket" (the default) or "nflog".
func New(kind string, opts Options) (Source, error) {
	switch kind {
	case "", "afpacket":
		return NewAFPacket(opts), nil
	case "nflog":
		return NewNFLog(opts), nil
	}
	return nil, fmt.Errorf("unknown capture backend %q", kind)
}
