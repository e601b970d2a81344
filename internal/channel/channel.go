// Package channel hosts the guest-facing transports. Every transport
// pushes inbound guest messages onto the shared bus and delivers
// replies handed back by the gateway; none of them talk to the
// dialogue engine directly.
package channel

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every transport shares: its name, the
// message bus, the sender allow list, and a component logger.
type BaseChannel struct {
	name  string
	bus   *bus.MessageBus
	allow map[string]struct{}
	log   zerolog.Logger
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string, log zerolog.Logger) BaseChannel {
	var allow map[string]struct{}
	if len(allowFrom) > 0 {
		allow = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			allow[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allow: allow, log: log}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether the sender may talk to the concierge. An
// empty allow list admits everyone.
func (c *BaseChannel) IsAllowed(sender string) bool {
	if len(c.allow) == 0 {
		return true
	}
	_, ok := c.allow[sender]
	return ok
}
