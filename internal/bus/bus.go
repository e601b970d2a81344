package bus

import (
	"context"
	"sync"
)

const DefaultBufSize = 100

// MessageBus decouples channels from the turn loop. Channels push
// guest messages onto Inbound; the gateway pushes replies onto
// Outbound and DispatchOutbound routes each one to the subscriber
// registered for its channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]func(OutboundMessage)
}

func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = DefaultBufSize
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, size),
		Outbound: make(chan OutboundMessage, size),
		subs:     make(map[string]func(OutboundMessage)),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = fn
}

// DispatchOutbound delivers outbound messages until ctx is cancelled.
// Delivery is synchronous so each channel sees its replies in order.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subs[msg.Channel]
			b.mu.RUnlock()
			if fn != nil {
				fn(msg)
			}
		}
	}
}
