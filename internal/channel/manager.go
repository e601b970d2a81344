package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/addons"
	"github.com/illoraretreats/concierge/internal/bus"
	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/directory"
	"github.com/illoraretreats/concierge/internal/events"
	"github.com/illoraretreats/concierge/internal/logger"
	"github.com/illoraretreats/concierge/internal/payments"
)

// SnapshotSource hands out the current hotel directory snapshot. The
// web UI reads it to serve the add-on catalog.
type SnapshotSource interface {
	Snapshot() *directory.Snapshot
}

// Settler marks a guest's pending balance as paid and closes out
// their tab.
type Settler interface {
	Settle(ctx context.Context, email string) error
}

// Deps carries the shared services the transports expose over HTTP.
// Only the web UI uses most of them; messaging channels need the bus.
type Deps struct {
	Bus     *bus.MessageBus
	Events  *events.Broker
	Source  SnapshotSource
	Ledger  *addons.Ledger
	Links   payments.Links
	Settler Settler
	Log     zerolog.Logger
}

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, deps Deps) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      deps.Bus,
		log:      deps.Log,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, deps.Bus, logger.Component(deps.Log, telegramChannelName))
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.register(ch)
	}

	if cfg.WhatsApp.Enabled {
		ch, err := NewWhatsApp(cfg.WhatsApp, deps.Bus, logger.Component(deps.Log, whatsappChannelName))
		if err != nil {
			return nil, fmt.Errorf("init whatsapp channel: %w", err)
		}
		m.register(ch)
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, deps, logger.Component(deps.Log, webUIChannelName))
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.register(ch)
	}

	return m, nil
}

func (m *ChannelManager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.log.Error().Err(err).Str("channel", ch.Name()).Msg("outbound send failed")
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.log.Info().Str("channel", name).Msg("starting channel")
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.log.Info().Str("channel", name).Msg("stopping channel")
		if err := ch.Stop(); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("stop failed")
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
