package bridge

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/realtime"
)

// PresenceBridge exposes the room connection to the frontend. The
// frontend forwards browser online, offline, and focus events here so
// the reconnector can react to them.
type PresenceBridge struct {
	ctx      context.Context
	manager  *realtime.Manager
	eventBus *bus.EventBus
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewPresenceBridge creates the presence bridge
func NewPresenceBridge(
	manager *realtime.Manager,
	eventBus *bus.EventBus,
	cfg *config.Config,
	logger zerolog.Logger,
) *PresenceBridge {
	return &PresenceBridge{
		manager:  manager,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "presence-bridge").Logger(),
	}
}

// Bind sets the Wails runtime context and wires bus events to the frontend
func (b *PresenceBridge) Bind(ctx context.Context) {
	b.ctx = ctx

	b.eventBus.Subscribe(bus.EventTypePresenceState, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "presence:state", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypePresenceMembers, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "presence:members", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypePresenceError, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "presence:error", e.Data)
		}
	})
}

// Connect joins the room. Blocks until the subscribe settles, so the
// frontend should await it.
func (b *PresenceBridge) Connect() error {
	b.logger.Info().Msg("Frontend requested room connect")
	return b.manager.Connect()
}

// Disconnect leaves the room and stops any pending retry
func (b *PresenceBridge) Disconnect() {
	b.logger.Info().Msg("Frontend requested room disconnect")
	b.manager.Disconnect()
}

// GetState returns the connection lifecycle state
func (b *PresenceBridge) GetState() string {
	return string(b.manager.State())
}

// IsConnecting reports whether a connect attempt is in flight
func (b *PresenceBridge) IsConnecting() bool {
	return b.manager.IsConnecting()
}

// GetAttempts returns the consecutive failed attempt count
func (b *PresenceBridge) GetAttempts() int {
	return b.manager.Attempts()
}

// GetMembers returns the current room membership snapshot
func (b *PresenceBridge) GetMembers() []realtime.PresenceMeta {
	return b.manager.Members()
}

// GetServerURL returns the configured room server URL
func (b *PresenceBridge) GetServerURL() string {
	return b.cfg.Room.ServerURL
}

// HandleNetworkOnline is called by the frontend on the window online event
func (b *PresenceBridge) HandleNetworkOnline() {
	b.manager.HandleNetworkOnline()
}

// HandleNetworkOffline is called by the frontend on the window offline event
func (b *PresenceBridge) HandleNetworkOffline() {
	b.manager.HandleNetworkOffline()
}

// HandleFocus is called by the frontend when the window regains focus
func (b *PresenceBridge) HandleFocus() {
	b.manager.HandleFocus()
}
