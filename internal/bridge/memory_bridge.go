package bridge

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/memory"
	"github.com/normanking/cortexvoice/internal/store"
)

// MemoryBridge exposes conversational memory to the frontend. Every
// call is best effort; failures are logged by the service and never
// surface as errors here.
type MemoryBridge struct {
	ctx      context.Context
	service  *memory.Service
	eventBus *bus.EventBus
}

// NewMemoryBridge creates the memory bridge
func NewMemoryBridge(service *memory.Service, eventBus *bus.EventBus) *MemoryBridge {
	return &MemoryBridge{
		service:  service,
		eventBus: eventBus,
	}
}

// Bind sets the Wails runtime context and wires bus events to the frontend
func (b *MemoryBridge) Bind(ctx context.Context) {
	b.ctx = ctx

	b.eventBus.Subscribe(bus.EventTypeTurnSaved, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "memory:turnSaved", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeMemoryFailed, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "memory:failed", e.Data)
		}
	})
}

// SaveTurn records one conversation turn
func (b *MemoryBridge) SaveTurn(sessionID, role, content string) {
	b.service.SaveTurn(context.Background(), sessionID, role, content)
}

// GetTurns returns recent turns for a session, oldest first
func (b *MemoryBridge) GetTurns(sessionID string, limit int) []store.Turn {
	return b.service.Turns(context.Background(), sessionID, limit)
}

// SaveIntent records the detected intent for a session
func (b *MemoryBridge) SaveIntent(sessionID, intent string) {
	b.service.SaveIntent(context.Background(), sessionID, intent)
}

// SavePreference records one user preference
func (b *MemoryBridge) SavePreference(key, value string) {
	b.service.SavePreference(context.Background(), key, value)
}

// GetPreferences returns all stored preferences for the user
func (b *MemoryBridge) GetPreferences() []store.Preference {
	return b.service.Preferences(context.Background())
}

// ClearSession removes all memory rows for a session
func (b *MemoryBridge) ClearSession(sessionID string) {
	b.service.ClearSession(context.Background(), sessionID)
}
