package bridge

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/cortexvoice/internal/avatar"
	"github.com/normanking/cortexvoice/internal/bus"
)

// AvatarBridge streams avatar frames and asset state to the frontend
type AvatarBridge struct {
	ctx        context.Context
	controller *avatar.Controller
	library    *avatar.Library
	eventBus   *bus.EventBus
}

// NewAvatarBridge creates the avatar bridge
func NewAvatarBridge(controller *avatar.Controller, library *avatar.Library, eventBus *bus.EventBus) *AvatarBridge {
	return &AvatarBridge{
		controller: controller,
		library:    library,
		eventBus:   eventBus,
	}
}

// Bind sets the Wails runtime context and starts frame streaming
func (b *AvatarBridge) Bind(ctx context.Context) {
	b.ctx = ctx

	b.controller.OnFrame(func(f avatar.Frame) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "avatar:frame", f)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeAvatarStateChanged, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "avatar:mode", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeAvatarAssetReload, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "avatar:assetsReloaded", e.Data)
		}
	})
}

// GetFrame returns the current pose without waiting for the next tick
func (b *AvatarBridge) GetFrame() avatar.Frame {
	return b.controller.Frame()
}

// GetMode returns the active expression name
func (b *AvatarBridge) GetMode() string {
	return b.controller.Frame().Mode
}

// GetModels returns the loaded model inventory
func (b *AvatarBridge) GetModels() []avatar.ModelInfo {
	if b.library == nil {
		return nil
	}
	return b.library.Models()
}

// ReloadModels rescans the asset directory
func (b *AvatarBridge) ReloadModels() error {
	if b.library == nil {
		return nil
	}
	return b.library.Load()
}
