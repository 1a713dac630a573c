package editor

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"widget-studio/internal/widget"
)

// Surface is an isolated rendering surface. SetInitData fills the
// out-of-band initialization slot the surface reads when it starts;
// Reload discards the running instance and starts a clean one for the given
// preview generation. Implementations must not block on the surface.
type Surface interface {
	SetInitData(data []byte) error
	Reload(generation uint64) error
}

// Bridge pushes drafts into a Surface.
type Bridge struct {
	surface Surface
	logger  *slog.Logger
}

// NewBridge creates a bridge to surface.
func NewBridge(surface Surface, logger *slog.Logger) *Bridge {
	return &Bridge{surface: surface, logger: logger}
}

// Publish serializes w into the init slot and then forces a full reload.
func (b *Bridge) Publish(generation uint64, w *widget.Widget) error {
	if err := b.setInitData(w); err != nil {
		return err
	}
	if err := b.surface.Reload(generation); err != nil {
		return fmt.Errorf("reload preview: %w", err)
	}
	b.logger.Debug("preview published", "generation", generation)
	return nil
}

// Echo refreshes the init slot without reloading the surface.
func (b *Bridge) Echo(w *widget.Widget) error {
	return b.setInitData(w)
}

func (b *Bridge) setInitData(w *widget.Widget) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode widget: %w", err)
	}
	if err := b.surface.SetInitData(data); err != nil {
		return fmt.Errorf("set preview data: %w", err)
	}
	return nil
}

// Close releases the surface when it holds resources.
func (b *Bridge) Close() error {
	if c, ok := b.surface.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
