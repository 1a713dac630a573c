package store

import (
	"context"
	"errors"

	"widget-studio/internal/widget"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Widget operations. CreateWidget assigns a new ID and returns it;
	// UpdateWidget returns ErrNotFound if the widget does not exist.
	CreateWidget(ctx context.Context, w *widget.Widget) (string, error)
	UpdateWidget(ctx context.Context, w *widget.Widget) error
	GetWidget(id string) (*Record, error)
	ListWidgets() ([]*Record, error)
	DeleteWidget(id string) error

	// Bundle operations
	SaveBundle(b *Bundle) error
	GetBundle(alias string) (*Bundle, error)
	ListBundles() ([]*Bundle, error)

	// Close the store
	Close() error
}
