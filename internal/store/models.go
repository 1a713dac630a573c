package store

import (
	"time"

	"widget-studio/internal/widget"
)

// Record is a persisted widget.
type Record struct {
	Widget      *widget.Widget `json:"widget"`
	BundleAlias string         `json:"bundle_alias,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Bundle groups widgets. TenantID is the owning tenant.
type Bundle struct {
	Alias    string `json:"alias"`
	Title    string `json:"title"`
	TenantID string `json:"tenant_id"`
}
