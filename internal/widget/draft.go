package widget

import (
	"encoding/json"
	"fmt"
)

// Draft is the widget under edit in one session. It keeps an immutable
// pristine copy for undo and a dirty flag that follows last-write-wins
// semantics: any effective write marks the draft dirty, even if a later write
// restores the original value.
//
// A Draft is not safe for concurrent use; it has a single owner.
type Draft struct {
	live      *Widget
	pristine  *Widget
	dirty     bool
	persisted bool
}

// NewDraft starts a draft from w. persisted reports whether w was loaded
// from storage; a draft that was never persisted is dirty from the start.
func NewDraft(w *Widget, persisted bool) (*Draft, error) {
	if _, err := ParseKind(string(w.Type)); err != nil {
		return nil, err
	}
	live := w.Clone()
	cfg, err := live.Config()
	if err != nil {
		return nil, fmt.Errorf("load widget %q: %w", w.Name, err)
	}
	if err := live.setConfig(cfg); err != nil {
		return nil, err
	}
	return &Draft{
		live:      live,
		pristine:  live.Clone(),
		dirty:     !persisted,
		persisted: persisted,
	}, nil
}

// Widget returns a deep copy of the live draft.
func (d *Draft) Widget() *Widget {
	return d.live.Clone()
}

// Snapshot returns a deep copy of the pristine widget.
func (d *Draft) Snapshot() *Widget {
	return d.pristine.Clone()
}

// Dirty reports whether the draft has unsaved edits.
func (d *Draft) Dirty() bool { return d.dirty }

// Persisted reports whether the draft has a stored counterpart.
func (d *Draft) Persisted() bool { return d.persisted }

// Name returns the display name.
func (d *Draft) Name() string { return d.live.Name }

// Kind returns the widget kind.
func (d *Draft) Kind() Kind { return d.live.Type }

// ControllerScript returns the behaviour script text.
func (d *Draft) ControllerScript() string { return d.live.ControllerScript }

// SetField writes one text field and reports whether its value changed.
func (d *Draft) SetField(f Field, value string) (bool, error) {
	cur, err := d.live.Text(f)
	if err != nil {
		return false, err
	}
	if cur == value {
		return false, nil
	}
	if err := d.live.setText(f, value); err != nil {
		return false, err
	}
	d.dirty = true
	return true, nil
}

// SetName changes the display name and reports whether it changed.
func (d *Draft) SetName(name string) bool {
	if d.live.Name == name {
		return false
	}
	d.live.Name = name
	d.dirty = true
	return true
}

// SetKind switches the widget kind and reshapes the configuration for it.
// The draft is marked dirty even when the kind is unchanged.
func (d *Draft) SetKind(kind Kind) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	cfg, err := d.live.Config()
	if err != nil {
		return err
	}
	cfg = Normalize(cfg, kind)
	cfg[KeyTitle] = d.live.Name
	if err := d.live.setConfig(cfg); err != nil {
		return err
	}
	d.live.Type = kind
	d.dirty = true
	return nil
}

// Resources returns a copy of the resource list.
func (d *Draft) Resources() []Resource {
	return append([]Resource(nil), d.live.Resources...)
}

// AddResource appends a resource reference. It always marks the draft dirty.
func (d *Draft) AddResource(url string) {
	d.live.Resources = append(d.live.Resources, Resource{URL: url})
	d.dirty = true
}

// SetResource replaces the URL at index i. Out-of-range indexes are ignored.
func (d *Draft) SetResource(i int, url string) bool {
	if i < 0 || i >= len(d.live.Resources) || d.live.Resources[i].URL == url {
		return false
	}
	d.live.Resources[i].URL = url
	d.dirty = true
	return true
}

// RemoveResource deletes the resource at index i and reports whether an
// element was removed. Out-of-range indexes are a no-op.
func (d *Draft) RemoveResource(i int) bool {
	if i < 0 || i >= len(d.live.Resources) {
		return false
	}
	d.live.Resources = append(d.live.Resources[:i], d.live.Resources[i+1:]...)
	d.dirty = true
	return true
}

// ApplyPreviewEdit merges a size and configuration edited inside the
// preview. Sizes are in draft units. The draft is marked dirty.
func (d *Draft) ApplyPreviewEdit(sizeX, sizeY float64, config json.RawMessage) error {
	cfg, err := ParseConfig(string(config))
	if err != nil {
		return err
	}
	if err := d.live.setConfig(cfg); err != nil {
		return err
	}
	d.live.SizeX = sizeX
	d.live.SizeY = sizeY
	d.dirty = true
	return nil
}

// SyncTitle copies the display name into the configuration title. It does
// not mark the draft dirty.
func (d *Draft) SyncTitle() error {
	cfg, err := d.live.WithTitle()
	if err != nil {
		return err
	}
	d.live.DefaultConfig = cfg
	return nil
}

// Undo restores the pristine widget. Afterwards the dirty flag matches a
// freshly loaded draft.
func (d *Draft) Undo() {
	d.live = d.pristine.Clone()
	d.dirty = !d.persisted
}

// Committed records a successful commit: the live widget becomes the new
// pristine snapshot under id (when non-empty).
func (d *Draft) Committed(id string) {
	if id != "" {
		d.live.ID = id
	}
	d.pristine = d.live.Clone()
	d.persisted = true
	d.dirty = false
}
