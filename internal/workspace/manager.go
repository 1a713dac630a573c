// Package workspace exposes widget drafts as plain files so they can be
// edited with any text editor.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"widget-studio/internal/widget"
)

// fieldFiles maps each editable field to its file name inside a folder.
var fieldFiles = map[widget.Field]string{
	widget.FieldTemplateHTML:          "template.html",
	widget.FieldTemplateCSS:           "template.css",
	widget.FieldSettingsSchema:        "settings_schema.json",
	widget.FieldDataKeySettingsSchema: "data_key_settings_schema.json",
	widget.FieldControllerScript:      "controller.lua",
}

const metaFile = "widget.json"

// FieldForFile returns the field stored in the file named name.
func FieldForFile(name string) (widget.Field, bool) {
	base := filepath.Base(name)
	for f, fn := range fieldFiles {
		if fn == base {
			return f, true
		}
	}
	return "", false
}

// validName checks that a folder name is safe to use as a path component.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return true
}

// Manager owns the workspace root directory.
type Manager struct {
	dir string
	mu  sync.Mutex
}

// NewManager creates a workspace rooted at dir. It ensures the directory
// exists.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the workspace root.
func (m *Manager) Dir() string { return m.dir }

// Open creates a new folder for a widget named name. The folder name is
// derived from name and made unique.
func (m *Manager) Open(name string) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := slugify(name)
	if base == "" {
		base = "widget"
	}
	folder := base
	for i := 1; ; i++ {
		path := filepath.Join(m.dir, folder)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		folder = fmt.Sprintf("%s_%d", base, i)
	}

	path := filepath.Join(m.dir, folder)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create widget folder: %w", err)
	}
	return &Folder{Name: folder, Path: path}, nil
}

// Get returns an existing folder.
func (m *Manager) Get(name string) (*Folder, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid folder name: %q", name)
	}
	path := filepath.Join(m.dir, name)
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return &Folder{Name: name, Path: path}, nil
}

// Remove deletes a folder and its files.
func (m *Manager) Remove(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid folder name: %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(m.dir, name)); err != nil {
		return fmt.Errorf("remove widget folder: %w", err)
	}
	return nil
}

// Folder holds the files of one widget.
type Folder struct {
	Name string
	Path string
}

// meta is the non-text part of a widget, written for reference.
type meta struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"widgetName"`
	Type          widget.Kind       `json:"type"`
	SizeX         float64           `json:"sizeX"`
	SizeY         float64           `json:"sizeY"`
	DefaultConfig json.RawMessage   `json:"defaultConfig"`
	Resources     []widget.Resource `json:"resources"`
}

// Write exports every field of w into the folder.
func (f *Folder) Write(w *widget.Widget) error {
	for _, field := range widget.Fields {
		text, err := w.Text(field)
		if err != nil {
			return err
		}
		if err := writeIfChanged(filepath.Join(f.Path, fieldFiles[field]), []byte(text)); err != nil {
			return fmt.Errorf("write %s: %w", field, err)
		}
	}

	cfg := json.RawMessage(w.DefaultConfig)
	if !json.Valid(cfg) {
		cfg = json.RawMessage("{}")
	}
	data, err := json.MarshalIndent(meta{
		ID:            w.ID,
		Name:          w.Name,
		Type:          w.Type,
		SizeX:         w.SizeX,
		SizeY:         w.SizeY,
		DefaultConfig: cfg,
		Resources:     w.Resources,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode widget meta: %w", err)
	}
	return writeIfChanged(filepath.Join(f.Path, metaFile), append(data, '\n'))
}

// Read returns the current file contents of field.
func (f *Folder) Read(field widget.Field) (string, error) {
	name, ok := fieldFiles[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", widget.ErrUnknownField, field)
	}
	data, err := os.ReadFile(filepath.Join(f.Path, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeIfChanged skips the write when the file already holds data so
// watchers are not woken up for nothing. The new contents are written to a
// temporary file and renamed into place, so readers never see a truncated
// file.
func writeIfChanged(path string, data []byte) error {
	if cur, err := os.ReadFile(path); err == nil && string(cur) == string(data) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
