package widget

import (
	"errors"
	"fmt"
)

// Kind is the widget type. The set is closed.
type Kind string

const (
	KindTimeseries Kind = "timeseries"
	KindLatest     Kind = "latest"
	KindRPC        Kind = "rpc"
	KindAlarm      Kind = "alarm"
	KindStatic     Kind = "static"
)

// Kinds lists every valid widget kind.
var Kinds = []Kind{KindTimeseries, KindLatest, KindRPC, KindAlarm, KindStatic}

var (
	ErrUnknownKind   = errors.New("unknown widget kind")
	ErrUnknownField  = errors.New("unknown widget field")
	ErrInvalidConfig = errors.New("invalid widget config")
)

// ParseKind validates s as a widget kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Field names one of the five independently editable text fields.
type Field string

const (
	FieldTemplateHTML          Field = "templateHtml"
	FieldTemplateCSS           Field = "templateCss"
	FieldSettingsSchema        Field = "settingsSchema"
	FieldDataKeySettingsSchema Field = "dataKeySettingsSchema"
	FieldControllerScript      Field = "controllerScript"
)

// Fields lists the editable text fields in display order.
var Fields = []Field{
	FieldTemplateHTML,
	FieldTemplateCSS,
	FieldSettingsSchema,
	FieldDataKeySettingsSchema,
	FieldControllerScript,
}

// ParseField validates s as an editable text field name.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Resource is an external resource reference loaded by the widget.
type Resource struct {
	URL string `json:"url"`
}

// Widget is a widget definition as stored and as published to the preview.
type Widget struct {
	ID                    string     `json:"id,omitempty"`
	Name                  string     `json:"widgetName"`
	Type                  Kind       `json:"type"`
	TemplateHTML          string     `json:"templateHtml"`
	TemplateCSS           string     `json:"templateCss"`
	SettingsSchema        string     `json:"settingsSchema"`
	DataKeySettingsSchema string     `json:"dataKeySettingsSchema"`
	ControllerScript      string     `json:"controllerScript"`
	DefaultConfig         string     `json:"defaultConfig"`
	SizeX                 float64    `json:"sizeX"`
	SizeY                 float64    `json:"sizeY"`
	Resources             []Resource `json:"resources"`
}

// Clone returns a deep copy of w.
func (w *Widget) Clone() *Widget {
	c := *w
	c.Resources = append([]Resource(nil), w.Resources...)
	if c.Resources == nil {
		c.Resources = []Resource{}
	}
	return &c
}

// Text returns the value of a text field.
func (w *Widget) Text(f Field) (string, error) {
	switch f {
	case FieldTemplateHTML:
		return w.TemplateHTML, nil
	case FieldTemplateCSS:
		return w.TemplateCSS, nil
	case FieldSettingsSchema:
		return w.SettingsSchema, nil
	case FieldDataKeySettingsSchema:
		return w.DataKeySettingsSchema, nil
	case FieldControllerScript:
		return w.ControllerScript, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, f)
}

func (w *Widget) setText(f Field, v string) error {
	switch f {
	case FieldTemplateHTML:
		w.TemplateHTML = v
	case FieldTemplateCSS:
		w.TemplateCSS = v
	case FieldSettingsSchema:
		w.SettingsSchema = v
	case FieldDataKeySettingsSchema:
		w.DataKeySettingsSchema = v
	case FieldControllerScript:
		w.ControllerScript = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	return nil
}

const blankScript = `-- Called once when the preview starts.
function onInit()
end

-- Called on every data tick.
function onDataUpdated()
end
`

// Blank returns the template a new widget of the given kind starts from.
func Blank(kind Kind) (*Widget, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	w := &Widget{
		Type:                  kind,
		TemplateHTML:          "<div class=\"widget\"></div>",
		TemplateCSS:           ".widget {\n}\n",
		SettingsSchema:        "{}",
		DataKeySettingsSchema: "{}",
		ControllerScript:      blankScript,
		DefaultConfig:         "{}",
		SizeX:                 7.5,
		SizeY:                 3,
		Resources:             []Resource{},
	}
	if err := w.setConfig(Normalize(map[string]any{}, kind)); err != nil {
		return nil, err
	}
	return w, nil
}
