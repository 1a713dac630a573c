package widget

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Configuration keys whose presence depends on the widget kind.
const (
	KeyDatasources         = "datasources"
	KeyTargetDeviceAliases = "targetDeviceAliases"
	KeyAlarmSource         = "alarmSource"
	KeyTimewindow          = "timewindow"
	KeyTitle               = "title"
)

const (
	realtimeDefaultMs = 60 * 1000
	alarmDefaultMs    = 24 * 60 * 60 * 1000
)

func realtimeWindow(ms int) map[string]any {
	return map[string]any{
		"realtime": map[string]any{
			"timewindowMs": ms,
		},
	}
}

// Normalize returns a copy of cfg reshaped for kind. Keys the kind does not
// use are removed; required keys are added only when absent, so an existing
// time window survives switching between two data-driven kinds. The input is
// not modified and Normalize(Normalize(c, k), k) equals Normalize(c, k).
func Normalize(cfg map[string]any, kind Kind) map[string]any {
	out := maps.Clone(cfg)
	if out == nil {
		out = make(map[string]any)
	}

	switch kind {
	case KindRPC:
		delete(out, KeyDatasources)
		delete(out, KeyAlarmSource)
		delete(out, KeyTimewindow)
		ensure(out, KeyTargetDeviceAliases, func() any { return []any{} })
	case KindAlarm:
		delete(out, KeyDatasources)
		delete(out, KeyTargetDeviceAliases)
		ensure(out, KeyAlarmSource, func() any { return map[string]any{} })
		ensure(out, KeyTimewindow, func() any { return realtimeWindow(alarmDefaultMs) })
	default:
		delete(out, KeyTargetDeviceAliases)
		delete(out, KeyAlarmSource)
		ensure(out, KeyDatasources, func() any { return []any{} })
		ensure(out, KeyTimewindow, func() any { return realtimeWindow(realtimeDefaultMs) })
	}
	return out
}

// ensure sets key to def() when it is absent or null.
func ensure(m map[string]any, key string, def func() any) {
	if v, ok := m[key]; ok && v != nil {
		return
	}
	m[key] = def()
}

// ParseConfig decodes a serialized configuration. It must be a JSON object.
func ParseConfig(s string) (map[string]any, error) {
	var cfg map[string]any
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidConfig)
	}
	return cfg, nil
}

// Config returns the parsed configuration blob.
func (w *Widget) Config() (map[string]any, error) {
	return ParseConfig(w.DefaultConfig)
}

func (w *Widget) setConfig(cfg map[string]any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	w.DefaultConfig = string(data)
	return nil
}

// WithTitle returns the widget's configuration with its title set to the
// display name. The title only ever follows the name.
func (w *Widget) WithTitle() (string, error) {
	cfg, err := w.Config()
	if err != nil {
		return "", err
	}
	cfg[KeyTitle] = w.Name
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return string(data), nil
}
