package widget

import (
	"reflect"
	"testing"
)

func TestNormalizeTable(t *testing.T) {
	full := func() map[string]any {
		return map[string]any{
			KeyDatasources:         []any{"ds"},
			KeyTargetDeviceAliases: []any{"alias"},
			KeyAlarmSource:         map[string]any{"type": "entity"},
			KeyTimewindow:          map[string]any{"history": true},
			"showTitle":            true,
		}
	}

	tests := []struct {
		kind    Kind
		absent  []string
		present []string
	}{
		{KindRPC, []string{KeyDatasources, KeyAlarmSource, KeyTimewindow}, []string{KeyTargetDeviceAliases, "showTitle"}},
		{KindAlarm, []string{KeyDatasources, KeyTargetDeviceAliases}, []string{KeyAlarmSource, KeyTimewindow, "showTitle"}},
		{KindTimeseries, []string{KeyTargetDeviceAliases, KeyAlarmSource}, []string{KeyDatasources, KeyTimewindow, "showTitle"}},
		{KindLatest, []string{KeyTargetDeviceAliases, KeyAlarmSource}, []string{KeyDatasources, KeyTimewindow, "showTitle"}},
		{KindStatic, []string{KeyTargetDeviceAliases, KeyAlarmSource}, []string{KeyDatasources, KeyTimewindow, "showTitle"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			in := full()
			out := Normalize(in, tt.kind)
			for _, k := range tt.absent {
				if _, ok := out[k]; ok {
					t.Errorf("key %q present, want removed", k)
				}
			}
			for _, k := range tt.present {
				if _, ok := out[k]; !ok {
					t.Errorf("key %q missing", k)
				}
			}
			if !reflect.DeepEqual(in, full()) {
				t.Error("input map was modified")
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	rpc := Normalize(map[string]any{}, KindRPC)
	if !reflect.DeepEqual(rpc[KeyTargetDeviceAliases], []any{}) {
		t.Errorf("rpc aliases = %#v", rpc[KeyTargetDeviceAliases])
	}

	alarm := Normalize(map[string]any{}, KindAlarm)
	if !reflect.DeepEqual(alarm[KeyAlarmSource], map[string]any{}) {
		t.Errorf("alarm source = %#v", alarm[KeyAlarmSource])
	}
	if !reflect.DeepEqual(alarm[KeyTimewindow], realtimeWindow(86400000)) {
		t.Errorf("alarm timewindow = %#v", alarm[KeyTimewindow])
	}

	ts := Normalize(map[string]any{KeyDatasources: nil}, KindTimeseries)
	if !reflect.DeepEqual(ts[KeyDatasources], []any{}) {
		t.Errorf("datasources = %#v", ts[KeyDatasources])
	}
	if !reflect.DeepEqual(ts[KeyTimewindow], realtimeWindow(60000)) {
		t.Errorf("timewindow = %#v", ts[KeyTimewindow])
	}
}

func TestNormalizeKeepsExistingTimewindow(t *testing.T) {
	custom := map[string]any{"realtime": map[string]any{"timewindowMs": 5000}}
	out := Normalize(map[string]any{KeyTimewindow: custom}, KindLatest)
	out = Normalize(out, KindTimeseries)
	if !reflect.DeepEqual(out[KeyTimewindow], custom) {
		t.Errorf("timewindow = %#v, want %#v", out[KeyTimewindow], custom)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	start := map[string]any{KeyDatasources: []any{"a"}, KeyAlarmSource: map[string]any{}}
	for _, k := range Kinds {
		once := Normalize(start, k)
		twice := Normalize(once, k)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s: not idempotent: %#v vs %#v", k, once, twice)
		}
	}
}

func TestNormalizeRoundTripLeaksNothing(t *testing.T) {
	for _, a := range Kinds {
		for _, b := range Kinds {
			base := Normalize(map[string]any{}, a)
			back := Normalize(Normalize(base, b), a)
			for _, key := range []string{KeyDatasources, KeyTargetDeviceAliases, KeyAlarmSource, KeyTimewindow} {
				_, want := base[key]
				_, got := back[key]
				if got != want {
					t.Errorf("%s->%s->%s: key %q present = %v, want %v", a, b, a, key, got, want)
				}
			}
		}
	}
}

func TestParseConfig(t *testing.T) {
	if _, err := ParseConfig(`{"a":1}`); err != nil {
		t.Errorf("object: %v", err)
	}
	for _, bad := range []string{"", "null", "[]", "{"} {
		if _, err := ParseConfig(bad); err == nil {
			t.Errorf("ParseConfig(%q): expected error", bad)
		}
	}
}

func TestBlank(t *testing.T) {
	for _, k := range Kinds {
		w, err := Blank(k)
		if err != nil {
			t.Fatalf("%s: %v", k, err)
		}
		cfg, err := w.Config()
		if err != nil {
			t.Fatalf("%s: %v", k, err)
		}
		if !reflect.DeepEqual(Normalize(cfg, k), cfg) {
			t.Errorf("%s: blank config is not normalized: %v", k, cfg)
		}
	}
	if _, err := Blank(Kind("chart")); err == nil {
		t.Error("expected error for unknown kind")
	}
}
