package widget

import (
	"encoding/json"
	"testing"
)

func storedWidget() *Widget {
	return &Widget{
		ID:                    "w-1",
		Name:                  "Gauge",
		Type:                  KindLatest,
		TemplateHTML:          "<div></div>",
		TemplateCSS:           "div {}",
		SettingsSchema:        "{}",
		DataKeySettingsSchema: "{}",
		ControllerScript:      "function onInit() end",
		DefaultConfig:         `{ "datasources": [], "timewindow": {"realtime": {"timewindowMs": 60000}} }`,
		SizeX:                 4,
		SizeY:                 2,
		Resources:             []Resource{{URL: "https://cdn.example/a.js"}},
	}
}

func newStoredDraft(t *testing.T) *Draft {
	t.Helper()
	d, err := NewDraft(storedWidget(), true)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewDraftPersistedIsClean(t *testing.T) {
	d := newStoredDraft(t)
	if d.Dirty() {
		t.Error("dirty = true, want false for a stored widget")
	}
	// Configuration is canonicalised on load.
	if got := d.Widget().DefaultConfig; got != `{"datasources":[],"timewindow":{"realtime":{"timewindowMs":60000}}}` {
		t.Errorf("defaultConfig = %s", got)
	}
}

func TestNewDraftUnpersistedIsDirty(t *testing.T) {
	w, err := Blank(KindStatic)
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDraft(w, false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Dirty() {
		t.Error("dirty = false, want true for a new widget")
	}
}

func TestNewDraftRejectsInvalidConfig(t *testing.T) {
	w := storedWidget()
	w.DefaultConfig = "{not json"
	if _, err := NewDraft(w, true); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestSetFieldMarksDirtyOnlyOnChange(t *testing.T) {
	for _, f := range Fields {
		t.Run(string(f), func(t *testing.T) {
			d := newStoredDraft(t)
			cur, _ := d.Widget().Text(f)

			changed, err := d.SetField(f, cur)
			if err != nil {
				t.Fatal(err)
			}
			if changed || d.Dirty() {
				t.Fatalf("same value: changed = %v, dirty = %v, want false/false", changed, d.Dirty())
			}

			changed, err = d.SetField(f, cur+" edited")
			if err != nil {
				t.Fatal(err)
			}
			if !changed || !d.Dirty() {
				t.Errorf("new value: changed = %v, dirty = %v, want true/true", changed, d.Dirty())
			}
			if got, _ := d.Widget().Text(f); got != cur+" edited" {
				t.Errorf("value = %q", got)
			}
		})
	}
}

func TestSetFieldUnknown(t *testing.T) {
	d := newStoredDraft(t)
	if _, err := d.SetField(Field("bogus"), "x"); err == nil {
		t.Error("expected error for unknown field")
	}
	if d.Dirty() {
		t.Error("unknown field must not mark dirty")
	}
}

func TestDirtyIsStickyAcrossRoundTrip(t *testing.T) {
	d := newStoredDraft(t)
	if _, err := d.SetField(FieldTemplateCSS, "a {}"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetField(FieldTemplateCSS, "div {}"); err != nil {
		t.Fatal(err)
	}
	if !d.Dirty() {
		t.Error("dirty = false after a round trip, want true")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	d := newStoredDraft(t)
	snap := d.Snapshot()
	snap.TemplateHTML = "mutated"
	snap.Resources[0].URL = "mutated"

	if _, err := d.SetField(FieldTemplateHTML, "<p></p>"); err != nil {
		t.Fatal(err)
	}
	d.AddResource("https://cdn.example/b.js")

	again := d.Snapshot()
	if again.TemplateHTML != "<div></div>" {
		t.Errorf("snapshot html = %q", again.TemplateHTML)
	}
	if len(again.Resources) != 1 || again.Resources[0].URL != "https://cdn.example/a.js" {
		t.Errorf("snapshot resources = %+v", again.Resources)
	}
}

func TestUndoRestoresSnapshot(t *testing.T) {
	d := newStoredDraft(t)
	d.SetName("Renamed")
	if _, err := d.SetField(FieldControllerScript, "error('x')"); err != nil {
		t.Fatal(err)
	}
	d.AddResource("https://cdn.example/b.js")

	d.Undo()

	w := d.Widget()
	if w.Name != "Gauge" || w.ControllerScript != "function onInit() end" || len(w.Resources) != 1 {
		t.Errorf("after undo: %+v", w)
	}
	if d.Dirty() {
		t.Error("dirty = true after undo of a stored widget")
	}
}

func TestUndoKeepsNewWidgetDirty(t *testing.T) {
	w, _ := Blank(KindTimeseries)
	d, err := NewDraft(w, false)
	if err != nil {
		t.Fatal(err)
	}
	d.Undo()
	if !d.Dirty() {
		t.Error("dirty = false after undo of a new widget, want true")
	}
}

func TestResources(t *testing.T) {
	d := newStoredDraft(t)

	if d.RemoveResource(5) || d.RemoveResource(-1) {
		t.Error("out-of-range remove reported success")
	}
	if d.Dirty() {
		t.Error("out-of-range remove marked dirty")
	}
	if len(d.Resources()) != 1 {
		t.Fatalf("resources = %d, want 1", len(d.Resources()))
	}

	d.AddResource("")
	if !d.Dirty() {
		t.Error("append did not mark dirty")
	}
	if len(d.Resources()) != 2 {
		t.Fatalf("resources = %d, want 2", len(d.Resources()))
	}

	d2 := newStoredDraft(t)
	if !d2.RemoveResource(0) {
		t.Fatal("remove(0) = false")
	}
	if !d2.Dirty() || len(d2.Resources()) != 0 {
		t.Errorf("dirty = %v, resources = %d", d2.Dirty(), len(d2.Resources()))
	}
}

func TestSetResource(t *testing.T) {
	d := newStoredDraft(t)
	if d.SetResource(0, "https://cdn.example/a.js") {
		t.Error("same url reported as changed")
	}
	if d.SetResource(3, "x") {
		t.Error("out-of-range set reported as changed")
	}
	if d.Dirty() {
		t.Fatal("no-op set marked dirty")
	}
	if !d.SetResource(0, "https://cdn.example/c.js") || !d.Dirty() {
		t.Error("set did not apply")
	}
}

func TestSetKindNormalizesAndInjectsTitle(t *testing.T) {
	d := newStoredDraft(t)
	if err := d.SetKind(KindRPC); err != nil {
		t.Fatal(err)
	}
	cfg, err := d.Widget().Config()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg[KeyDatasources]; ok {
		t.Error("datasources kept for rpc")
	}
	if _, ok := cfg[KeyTargetDeviceAliases]; !ok {
		t.Error("targetDeviceAliases missing for rpc")
	}
	if cfg[KeyTitle] != "Gauge" {
		t.Errorf("title = %v, want Gauge", cfg[KeyTitle])
	}
	if d.Kind() != KindRPC || !d.Dirty() {
		t.Errorf("kind = %s, dirty = %v", d.Kind(), d.Dirty())
	}
	if err := d.SetKind(Kind("map")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestApplyPreviewEdit(t *testing.T) {
	d := newStoredDraft(t)
	if err := d.ApplyPreviewEdit(3, 1.5, json.RawMessage(`{"title":"x","showTitle":true}`)); err != nil {
		t.Fatal(err)
	}
	w := d.Widget()
	if w.SizeX != 3 || w.SizeY != 1.5 {
		t.Errorf("size = %vx%v", w.SizeX, w.SizeY)
	}
	if w.DefaultConfig != `{"showTitle":true,"title":"x"}` {
		t.Errorf("defaultConfig = %s", w.DefaultConfig)
	}
	if !d.Dirty() {
		t.Error("dirty = false after preview edit")
	}

	if err := d.ApplyPreviewEdit(1, 1, json.RawMessage(`[1,2]`)); err == nil {
		t.Error("expected error for non-object config")
	}
}

func TestSyncTitleDoesNotMarkDirty(t *testing.T) {
	d := newStoredDraft(t)
	if err := d.SyncTitle(); err != nil {
		t.Fatal(err)
	}
	cfg, _ := d.Widget().Config()
	if cfg[KeyTitle] != "Gauge" {
		t.Errorf("title = %v", cfg[KeyTitle])
	}
	if d.Dirty() {
		t.Error("title sync marked dirty")
	}
}

func TestCommittedRebaselines(t *testing.T) {
	w, _ := Blank(KindAlarm)
	w.Name = "Alarms"
	d, err := NewDraft(w, false)
	if err != nil {
		t.Fatal(err)
	}
	d.Committed("new-id")
	if d.Dirty() || !d.Persisted() {
		t.Errorf("dirty = %v, persisted = %v", d.Dirty(), d.Persisted())
	}
	if d.Snapshot().ID != "new-id" {
		t.Errorf("snapshot id = %q", d.Snapshot().ID)
	}
	d.SetName("Other")
	d.Undo()
	if d.Name() != "Alarms" || d.Dirty() {
		t.Errorf("after undo: name = %q, dirty = %v", d.Name(), d.Dirty())
	}
}
