package editor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EndOfLine as an end column means the range extends to the end of the row.
const EndOfLine = -1

// Range is a zero-based span on the script surface.
type Range struct {
	StartRow int `json:"startRow"`
	StartCol int `json:"startCol"`
	EndRow   int `json:"endRow"`
	EndCol   int `json:"endCol"`
}

// Annotation is a gutter entry on the script surface.
type Annotation struct {
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Text   string `json:"text"`
	Type   string `json:"type"`
}

// ScriptSurface is the behaviour-script editor as seen by the fault mapper.
// Identifiers returned by the Add methods are passed back to Remove.
type ScriptSurface interface {
	AddMarker(r Range) int
	RemoveMarker(id int)
	AddAnnotation(a Annotation) int
	RemoveAnnotation(id int)
}

// FaultOrigin describes a runtime fault as reported by the preview. Line and
// column are 1-based; zero means unknown.
type FaultOrigin struct {
	Name         string `json:"name,omitempty"`
	Message      string `json:"message,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// Fault is the active fault record of a preview generation. Line is
// zero-based, or -1 when the preview did not report a position.
type Fault struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Text    string `json:"text"`

	markerID     int
	annotationID int
	positioned   bool
}

// FaultMapper turns reported faults into markers on the script surface and
// removes them again.
type FaultMapper struct {
	surface  ScriptSurface
	notifier Notifier
	active   *Fault
	shown    bool
}

// NewFaultMapper creates a mapper placing markers on surface.
func NewFaultMapper(surface ScriptSurface, notifier Notifier) *FaultMapper {
	return &FaultMapper{surface: surface, notifier: notifier}
}

// Report records o unless a fault is already active and reports whether it
// was recorded. When quiet is false the fault is also shown to the operator.
func (m *FaultMapper) Report(o FaultOrigin, quiet bool) bool {
	if m.active != nil {
		return false
	}
	f := &Fault{Line: -1, Message: o.Message, Text: faultText(o)}
	m.active = f

	if !quiet {
		m.notifier.Show(Notification{Message: f.Text, Severity: SeverityError, Target: TargetScriptPanel})
		m.shown = true
	}

	if o.LineNumber > 0 {
		f.Line = o.LineNumber - 1
		if o.ColumnNumber > 0 {
			f.Column = o.ColumnNumber
		}
		f.markerID = m.surface.AddMarker(Range{StartRow: f.Line, StartCol: 0, EndRow: f.Line, EndCol: EndOfLine})
		f.annotationID = m.surface.AddAnnotation(Annotation{
			Row:    f.Line,
			Column: f.Column,
			Text:   o.Message,
			Type:   "error",
		})
		f.positioned = true
	}
	return true
}

// Clear removes the tracked marker and annotation, resets the fault and
// dismisses a fault notification shown earlier. It is safe to call when no
// fault is active.
func (m *FaultMapper) Clear() {
	if m.shown {
		m.notifier.Hide()
		m.shown = false
	}
	if m.active == nil {
		return
	}
	if m.active.positioned {
		m.surface.RemoveMarker(m.active.markerID)
		m.surface.RemoveAnnotation(m.active.annotationID)
	}
	m.active = nil
}

// Active returns a copy of the active fault, or nil.
func (m *FaultMapper) Active() *Fault {
	if m.active == nil {
		return nil
	}
	f := *m.active
	return &f
}

func faultText(o FaultOrigin) string {
	var b strings.Builder
	b.WriteString("Error:")
	if o.Name != "" {
		b.WriteString(" " + o.Name + ":")
	}
	if o.Message != "" {
		b.WriteString(" " + o.Message)
	}
	if o.LineNumber > 0 {
		fmt.Fprintf(&b, "\nLine %d", o.LineNumber)
		if o.ColumnNumber > 0 {
			fmt.Fprintf(&b, " column %d", o.ColumnNumber)
		}
		b.WriteString(" of script.")
	}
	return b.String()
}

// MarkerSet is an in-memory ScriptSurface. UIs read it to render markers
// and annotations. It is safe for concurrent use.
type MarkerSet struct {
	mu          sync.Mutex
	nextID      int
	markers     map[int]Range
	annotations map[int]Annotation
}

// NewMarkerSet creates an empty marker set.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{
		markers:     make(map[int]Range),
		annotations: make(map[int]Annotation),
	}
}

func (ms *MarkerSet) AddMarker(r Range) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nextID++
	ms.markers[ms.nextID] = r
	return ms.nextID
}

func (ms *MarkerSet) RemoveMarker(id int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.markers, id)
}

func (ms *MarkerSet) AddAnnotation(a Annotation) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nextID++
	ms.annotations[ms.nextID] = a
	return ms.nextID
}

func (ms *MarkerSet) RemoveAnnotation(id int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.annotations, id)
}

// Markers returns the current markers ordered by creation.
func (ms *MarkerSet) Markers() []Range {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Range, 0, len(ms.markers))
	for _, id := range sortedKeys(ms.markers) {
		out = append(out, ms.markers[id])
	}
	return out
}

// Annotations returns the current annotations ordered by creation.
func (ms *MarkerSet) Annotations() []Annotation {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Annotation, 0, len(ms.annotations))
	for _, id := range sortedKeys(ms.annotations) {
		out = append(out, ms.annotations[id])
	}
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
