package editor

import (
	"context"
	"log/slog"
)

// Severity classifies a user-facing notification.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarn    Severity = "warn"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

// TargetScriptPanel anchors a notification to the behaviour script editor.
const TargetScriptPanel = "scriptPanel"

// Notification is a message shown to the operator.
type Notification struct {
	Message  string   `json:"message"`
	Severity Severity `json:"type"`
	Target   string   `json:"target,omitempty"`
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(n Notification)
	Hide()
}

// LogNotifier writes notifications to a logger. It is the default when no
// display is attached.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Show(n Notification) {
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityError:
		level = slog.LevelError
	case SeverityWarn:
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "notification", "message", n.Message, "target", n.Target)
}

func (l *LogNotifier) Hide() {
	l.logger.Debug("notification dismissed")
}

type multiNotifier []Notifier

// Notifiers fans notifications out to every non-nil notifier in ns.
func Notifiers(ns ...Notifier) Notifier {
	var m multiNotifier
	for _, n := range ns {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multiNotifier) Show(n Notification) {
	for _, x := range m {
		x.Show(n)
	}
}

func (m multiNotifier) Hide() {
	for _, x := range m {
		x.Hide()
	}
}
