package editor

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Inbound message types sent by a preview surface.
const (
	MsgWidgetException      = "widgetException"
	MsgWidgetEditModeInited = "widgetEditModeInited"
	MsgWidgetEditUpdated    = "widgetEditUpdated"
)

// Envelope is the wire shape of every inbound message. Generation is
// optional; surfaces that know which publish they belong to set it.
type Envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
}

// EditUpdate is the payload of MsgWidgetEditUpdated. Sizes are in preview
// units, twice the draft's units.
type EditUpdate struct {
	SizeX  float64         `json:"sizeX"`
	SizeY  float64         `json:"sizeY"`
	Config json.RawMessage `json:"config"`
}

// Encode serializes a message for the inbound stream.
func Encode(msgType string, generation uint64, data any) (string, error) {
	env := Envelope{Type: msgType, Generation: generation}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", msgType, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(out), nil
}

// ParseEnvelope decodes payload. ok is false when it is not an envelope.
func ParseEnvelope(payload string) (env Envelope, ok bool) {
	if payload == "" {
		return Envelope{}, false
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

type messageHandler interface {
	onException(o FaultOrigin)
	onEditModeInited()
	onEditUpdated(u EditUpdate)
}

// dispatchMessage classifies payload and calls the matching handler.
// Malformed payloads, payloads tagged with another generation and unknown
// types are dropped without surfacing anything.
func dispatchMessage(payload string, generation uint64, h messageHandler, logger *slog.Logger) {
	env, ok := ParseEnvelope(payload)
	if !ok {
		logger.Debug("drop malformed preview message", "len", len(payload))
		return
	}
	if env.Generation != 0 && env.Generation != generation {
		logger.Debug("drop stale preview message", "type", env.Type, "generation", env.Generation, "current", generation)
		return
	}

	switch env.Type {
	case MsgWidgetException:
		var o FaultOrigin
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &o); err != nil {
				logger.Debug("drop malformed exception payload", "err", err)
				return
			}
		}
		h.onException(o)
	case MsgWidgetEditModeInited:
		h.onEditModeInited()
	case MsgWidgetEditUpdated:
		var u EditUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			logger.Debug("drop malformed edit payload", "err", err)
			return
		}
		h.onEditUpdated(u)
	}
}
