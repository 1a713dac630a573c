//go:build no_mqtt

package main

import (
	"log/slog"

	"widget-studio/internal/web"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *Config, _ *slog.Logger) (*mqttStopper, []web.ServerOption) {
	return &mqttStopper{}, nil
}
