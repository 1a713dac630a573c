//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "widget-studio/internal/mqtt"
	"widget-studio/internal/web"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(cfg *Config, logger *slog.Logger) (*mqttStopper, []web.ServerOption) {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}, nil
	}
	bridge, err := mqttbridge.NewBridge(mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}, nil
	}
	return &mqttStopper{bridge: bridge}, []web.ServerOption{web.WithSessionNotifier(bridge.ForSession)}
}
