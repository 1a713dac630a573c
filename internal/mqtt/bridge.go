//go:build !no_mqtt

// Package mqtt mirrors editor notifications to an MQTT broker so that
// dashboards and chat bridges can show them outside the editor UI.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"widget-studio/internal/editor"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

type publisher interface {
	publish(topic string, retained bool, payload []byte)
}

// Bridge publishes session notifications to MQTT.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("widget-studio").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.prefix+"/bridge/state", true, []byte("online"))
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Stop publishes offline state and disconnects.
func (b *Bridge) Stop() {
	b.publish(b.prefix+"/bridge/state", true, []byte("offline"))
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// ForSession returns a notifier publishing to the topic of one session.
func (b *Bridge) ForSession(sessionID string) editor.Notifier {
	return &sessionNotifier{pub: b, topic: notificationTopic(b.prefix, sessionID), logger: b.logger}
}

func (b *Bridge) publish(topic string, retained bool, payload []byte) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func notificationTopic(prefix, sessionID string) string {
	return prefix + "/editor/" + sessionID + "/notification"
}

// notificationMsg is the retained payload of a shown notification.
type notificationMsg struct {
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	Target   string    `json:"target,omitempty"`
	Time     time.Time `json:"time"`
}

// sessionNotifier keeps the latest notification of a session retained on its
// topic. Hide clears the retained message with an empty payload.
type sessionNotifier struct {
	pub    publisher
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

func (n *sessionNotifier) Show(note editor.Notification) {
	now := time.Now
	if n.now != nil {
		now = n.now
	}
	payload, err := json.Marshal(notificationMsg{
		Message:  note.Message,
		Severity: string(note.Severity),
		Target:   note.Target,
		Time:     now().UTC(),
	})
	if err != nil {
		n.logger.Error("encode notification", "err", err)
		return
	}
	n.pub.publish(n.topic, true, payload)
}

func (n *sessionNotifier) Hide() {
	n.pub.publish(n.topic, true, nil)
}
