// Package mqttbridge publishes controller-state snapshots to an MQTT
// broker whenever any panel LED state changes, so lab-wide dashboards
// that already speak MQTT can observe reactor state without polling the
// HTTP surface. This is additive telemetry: it never feeds a value back
// into the Controller. One fixed topic, QoS 0 retained publishes — the
// snapshot is a pure state broadcast, not a command channel that needs
// delivery guarantees.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config describes the broker connection and publish topic.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

// Bridge holds one paho client publishing snapshots on Config.Topic.
type Bridge struct {
	client mqtt.Client
	topic  string
	log    *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect dials the broker and returns a ready-to-publish Bridge.
// AutoReconnect is enabled: a dropped broker connection must not take
// down the controller.
func Connect(cfg Config, log *zap.Logger) (*Bridge, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("prcontrold_%d", time.Now().UnixNano())
	}

	b := &Bridge{topic: cfg.Topic, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.mu.Lock()
		b.connected = true
		b.mu.Unlock()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.client = client
	return b, nil
}

// Connected reports whether the broker connection is currently live.
func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// PublishSnapshot publishes snapshot as retained JSON at QoS 0. Errors
// are logged, not returned: a missed telemetry publish must never
// disrupt the caller (the Controller's LED-change fan-out).
func (b *Bridge) PublishSnapshot(snapshot interface{}) {
	if !b.Connected() {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.log.Error("mqttbridge: marshal snapshot", zap.Error(err))
		return
	}
	token := b.client.Publish(b.topic, 0, true, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.log.Error("mqttbridge: publish", zap.Error(err))
		}
	}()
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}
