package status

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesce        = 250
)

// MQTTPublisher is a Publisher backed by a MQTT broker.
type MQTTPublisher struct {
	// broker address, in the form host:port.
	Broker   string
	ClientID string
	// last will, published by the broker when the connection drops (optional).
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	Logger      *zap.Logger

	client mqtt.Client
}

// Initialize connects to the broker.
// The client reconnects automatically when the connection is lost.
func (p *MQTTPublisher) Initialize() error {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + p.Broker)
	opts.SetClientID(p.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	if p.WillTopic != "" {
		opts.SetBinaryWill(p.WillTopic, p.WillPayload, p.WillQoS, true)
	}

	opts.OnConnect = func(mqtt.Client) {
		p.Logger.Info("MQTT connection established", zap.String("broker", p.Broker))
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.Logger.Warn("MQTT connection lost", zap.String("broker", p.Broker), zap.Error(err))
	}

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		p.client.Disconnect(0)
		return fmt.Errorf("MQTT connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection failed: %w", err)
	}

	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttQuiesce)
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("MQTT not connected")
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}

	return token.Error()
}
