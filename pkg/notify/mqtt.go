package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// DefaultMQTTConfig returns the default publisher settings
func DefaultMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		TopicPrefix: "atcvoice",
	}
}

// generateClientID creates a random client ID for the broker connection
func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "atcvoice_" + hex.EncodeToString(b)
}

// EventTopic returns the topic an event is published on:
// <prefix>/<frequency>/<event type>
func EventTopic(prefix string, msg Message) string {
	prefix = strings.TrimRight(prefix, "/")
	return fmt.Sprintf("%s/%d/%s", prefix, msg.Frequency, msg.Type)
}

// MQTTPublisher publishes radio events to an MQTT broker as JSON
type MQTTPublisher struct {
	client mqtt.Client
	config *MQTTConfig
	log    *log.Logger
	queue  *queue
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(config *MQTTConfig, lg *log.Logger, queueSize int) (*MQTTPublisher, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	lg = lg.With("component", "mqtt")

	clientID := config.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(clientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		lg.Info("connected to broker", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		lg.Warn("connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		lg.Info("reconnecting to broker")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{
		client: client,
		config: config,
		log:    lg,
		queue:  newQueue(queueSize),
	}, nil
}

// OnRadioEvent queues ev for publishing
func (p *MQTTPublisher) OnRadioEvent(ev radio.Event) {
	p.queue.push(NewMessage(ev, time.Now()))
}

// Dropped returns how many events overflowed the queue
func (p *MQTTPublisher) Dropped() uint64 {
	return p.queue.Dropped()
}

func (p *MQTTPublisher) publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Errorf("failed to marshal event: %v", err)
		return
	}
	topic := EventTopic(p.config.TopicPrefix, msg)
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		p.log.Warn("failed to publish event", "topic", topic, "error", token.Error())
	}
}

// Run publishes queued events until ctx is done, then disconnects
func (p *MQTTPublisher) Run(ctx context.Context) error {
	defer p.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.queue.ch:
			p.publish(msg)
		}
	}
}
