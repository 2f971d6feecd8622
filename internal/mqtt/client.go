// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package mqtt

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lighting-engine/internal/api"
	"lighting-engine/internal/config"
	"lighting-engine/internal/lights"
	"lighting-engine/internal/metrics"
)

// Topic suffixes under the configured prefix
const (
	TopicCommand  = "cmd"
	TopicResponse = "response"
	TopicEvent    = "event"
	TopicStatus   = "status"
)

// Topic joins the prefix and a suffix
func Topic(prefix, suffix string) string {
	return prefix + "/" + suffix
}

// Client is the MQTT client for the lighting engine
type Client struct {
	cfg        *config.MQTTConfig
	api        *api.Handler
	dispatcher *lights.Dispatcher
	logger     *slog.Logger
	client     mqtt.Client
	stopChan   chan struct{}
}

// NewClient creates a new MQTT client. Attach must be called before Start.
func NewClient(cfg *config.MQTTConfig, logger *slog.Logger) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "lights"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lighting-engine"
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Attach binds the command handler and the state source.
// Split from NewClient because the dispatcher may publish through this client.
func (c *Client) Attach(handler *api.Handler, dispatcher *lights.Dispatcher) {
	c.api = handler
	c.dispatcher = dispatcher
}

// Prefix returns the topic prefix
func (c *Client) Prefix() string {
	return c.cfg.TopicPrefix
}

// Start connects to broker and subscribes to topics
func (c *Client) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	if c.dispatcher != nil {
		go c.forwardEvents()
	}

	c.logger.Info("MQTT client started", "broker", c.cfg.Broker, "prefix", c.cfg.TopicPrefix)
	return nil
}

// Stop disconnects from broker
func (c *Client) Stop() {
	close(c.stopChan)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	c.logger.Info("MQTT client stopped")
}

// Publish sends a payload without waiting for delivery.
// It returns false when the broker is not connected.
func (c *Client) Publish(topic string, payload []byte) bool {
	if c.client == nil || !c.client.IsConnected() {
		return false
	}
	c.client.Publish(topic, 0, false, payload)
	return true
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected")

	if c.api != nil {
		cmdTopic := Topic(c.cfg.TopicPrefix, TopicCommand)
		client.Subscribe(cmdTopic, 1, c.handleCommand)
		c.logger.Debug("MQTT subscribed", "topic", cmdTopic)
	}

	c.publishStatus()
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", "error", err)
	metrics.ErrorsTotal.WithLabelValues("mqtt").Inc()
}

// handleCommand processes incoming MQTT commands
func (c *Client) handleCommand(client mqtt.Client, msg mqtt.Message) {
	c.logger.Debug("MQTT command received", "topic", msg.Topic(), "payload", string(msg.Payload()))

	client.Publish(Topic(c.cfg.TopicPrefix, TopicResponse), 0, false, c.process(msg.Payload()))

	// Status reflects theme, master and animation changes
	c.publishStatus()
}

// process runs a command through the unified API handler
func (c *Client) process(payload []byte) []byte {
	return c.api.HandleJSON(payload)
}

// forwardEvents forwards fixture state changes to MQTT
func (c *Client) forwardEvents() {
	updates := c.dispatcher.Subscribe()
	defer c.dispatcher.Unsubscribe(updates)

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			// data is pre-marshaled JSON from the dispatcher
			c.Publish(Topic(c.cfg.TopicPrefix, TopicEvent), data)
		case <-c.stopChan:
			return
		}
	}
}

// StatusMessage for status publish (typed to avoid map allocation)
type StatusMessage struct {
	Type string     `json:"type"`
	Data api.Status `json:"data"`
}

func (c *Client) statusPayload() []byte {
	data, _ := json.Marshal(StatusMessage{
		Type: "status",
		Data: c.api.Status(),
	})
	return data
}

// publishStatus publishes current status
func (c *Client) publishStatus() {
	if c.api == nil || c.client == nil || !c.client.IsConnected() {
		return
	}
	c.client.Publish(Topic(c.cfg.TopicPrefix, TopicStatus), 0, true, c.statusPayload()) // retained
}
