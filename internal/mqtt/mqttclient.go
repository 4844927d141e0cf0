// Package mqtt mirrors the bridge onto an MQTT broker: every broadcast
// is published to <prefix>/state, and JSON commands arriving on
// <prefix>/command are handed to the bridge like client messages.
package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/google/uuid"
	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
)

const (
	StateTopic   = "state"
	CommandTopic = "command"
)

// ClientOptions configures the broker connection.
// Broker: tcp://host:port
// ClientID: empty means "fsr-bridge-" plus a random suffix
// TopicPrefix: root of the state and command topics
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Qos            byte
	TopicPrefix    string
}

// OptionsFromConfig converts the YAML section.
func OptionsFromConfig(c config.MqttConfig) ClientOptions {
	id := c.ClientID
	if id == "" {
		id = "fsr-bridge-" + uuid.NewString()[:8]
	}
	return ClientOptions{
		Broker:         c.Broker,
		ClientID:       id,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      time.Duration(c.KeepAliveSec) * time.Second,
		ConnectTimeout: time.Duration(c.ConnectTimeoutSec) * time.Second,
		Qos:            c.Qos,
		TopicPrefix:    c.TopicPrefix,
	}
}

// Topic joins the prefix and a leaf topic.
func Topic(prefix, leaf string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return leaf
	}
	return prefix + "/" + leaf
}

// Client wraps a paho client for the bridge.
type Client struct {
	inner paho.Client
	opts  ClientOptions
	lc    logger.LoggingClient

	mu        sync.Mutex
	onCommand func([]byte)
}

// NewClient connects to the broker. Subscriptions made through
// SubscribeCommands are restored after every reconnect.
func NewClient(opts ClientOptions, lc logger.LoggingClient) (*Client, error) {
	c := &Client{opts: opts, lc: lc}

	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.resubscribe() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			lc.Warnf("MQTT connection lost: %v", err)
		})
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}

	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		c.inner.Disconnect(0)
		return nil, errors.NewCommonEdgeX(errors.KindCommunicationError,
			fmt.Sprintf("mqtt connect to %s timed out after %s", opts.Broker, opts.ConnectTimeout), nil)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindCommunicationError,
			fmt.Sprintf("mqtt connect to %s", opts.Broker), err)
	}
	lc.Infof("Connected to MQTT broker %s as %s", opts.Broker, opts.ClientID)
	return c, nil
}

// Publish sends a broadcast payload to the state topic without waiting
// for the broker. Payloads are dropped while the connection is down.
func (c *Client) Publish(payload []byte) {
	if !c.inner.IsConnectionOpen() {
		return
	}
	c.inner.Publish(Topic(c.opts.TopicPrefix, StateTopic), c.opts.Qos, false, payload)
}

// SubscribeCommands delivers every payload on the command topic to handler.
func (c *Client) SubscribeCommands(handler func([]byte)) error {
	c.mu.Lock()
	c.onCommand = handler
	c.mu.Unlock()
	return c.subscribe(handler)
}

func (c *Client) subscribe(handler func([]byte)) error {
	topic := Topic(c.opts.TopicPrefix, CommandTopic)
	tok := c.inner.Subscribe(topic, c.opts.Qos, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return errors.NewCommonEdgeX(errors.KindCommunicationError, "mqtt subscribe to "+topic+" timed out", nil)
	}
	if err := tok.Error(); err != nil {
		return errors.NewCommonEdgeX(errors.KindCommunicationError, "mqtt subscribe to "+topic, err)
	}
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	handler := c.onCommand
	c.mu.Unlock()
	if handler == nil {
		return
	}
	if err := c.subscribe(handler); err != nil {
		c.lc.Errorf("Failed to restore command subscription: %v", err)
	}
}

// Disconnect waits up to quiesce milliseconds for pending work, then closes.
func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}
