package mqtt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultChannelSize    = 100
	disconnectQuiesce     = 250 // milliseconds
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

// Connect connects to the broker and returns once the connection is up. Lost
// connections are re-established by paho; subscriptions are restored on reconnect.
func Connect(ctx context.Context, p Params) (*Client, error) {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	if p.ChannelSize == 0 {
		p.ChannelSize = defaultChannelSize
	}
	logger := log.NewWithPrefix(os.Stdout, os.Stderr, "[mqtt]")
	logger.SetLevel(p.LogLevel)
	logger.Debugf("Broker: %s:%d (tls: %v)", p.Broker, p.Port, p.Tls)
	c := &Client{
		broker:     p.Broker,
		port:       p.Port,
		clientId:   p.Clientid,
		tls:        p.Tls,
		ch:         make(MessageChannel, p.ChannelSize),
		obsChannel: p.ObsChannel,
		logger:     logger,
		done:       make(chan struct{}),
	}
	opts := paho.NewClientOptions()
	if p.Tls {
		opts.SetTLSConfig(p.TlsConfig)
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.Broker, p.Port))
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.Broker, p.Port))
	}
	opts.SetClientID(c.clientId)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectTimeout(p.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)
	c.paho = paho.NewClient(opts)

	token := c.paho.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(p.ConnectTimeout):
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, p.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.logger.Infof("Connected to %s:%d as %s", c.broker, c.port, c.clientId)
	return c, nil
}

// handleConnect runs on the initial connect and on every reconnect.
func (c *Client) handleConnect(client paho.Client) {
	c.subMu.Lock()
	subs := append([]subscription(nil), c.subscriptions...)
	c.subMu.Unlock()
	for _, s := range subs {
		c.logger.Debugf("Restoring subscription to %s", s.topic)
		token := client.Subscribe(s.topic, s.qos, c.messageHandler)
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			c.logger.Errorf("Re-subscribing to %s: %s", s.topic, token.Error())
			c.report(observability.MqttError)
		}
	}
}

func (c *Client) handleConnectionLost(_ paho.Client, err error) {
	c.logger.Warnf("Connection to broker lost: %s", err)
	c.report(observability.MqttError)
}

// messageHandler is called by paho for every message, in order. With OrderMatters
// set, paho's incoming goroutine waits on it, and acks for our own publishes queue up
// behind it. So it never blocks: when the channel is full the message is dropped.
func (c *Client) messageHandler(_ paho.Client, msg paho.Message) {
	c.logger.Tracef("Received message on %s (%d bytes)", msg.Topic(), len(msg.Payload()))
	m := ChannelMessage{
		Topic:   msg.Topic(),
		Content: msg.Payload(),
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.ch <- m:
		c.report(observability.MqttReceived)
	default:
		c.logger.Warnf("Inbound queue full (%d), dropping message on %s", cap(c.ch), m.Topic)
		c.report(observability.MqttError)
	}
}

// Subscribe subscribes and remembers the subscription so it survives reconnects.
func (c *Client) Subscribe(topic string, qos byte) error {
	token := c.paho.Subscribe(topic, qos, c.messageHandler)
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("subscribe to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	c.subMu.Lock()
	c.subscriptions = append(c.subscriptions, subscription{topic: topic, qos: qos})
	c.subMu.Unlock()
	c.logger.Infof("Subscribed to %s (qos %d)", topic, qos)
	return nil
}

func (c *Client) Messages() <-chan ChannelMessage {
	return c.ch
}

// Publish publishes and waits for the broker to acknowledge (for qos > 0) or ctx to end.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := c.paho.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.paho.IsConnected()
}

// Close disconnects from the broker. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.paho.Disconnect(disconnectQuiesce)
		c.logger.Info("Disconnected from broker")
	})
}

func (c *Client) report(msg observability.StatusMessage) {
	if c.obsChannel == nil {
		return
	}
	select {
	case c.obsChannel <- msg:
	case <-c.done:
	}
}
