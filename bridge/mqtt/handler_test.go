package mqtt

import (
	"os"
	"testing"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/log"
	is2 "github.com/matryer/is"
)

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 1 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func newUnconnectedClient(size int) *Client {
	return &Client{
		ch:         make(MessageChannel, size),
		obsChannel: make(observability.Channel, 100),
		logger:     log.NewWithPrefix(os.Stdout, os.Stderr, "[mqtt]"),
		done:       make(chan struct{}),
	}
}

// Nobody reads Messages(). The handler must still return for every message, or
// paho's incoming goroutine stalls and publish acks never arrive.
func TestMessageHandler_FullQueueDoesNotBlock(t *testing.T) {
	is := is2.New(t)
	c := newUnconnectedClient(1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 5; i++ {
			c.messageHandler(nil, stubMessage{topic: "/spin_config", payload: []byte{byte('0' + i)}})
		}
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		is.Fail() // handler blocked on a full queue
	}
	is.Equal(len(c.ch), 1)
	msg := <-c.ch
	is.Equal(string(msg.Content), "0") // the oldest one made it, later ones were dropped
	counts := map[observability.StatusMessage]int{}
	for len(c.obsChannel) > 0 {
		counts[<-c.obsChannel]++
	}
	is.Equal(counts[observability.MqttReceived], 1)
	is.Equal(counts[observability.MqttError], 4)
}

func TestMessageHandler_KeepsOrder(t *testing.T) {
	is := is2.New(t)
	c := newUnconnectedClient(10)
	for i := 0; i < 10; i++ {
		c.messageHandler(nil, stubMessage{topic: "/spin_config", payload: []byte{byte('0' + i)}})
	}
	for i := 0; i < 10; i++ {
		is.Equal(string((<-c.ch).Content), string(rune('0'+i)))
	}
}

func TestMessageHandler_AfterClose(t *testing.T) {
	is := is2.New(t)
	c := newUnconnectedClient(1)
	close(c.done)
	c.messageHandler(nil, stubMessage{topic: "/spin_config"})
	is.Equal(len(c.ch), 0)
	is.Equal(len(c.obsChannel), 0)
}
