package mqtt

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

type Params struct {
	Broker         string
	Port           int
	Clientid       string
	Tls            bool
	TlsConfig      *tls.Config
	ObsChannel     observability.Channel
	LogLevel       log.LogLevel
	ConnectTimeout time.Duration
	ChannelSize    int
}

type ChannelMessage struct {
	Topic   string
	Content []byte
}

type MessageChannel chan ChannelMessage

type subscription struct {
	topic string
	qos   byte
}

type Client struct {
	paho       paho.Client
	broker     string
	port       int
	clientId   string
	tls        bool
	ch         MessageChannel
	obsChannel observability.Channel
	logger     *log.Logger
	done       chan struct{}
	closeOnce  sync.Once

	subMu         sync.Mutex
	subscriptions []subscription
}
