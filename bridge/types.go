package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	"github.com/celerway/rosmqttbridge/bridge/mqtt"
	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/bridge/ros"
	"github.com/celerway/rosmqttbridge/bridge/shutdown"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/celerway/rosmqttbridge/log"
)

var (
	ErrStartup             = errors.New("startup failed")
	ErrTransport           = errors.New("transport failure")
	ErrGracePeriodExceeded = errors.New("grace period exceeded")
)

// Params is the process configuration handed over from cmd.
type Params struct {
	MqttBroker         string
	MqttPort           int
	MqttTls            bool
	MqttClientId       string
	TlsRootCrtFile     string
	MqttClientCertFile string
	MqttClientKeyFile  string

	RosNamespace        string
	MiddlewareTransport string // "kafka" or "loopback"
	KafkaBrokers        []string
	KafkaTopicPrefix    string

	HealthPort  int
	LogLevel    log.LogLevel
	GracePeriod time.Duration
}

// Node is the middleware side as seen by the actor. SpinOnce hands over at most one
// sample; samples not yet taken stay in the node's keep-last history.
type Node interface {
	Name() string
	Subscribe(topic string, kind msgs.Kind, qos topics.QosPolicy) error
	SpinOnce(timeout time.Duration) (ros.Sample, bool, error)
	Publish(ctx context.Context, topic string, msg msgs.InboundMessage) error
	Dropped() uint64 // samples lost to keep-last history so far
	Close() error
}

// Broker is the MQTT side as seen by the actor.
type Broker interface {
	Subscribe(topic string, qos byte) error
	Messages() <-chan mqtt.ChannelMessage
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Close()
}

type NodeFactory func(ctx context.Context) (Node, error)

type BrokerFactory func(ctx context.Context) (Broker, error)

type State int32

const (
	Starting State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

type ActorParams struct {
	Registry      *topics.Registry
	Coordinator   *shutdown.Coordinator
	NodeFactory   NodeFactory
	BrokerFactory BrokerFactory

	SpinInterval         time.Duration // pause after a failed spin
	SpinTimeout          time.Duration // how long one spin waits for a sample
	PublishTimeout       time.Duration
	GracePeriod          time.Duration
	MaxTransportFailures int

	ObsChannel    observability.Channel
	OnStateChange func(State)
	LogLevel      log.LogLevel
}

// Actor owns both connections for one bridge session.
type Actor struct {
	registry      *topics.Registry
	coordinator   *shutdown.Coordinator
	nodeFactory   NodeFactory
	brokerFactory BrokerFactory

	spinInterval   time.Duration
	spinTimeout    time.Duration
	publishTimeout time.Duration
	gracePeriod    time.Duration
	maxFailures    int

	obsChannel    observability.Channel
	onStateChange func(State)
	logger        *log.Logger

	state       atomic.Int32
	releaseOnce sync.Once
}
