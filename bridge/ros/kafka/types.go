package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/ros"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/celerway/rosmqttbridge/log"
)

// Params for a node that reaches the ROS graph through a ROS<->Kafka gateway.
type Params struct {
	Brokers       []string
	TopicPrefix   string // prepended to the mapped topic name, e.g. "ros."
	Namespace     string
	LogLevel      log.LogLevel
	Timeout       time.Duration // per write, and for the startup probe
	RetryInterval time.Duration // pause after a failed read
}

type readerFactory func(kafkaTopic string, qos topics.QosPolicy) (KafkaReader, error)

// Node implements the bridge's middleware node on top of kafka-go.
type Node struct {
	name          string
	prefix        string
	dispatcher    *ros.Dispatcher
	writer        KafkaWriter
	newReader     readerFactory
	timeout       time.Duration
	retryInterval time.Duration
	logger        *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	readers []KafkaReader
	closed  bool
}
