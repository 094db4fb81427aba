package observability

import (
	"sync/atomic"

	"github.com/celerway/rosmqttbridge/log"
	"github.com/prometheus/client_golang/prometheus"
)

type Channel chan StatusMessage

type StatusMessage int

const (
	RosReceived StatusMessage = iota
	MqttPublished
	MqttReceived
	RosPublished
	UnknownTopic
	SchemaViolation
	ConversionError
	MqttError
	RosError
	RosDropped
)

func (d StatusMessage) String() string {
	names := [...]string{"RosReceived", "MqttPublished", "MqttReceived", "RosPublished",
		"UnknownTopic", "SchemaViolation", "ConversionError", "MqttError", "RosError", "RosDropped"}
	if d < 0 || int(d) >= len(names) {
		return "Unknown"
	}
	return names[d]
}

type Params struct {
	Channel    Channel
	HealthPort int
	LogLevel   log.LogLevel
}

type Observability struct {
	channel    Channel
	logger     *log.Logger
	healthPort int
	promReg    *prometheus.Registry
	ready      atomic.Bool

	counters map[StatusMessage]prometheus.Counter
	state    prometheus.Gauge
}
