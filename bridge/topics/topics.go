// Package topics is the fixed mapping between ROS topic names and MQTT topic names.
// The table is defined here and validated when the package initializes. There is no
// runtime registration.
package topics

import (
	"errors"
	"fmt"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
)

// BrokerQoS is the MQTT delivery level used in both directions (at-least-once).
const BrokerQoS byte = 1

type Direction int

const (
	// Outbound topics flow from the middleware to the broker.
	Outbound Direction = iota + 1
	// Inbound topics flow from the broker to the middleware.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

type Topic struct {
	MiddlewareName string
	BrokerName     string
	Direction      Direction
	Kind           msgs.Kind
	QoS            QosPolicy
}

func (t Topic) String() string {
	return fmt.Sprintf("%s <-> %s (%s %s)", t.MiddlewareName, t.BrokerName, t.Direction, t.Kind)
}

// BrokerQoS is the MQTT QoS used when subscribing or publishing this topic.
func (t Topic) BrokerQoS() byte {
	return BrokerQoS
}

var (
	scanTopic = Topic{
		MiddlewareName: "/scan_safe",
		BrokerName:     "/Scan",
		Direction:      Outbound,
		Kind:           msgs.KindLaserScan,
		QoS:            SensorQos,
	}
	spinTopic = Topic{
		MiddlewareName: "/spin_config",
		BrokerName:     "/spin_config",
		Direction:      Inbound,
		Kind:           msgs.KindSpinCommands,
		QoS:            DefaultQos,
	}
	table           = []Topic{scanTopic, spinTopic}
	defaultRegistry = mustNewRegistry(table)
)

// All returns the complete topic table for this deployment. Every call returns a
// fresh copy.
func All() []Topic {
	return append([]Topic(nil), table...)
}

// Default is the registry built from All.
func Default() *Registry {
	return defaultRegistry
}

var ErrUnknownTopic = errors.New("unknown topic")

// UnknownTopicError is returned by lookups for names outside the table.
type UnknownTopicError struct {
	Name string
	Side string // "middleware" or "broker"
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("unknown %s topic '%s'", e.Side, e.Name)
}

func (e *UnknownTopicError) Is(target error) bool {
	return target == ErrUnknownTopic
}

type Registry struct {
	topics       []Topic
	byMiddleware map[string]Topic
	byBroker     map[string]Topic
}

// NewRegistry validates the table and indexes it by both names.
func NewRegistry(list []Topic) (*Registry, error) {
	r := &Registry{
		topics:       make([]Topic, 0, len(list)),
		byMiddleware: make(map[string]Topic, len(list)),
		byBroker:     make(map[string]Topic, len(list)),
	}
	for i, t := range list {
		if t.MiddlewareName == "" {
			return nil, fmt.Errorf("topic %d: empty middleware name", i)
		}
		if t.BrokerName == "" {
			return nil, fmt.Errorf("topic %d (%s): empty broker name", i, t.MiddlewareName)
		}
		if t.Direction != Outbound && t.Direction != Inbound {
			return nil, fmt.Errorf("topic %s: invalid direction %d", t.MiddlewareName, t.Direction)
		}
		if t.Kind == msgs.KindUnknown {
			return nil, fmt.Errorf("topic %s: no message kind", t.MiddlewareName)
		}
		if err := t.QoS.Validate(); err != nil {
			return nil, fmt.Errorf("topic %s: %w", t.MiddlewareName, err)
		}
		if _, dup := r.byMiddleware[t.MiddlewareName]; dup {
			return nil, fmt.Errorf("duplicate middleware topic '%s'", t.MiddlewareName)
		}
		if _, dup := r.byBroker[t.BrokerName]; dup {
			return nil, fmt.Errorf("duplicate broker topic '%s'", t.BrokerName)
		}
		r.topics = append(r.topics, t)
		r.byMiddleware[t.MiddlewareName] = t
		r.byBroker[t.BrokerName] = t
	}
	return r, nil
}

func mustNewRegistry(list []Topic) *Registry {
	r, err := NewRegistry(list)
	if err != nil {
		panic("invalid topic table: " + err.Error())
	}
	return r
}

func (r *Registry) ByMiddlewareName(name string) (Topic, error) {
	t, ok := r.byMiddleware[name]
	if !ok {
		return Topic{}, &UnknownTopicError{Name: name, Side: "middleware"}
	}
	return t, nil
}

func (r *Registry) ByBrokerName(name string) (Topic, error) {
	t, ok := r.byBroker[name]
	if !ok {
		return Topic{}, &UnknownTopicError{Name: name, Side: "broker"}
	}
	return t, nil
}

// Topics returns a copy of the table in definition order.
func (r *Registry) Topics() []Topic {
	return append([]Topic(nil), r.topics...)
}

func (r *Registry) Outbound() []Topic {
	return r.filter(Outbound)
}

func (r *Registry) Inbound() []Topic {
	return r.filter(Inbound)
}

func (r *Registry) filter(d Direction) []Topic {
	var ret []Topic
	for _, t := range r.topics {
		if t.Direction == d {
			ret = append(ret, t)
		}
	}
	return ret
}
