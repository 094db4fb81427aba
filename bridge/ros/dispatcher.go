package ros

import (
	"sync"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	"github.com/celerway/rosmqttbridge/bridge/topics"
)

// Sample is one message received on a subscribed middleware topic.
type Sample struct {
	Topic string
	Msg   msgs.OutboundMessage
}

// Dispatcher is the executor shared by the node implementations. Transports enqueue
// samples as they arrive and SpinOnce hands them to the consumer one at a time. A
// sample stays in its topic's queue until it is taken, and each queue keeps at most
// QoS.Depth samples (keep-last), dropping the oldest.
type Dispatcher struct {
	mu      sync.Mutex
	subs    map[string]topics.QosPolicy
	pending []Sample
	counts  map[string]int
	dropped uint64
	closed  bool
	wake    chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs:   make(map[string]topics.QosPolicy),
		counts: make(map[string]int),
		wake:   make(chan struct{}, 1),
	}
}

// Subscribe starts accepting samples for topic.
func (d *Dispatcher) Subscribe(topic string, qos topics.QosPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[topic] = qos
}

func (d *Dispatcher) Subscribed(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.subs[topic]
	return ok
}

// Enqueue queues a sample. It returns false if the topic isn't subscribed or the
// dispatcher is closed.
func (d *Dispatcher) Enqueue(topic string, msg msgs.OutboundMessage) bool {
	d.mu.Lock()
	qos, ok := d.subs[topic]
	if !ok || d.closed {
		d.mu.Unlock()
		return false
	}
	if qos.History == topics.KeepLast && d.counts[topic] >= qos.Depth {
		d.dropOldest(topic)
	}
	d.pending = append(d.pending, Sample{Topic: topic, Msg: msg})
	d.counts[topic]++
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// must hold d.mu
func (d *Dispatcher) dropOldest(topic string) {
	for i, s := range d.pending {
		if s.Topic == topic {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			d.counts[topic]--
			d.dropped++
			return
		}
	}
}

// SpinOnce takes the oldest pending sample. If nothing is pending it waits up to
// timeout for something to arrive. ok is false when there was nothing to take.
func (d *Dispatcher) SpinOnce(timeout time.Duration) (s Sample, ok bool) {
	if d.Backlog() == 0 && timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-d.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return Sample{}, false
	}
	s = d.pending[0]
	d.pending[0] = Sample{}
	d.pending = d.pending[1:]
	d.counts[s.Topic]--
	return s, true
}

// Backlog is the number of samples waiting to be taken.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Dropped is the number of samples discarded by keep-last history.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting samples and discards the backlog.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.pending = nil
	d.counts = make(map[string]int)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
