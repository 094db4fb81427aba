// Package ros holds the middleware side of the bridge: the sample dispatcher shared by
// the node implementations, node naming and an in-process loopback node.
package ros

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/google/uuid"
)

const NodePrefix = "robosapiens_rosmqttbridge_"

var ErrNodeClosed = errors.New("node closed")

// NewNodeName returns a unique node name, e.g. robosapiens_rosmqttbridge_9f1c...
func NewNodeName() string {
	return NodePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// QualifiedName joins namespace and node name the way ROS does. An empty namespace
// is the root namespace.
func QualifiedName(namespace, name string) string {
	ns := strings.Trim(namespace, "/")
	if ns == "" {
		return "/" + name
	}
	return "/" + ns + "/" + name
}

// Published is a message the bridge wrote to the loopback node.
type Published struct {
	Topic string
	Msg   msgs.InboundMessage
}

// LoopbackNode is a middleware node that lives in process. Samples come from Inject
// and publications are recorded. It's used by the tests and for running the bridge
// without a robot attached.
type LoopbackNode struct {
	name       string
	dispatcher *Dispatcher
	mu         sync.Mutex
	published  []Published
	publishErr error
	publishLag time.Duration
	spinErr    error
	notify     chan Published
	closed     bool
}

func NewLoopbackNode(namespace string) *LoopbackNode {
	return &LoopbackNode{
		name:       QualifiedName(namespace, NewNodeName()),
		dispatcher: NewDispatcher(),
		notify:     make(chan Published, 64),
	}
}

func (n *LoopbackNode) Name() string {
	return n.name
}

func (n *LoopbackNode) Subscribe(topic string, _ msgs.Kind, qos topics.QosPolicy) error {
	if err := qos.Validate(); err != nil {
		return err
	}
	n.dispatcher.Subscribe(topic, qos)
	return nil
}

func (n *LoopbackNode) Publish(ctx context.Context, topic string, msg msgs.InboundMessage) error {
	n.mu.Lock()
	lag := n.publishLag
	n.mu.Unlock()
	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.publishErr != nil {
		return fmt.Errorf("publish %s: %w", topic, n.publishErr)
	}
	p := Published{Topic: topic, Msg: msg}
	n.published = append(n.published, p)
	select {
	case n.notify <- p:
	default:
	}
	return nil
}

// SpinOnce hands over at most one sample, waiting up to timeout for one.
func (n *LoopbackNode) SpinOnce(timeout time.Duration) (Sample, bool, error) {
	n.mu.Lock()
	closed, err := n.closed, n.spinErr
	n.mu.Unlock()
	if closed {
		return Sample{}, false, ErrNodeClosed
	}
	if err != nil {
		return Sample{}, false, err
	}
	s, ok := n.dispatcher.SpinOnce(timeout)
	return s, ok, nil
}

// Dropped is the number of samples lost to keep-last history.
func (n *LoopbackNode) Dropped() uint64 {
	return n.dispatcher.Dropped()
}

// Backlog is the number of injected samples not yet taken by SpinOnce.
func (n *LoopbackNode) Backlog() int {
	return n.dispatcher.Backlog()
}

func (n *LoopbackNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.dispatcher.Close()
	return nil
}

// Inject plays the part of a middleware publisher on topic.
func (n *LoopbackNode) Inject(topic string, msg msgs.OutboundMessage) bool {
	return n.dispatcher.Enqueue(topic, msg)
}

// Published returns a copy of everything published so far.
func (n *LoopbackNode) Published() []Published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Published(nil), n.published...)
}

// Notify delivers publications as they happen. Delivery is best effort.
func (n *LoopbackNode) Notify() <-chan Published {
	return n.notify
}

func (n *LoopbackNode) SetPublishError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publishErr = err
}

// SetPublishLag makes every Publish take at least d, like a congested middleware.
func (n *LoopbackNode) SetPublishLag(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publishLag = d
}

func (n *LoopbackNode) SetSpinError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spinErr = err
}

func (n *LoopbackNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
