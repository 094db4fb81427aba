package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/codec"
	"github.com/celerway/rosmqttbridge/bridge/mqtt"
	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/bridge/ros"
	"github.com/celerway/rosmqttbridge/bridge/shutdown"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/celerway/rosmqttbridge/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSpinInterval         = 20 * time.Millisecond
	defaultSpinTimeout          = 10 * time.Millisecond
	defaultPublishTimeout       = 5 * time.Second
	defaultGracePeriod          = 10 * time.Second
	defaultMaxTransportFailures = 5
)

func NewActor(p ActorParams) *Actor {
	if p.Registry == nil {
		p.Registry = topics.Default()
	}
	if p.Coordinator == nil {
		p.Coordinator = shutdown.New()
	}
	if p.SpinInterval <= 0 {
		p.SpinInterval = defaultSpinInterval
	}
	if p.SpinTimeout <= 0 {
		p.SpinTimeout = defaultSpinTimeout
	}
	if p.PublishTimeout <= 0 {
		p.PublishTimeout = defaultPublishTimeout
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = defaultGracePeriod
	}
	if p.MaxTransportFailures <= 0 {
		p.MaxTransportFailures = defaultMaxTransportFailures
	}
	logger := log.NewWithPrefix(os.Stdout, os.Stderr, "[bridge]")
	logger.SetLevel(p.LogLevel)
	a := &Actor{
		registry:       p.Registry,
		coordinator:    p.Coordinator,
		nodeFactory:    p.NodeFactory,
		brokerFactory:  p.BrokerFactory,
		spinInterval:   p.SpinInterval,
		spinTimeout:    p.SpinTimeout,
		publishTimeout: p.PublishTimeout,
		gracePeriod:    p.GracePeriod,
		maxFailures:    p.MaxTransportFailures,
		obsChannel:     p.ObsChannel,
		onStateChange:  p.OnStateChange,
		logger:         logger,
	}
	a.state.Store(int32(Starting))
	return a
}

func (a *Actor) State() State {
	return State(a.state.Load())
}

func (a *Actor) setState(s State) {
	a.state.Store(int32(s))
	a.logger.Debugf("State: %s", s)
	if a.onStateChange != nil {
		a.onStateChange(s)
	}
}

// Run runs one bridge session. It returns nil after a clean shutdown, triggered by
// the coordinator or by cancelling ctx.
func (a *Actor) Run(ctx context.Context) error {
	a.setState(Starting)
	stopWatch := a.coordinator.TriggerOnDone(ctx)
	defer stopWatch()
	node, broker, err := a.start(ctx)
	if err != nil {
		a.setState(Stopped)
		return err
	}
	a.logger.Infof("Bridge running as %s", node.Name())
	a.setState(Running)

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return a.middlewarePump(gctx, node, broker)
	})
	g.Go(func() error {
		return a.brokerPump(gctx, node, broker)
	})
	pumpsDone := make(chan error, 1)
	go func() {
		pumpsDone <- g.Wait()
	}()

	var runErr error
	select {
	case runErr = <-pumpsDone:
		// A pump gave up on its own; the session is over for everyone.
		a.setState(Draining)
		a.coordinator.Trigger()
	case <-a.coordinator.Done():
		a.logger.Info("Shutdown requested, draining")
		a.setState(Draining)
		select {
		case runErr = <-pumpsDone:
		case <-time.After(a.gracePeriod):
			a.logger.Errorf("Pumps still busy after %v, closing connections", a.gracePeriod)
			a.release(node, broker)
			<-pumpsDone
			runErr = ErrGracePeriodExceeded
		}
	}
	a.release(node, broker)
	a.setState(Stopped)
	if runErr != nil {
		a.logger.Errorf("Bridge stopped: %s", runErr)
		return runErr
	}
	a.logger.Info("Bridge stopped")
	return nil
}

// start acquires the node, then the broker, and subscribes on both. Whatever was
// acquired is released again on failure.
func (a *Actor) start(ctx context.Context) (Node, Broker, error) {
	if a.nodeFactory == nil || a.brokerFactory == nil {
		return nil, nil, fmt.Errorf("%w: missing node or broker factory", ErrStartup)
	}
	node, err := a.nodeFactory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: middleware node: %w", ErrStartup, err)
	}
	broker, err := a.brokerFactory(ctx)
	if err != nil {
		a.closeNode(node)
		return nil, nil, fmt.Errorf("%w: broker: %w", ErrStartup, err)
	}
	for _, t := range a.registry.Outbound() {
		if err := node.Subscribe(t.MiddlewareName, t.Kind, t.QoS); err != nil {
			a.release(node, broker)
			return nil, nil, fmt.Errorf("%w: subscribe %s: %w", ErrStartup, t.MiddlewareName, err)
		}
		a.logger.Debugf("Subscribed to middleware topic %s (%s)", t.MiddlewareName, t.QoS)
	}
	for _, t := range a.registry.Inbound() {
		if err := broker.Subscribe(t.BrokerName, t.BrokerQoS()); err != nil {
			a.release(node, broker)
			return nil, nil, fmt.Errorf("%w: subscribe %s: %w", ErrStartup, t.BrokerName, err)
		}
	}
	return node, broker, nil
}

func (a *Actor) release(node Node, broker Broker) {
	a.releaseOnce.Do(func() {
		broker.Close()
		a.closeNode(node)
	})
}

func (a *Actor) closeNode(node Node) {
	if err := node.Close(); err != nil {
		a.logger.Warnf("Closing middleware node: %s", err)
	}
}

// failureCounter escalates after max consecutive failures of one operation.
type failureCounter struct {
	op    string
	max   int
	count int
}

func (f *failureCounter) fail(err error) error {
	f.count++
	if f.count >= f.max {
		return fmt.Errorf("%w: %s failed %d times in a row: %w", ErrTransport, f.op, f.count, err)
	}
	return nil
}

func (f *failureCounter) ok() {
	f.count = 0
}

// middlewarePump spins the node and forwards each sample to the broker before taking
// the next one.
func (a *Actor) middlewarePump(ctx context.Context, node Node, broker Broker) error {
	spins := failureCounter{op: "middleware spin", max: a.maxFailures}
	publishes := failureCounter{op: "broker publish", max: a.maxFailures}
	var dropped uint64
	for {
		select {
		case <-a.coordinator.Done():
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		s, ok, err := node.SpinOnce(a.spinTimeout)
		if err != nil {
			a.logger.Errorf("Spinning middleware node: %s", err)
			a.report(observability.RosError)
			if err := spins.fail(err); err != nil {
				return err
			}
			select {
			case <-time.After(a.spinInterval):
			case <-a.coordinator.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
			continue
		}
		spins.ok()
		dropped = a.reportDropped(node, dropped)
		if !ok {
			continue
		}
		if a.coordinator.IsTriggered() {
			return nil
		}
		if err := a.forwardSample(broker, s); err != nil {
			if err := publishes.fail(err); err != nil {
				return err
			}
			continue
		}
		publishes.ok()
	}
}

// reportDropped counts samples the node discarded since the last call.
func (a *Actor) reportDropped(node Node, seen uint64) uint64 {
	now := node.Dropped()
	if now > seen {
		a.logger.Debugf("Middleware history dropped %d samples", now-seen)
		for i := seen; i < now; i++ {
			a.report(observability.RosDropped)
		}
	}
	return now
}

// forwardSample returns an error only for transport failures. Samples that can't
// be bridged are logged, counted and dropped.
func (a *Actor) forwardSample(broker Broker, s ros.Sample) error {
	a.report(observability.RosReceived)
	t, err := a.registry.ByMiddlewareName(s.Topic)
	if err == nil && t.Direction != topics.Outbound {
		err = &topics.UnknownTopicError{Name: s.Topic, Side: "middleware"}
	}
	if err != nil {
		a.logger.WithField("topic", s.Topic).Warnf("Dropping sample: %s", err)
		a.report(observability.UnknownTopic)
		return nil
	}
	payload, err := codec.Encode(s.Msg)
	if err != nil {
		a.logger.WithField("topic", s.Topic).Errorf("Dropping sample: %s", err)
		a.report(observability.ConversionError)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.publishTimeout)
	defer cancel()
	if err := broker.Publish(ctx, t.BrokerName, t.BrokerQoS(), payload); err != nil {
		a.logger.WithField("topic", t.BrokerName).Errorf("Publishing to broker: %s", err)
		a.report(observability.MqttError)
		return err
	}
	a.logger.Tracef("Forwarded %s -> %s (%d bytes)", t.MiddlewareName, t.BrokerName, len(payload))
	a.report(observability.MqttPublished)
	return nil
}

// brokerPump forwards broker messages to the node.
func (a *Actor) brokerPump(ctx context.Context, node Node, broker Broker) error {
	publishes := failureCounter{op: "middleware publish", max: a.maxFailures}
	for {
		select {
		case <-a.coordinator.Done():
			return nil
		case <-ctx.Done():
			return nil
		case m, ok := <-broker.Messages():
			if !ok {
				return fmt.Errorf("%w: broker message stream closed", ErrTransport)
			}
			if a.coordinator.IsTriggered() {
				return nil
			}
			if err := a.forwardMessage(node, m); err != nil {
				if err := publishes.fail(err); err != nil {
					return err
				}
				continue
			}
			publishes.ok()
		}
	}
}

func (a *Actor) forwardMessage(node Node, m mqtt.ChannelMessage) error {
	logger := a.logger.WithField("topic", m.Topic)
	t, err := a.registry.ByBrokerName(m.Topic)
	if err == nil && t.Direction != topics.Inbound {
		err = &topics.UnknownTopicError{Name: m.Topic, Side: "broker"}
	}
	if err != nil {
		logger.Warnf("Dropping message: %s", err)
		a.report(observability.UnknownTopic)
		return nil
	}
	msg, err := codec.Decode(m.Content)
	if err != nil {
		a.reportDecodeError(logger, err)
		return nil
	}
	if msg.Kind() != t.Kind {
		logger.Warnf("Dropping message: decoded %s, topic carries %s", msg.Kind(), t.Kind)
		a.report(observability.SchemaViolation)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.publishTimeout)
	defer cancel()
	if err := node.Publish(ctx, t.MiddlewareName, msg); err != nil {
		logger.Errorf("Publishing to middleware: %s", err)
		a.report(observability.RosError)
		return err
	}
	a.logger.Tracef("Forwarded %s -> %s", t.BrokerName, t.MiddlewareName)
	a.report(observability.RosPublished)
	return nil
}

func (a *Actor) reportDecodeError(logger *log.Logger, err error) {
	var sv *codec.SchemaViolation
	var ce *codec.ConversionError
	switch {
	case errors.As(err, &sv):
		logger.WithFields(log.Fields{"field": sv.Field, "index": sv.Index}).
			Warnf("Dropping message, schema violation: %s", sv.Reason)
		a.report(observability.SchemaViolation)
	case errors.As(err, &ce):
		logger.WithFields(log.Fields{"field": ce.Field, "index": ce.Index}).
			Warnf("Dropping message, conversion failed: %s", ce.Reason)
		a.report(observability.ConversionError)
	default:
		logger.Warnf("Dropping message: %s", err)
		a.report(observability.SchemaViolation)
	}
}

func (a *Actor) report(msg observability.StatusMessage) {
	if a.obsChannel == nil {
		return
	}
	a.obsChannel <- msg
}
