package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	"github.com/celerway/rosmqttbridge/bridge/ros"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/celerway/rosmqttbridge/log"
	gokafka "github.com/segmentio/kafka-go"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// Initialize checks that a broker answers and sets up the writer. Readers are
// created per subscription.
func Initialize(ctx context.Context, p Params) (*Node, error) {
	if len(p.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers given")
	}
	if p.Timeout == 0 {
		p.Timeout = defaultTimeout
	}
	if p.RetryInterval == 0 {
		p.RetryInterval = defaultRetryInterval
	}
	if err := probe(ctx, p.Brokers, p.Timeout); err != nil {
		return nil, err
	}
	writer := &gokafka.Writer{
		Addr:         gokafka.TCP(p.Brokers...),
		MaxAttempts:  3,
		BatchSize:    1,
		BatchTimeout: time.Millisecond * 20, // Just a really low timeout so the batch is written more or less right away.
		RequiredAcks: gokafka.RequireAll,
		Async:        false,
		ErrorLogger:  log.NewWithPrefix(os.Stdout, os.Stderr, "[kafka-internal]"),
	}
	readerLogger := log.NewWithPrefix(os.Stdout, os.Stderr, "[kafka-reader]")
	newReader := func(kafkaTopic string, qos topics.QosPolicy) (KafkaReader, error) {
		r := gokafka.NewReader(gokafka.ReaderConfig{
			Brokers:     p.Brokers,
			Topic:       kafkaTopic,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     100 * time.Millisecond,
			ErrorLogger: readerLogger,
		})
		// Volatile durability: only what is published from now on.
		offset := gokafka.LastOffset
		if qos.Durability == topics.TransientLocal {
			offset = gokafka.FirstOffset
		}
		if err := r.SetOffset(offset); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("setting offset on %s: %w", kafkaTopic, err)
		}
		return r, nil
	}
	return newNode(p, writer, newReader), nil
}

func newNode(p Params, writer KafkaWriter, newReader readerFactory) *Node {
	logger := log.NewWithPrefix(os.Stdout, os.Stderr, "[ros-kafka]")
	logger.SetLevel(p.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		name:          ros.QualifiedName(p.Namespace, ros.NewNodeName()),
		prefix:        p.TopicPrefix,
		dispatcher:    ros.NewDispatcher(),
		writer:        writer,
		newReader:     newReader,
		timeout:       p.Timeout,
		retryInterval: p.RetryInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func probe(ctx context.Context, brokers []string, timeout time.Duration) error {
	var errs []error
	for _, b := range brokers {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := gokafka.DialContext(dialCtx, "tcp", b)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

// KafkaTopic maps a ROS topic name to a Kafka topic name: the leading slash is
// dropped and the remaining slashes become dots. /robot1/scan -> <prefix>robot1.scan
func KafkaTopic(prefix, rosTopic string) string {
	return prefix + strings.ReplaceAll(strings.TrimPrefix(rosTopic, "/"), "/", ".")
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Subscribe(topic string, kind msgs.Kind, qos topics.QosPolicy) error {
	if kind != msgs.KindLaserScan {
		return fmt.Errorf("kafka node: cannot subscribe to %s messages on %s", kind, topic)
	}
	if err := qos.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ros.ErrNodeClosed
	}
	kt := KafkaTopic(n.prefix, topic)
	r, err := n.newReader(kt, qos)
	if err != nil {
		return err
	}
	n.readers = append(n.readers, r)
	n.dispatcher.Subscribe(topic, qos)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop(topic, r)
	}()
	n.logger.Infof("subscribed to %s (kafka topic %s, qos %s)", topic, kt, qos)
	return nil
}

// readLoop feeds the dispatcher until the node is closed.
func (n *Node) readLoop(topic string, r KafkaReader) {
	for {
		m, err := r.ReadMessage(n.ctx)
		if n.ctx.Err() != nil {
			return
		}
		if err != nil {
			n.logger.Warnf("read on %s: %s (retrying in %v)", topic, err, n.retryInterval)
			select {
			case <-time.After(n.retryInterval):
				continue
			case <-n.ctx.Done():
				return
			}
		}
		var scan msgs.LaserScan
		if err := json.Unmarshal(m.Value, &scan); err != nil {
			n.logger.Warnf("undecodable LaserScan on %s (offset %d): %s", topic, m.Offset, err)
			continue
		}
		n.logger.Tracef("sample on %s offset %d", topic, m.Offset)
		n.dispatcher.Enqueue(topic, scan)
	}
}

func (n *Node) Publish(ctx context.Context, topic string, msg msgs.InboundMessage) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ros.ErrNodeClosed
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	m := gokafka.Message{
		Topic: KafkaTopic(n.prefix, topic),
		Key:   []byte(n.name),
		Value: value,
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	n.logger.Tracef("published %s on %s", msg.Kind(), topic)
	return nil
}

// SpinOnce takes the oldest sample the readers delivered, waiting up to timeout.
func (n *Node) SpinOnce(timeout time.Duration) (ros.Sample, bool, error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ros.Sample{}, false, ros.ErrNodeClosed
	}
	s, ok := n.dispatcher.SpinOnce(timeout)
	return s, ok, nil
}

func (n *Node) Dropped() uint64 {
	return n.dispatcher.Dropped()
}

// Close stops the readers, waits for them and closes the writer.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	readers := n.readers
	n.mu.Unlock()

	n.cancel()
	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.wg.Wait()
	n.dispatcher.Close()
	if err := n.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	n.logger.Info("kafka node closed")
	return errors.Join(errs...)
}
