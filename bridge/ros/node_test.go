package ros

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	is2 "github.com/matryer/is"
)

func scan(sec int32) msgs.LaserScan {
	return msgs.LaserScan{Header: msgs.Header{Stamp: msgs.Time{Sec: sec}}}
}

func TestNodeName(t *testing.T) {
	is := is2.New(t)
	a, b := NewNodeName(), NewNodeName()
	is.True(strings.HasPrefix(a, NodePrefix))
	is.True(a != b)
	is.Equal(len(a), len(NodePrefix)+32) // uuid without dashes
	is.True(!strings.Contains(a, "-"))
}

func TestQualifiedName(t *testing.T) {
	is := is2.New(t)
	is.Equal(QualifiedName("", "n"), "/n")
	is.Equal(QualifiedName("/", "n"), "/n")
	is.Equal(QualifiedName("robot1", "n"), "/robot1/n")
	is.Equal(QualifiedName("/robot1/", "n"), "/robot1/n")
}

// drain takes everything pending, oldest first.
func drain(d *Dispatcher) []int32 {
	got := []int32{}
	for {
		s, ok := d.SpinOnce(0)
		if !ok {
			return got
		}
		got = append(got, s.Msg.(msgs.LaserScan).Header.Stamp.Sec)
	}
}

func TestDispatcher_KeepLast(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/scan_safe", topics.SensorQos) // depth 5
	for i := int32(0); i < 8; i++ {
		is.True(d.Enqueue("/scan_safe", scan(i)))
	}
	is.Equal(d.Dropped(), uint64(3))
	is.Equal(d.Backlog(), 5)
	s, ok := d.SpinOnce(0)
	is.True(ok)
	is.Equal(s.Topic, "/scan_safe")
	is.Equal(s.Msg.(msgs.LaserScan).Header.Stamp.Sec, int32(3))
	is.Equal(drain(d), []int32{4, 5, 6, 7})
}

// A consumer that spins without taking samples away (a slow broker) must not let
// the backlog grow past the history depth. Only the newest samples survive.
func TestDispatcher_BacklogBoundedWhileConsumerStalls(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/scan_safe", topics.SensorQos)
	var inFlight []int32
	for i := int32(0); i < 40; i++ {
		d.Enqueue("/scan_safe", scan(i))
		if i == 0 {
			// the consumer takes one sample and then hangs on it
			s, ok := d.SpinOnce(0)
			is.True(ok)
			inFlight = append(inFlight, s.Msg.(msgs.LaserScan).Header.Stamp.Sec)
		}
		is.True(d.Backlog() <= topics.SensorQos.Depth)
	}
	is.Equal(inFlight, []int32{0})
	is.Equal(d.Dropped(), uint64(34))
	is.Equal(drain(d), []int32{35, 36, 37, 38, 39})
}

// History is per topic: a busy topic doesn't push out samples of a quiet one.
func TestDispatcher_PerTopicHistory(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/a", topics.QosPolicy{History: topics.KeepLast, Depth: 1})
	d.Subscribe("/b", topics.QosPolicy{History: topics.KeepLast, Depth: 3})
	d.Enqueue("/b", scan(1))
	d.Enqueue("/a", scan(2))
	d.Enqueue("/b", scan(3))
	d.Enqueue("/a", scan(4))
	is.Equal(drain(d), []int32{1, 3, 4})
}

func TestDispatcher_Unsubscribed(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	is.True(!d.Enqueue("/nobody", scan(1)))
	_, ok := d.SpinOnce(0)
	is.True(!ok)
}

func TestDispatcher_KeepAll(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/a", topics.QosPolicy{History: topics.KeepAll})
	for i := int32(0); i < 20; i++ {
		d.Enqueue("/a", scan(i))
	}
	is.Equal(d.Dropped(), uint64(0))
	is.Equal(len(drain(d)), 20)
}

func TestDispatcher_SpinWaitsForWork(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/a", topics.SensorQos)
	start := time.Now()
	_, ok := d.SpinOnce(20 * time.Millisecond)
	is.True(!ok)
	is.True(time.Since(start) >= 20*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.Enqueue("/a", scan(1))
	}()
	s, ok := d.SpinOnce(time.Second)
	is.True(ok)
	is.Equal(s.Msg.(msgs.LaserScan).Header.Stamp.Sec, int32(1))
}

func TestDispatcher_Closed(t *testing.T) {
	is := is2.New(t)
	d := NewDispatcher()
	d.Subscribe("/a", topics.SensorQos)
	d.Enqueue("/a", scan(1))
	d.Close()
	is.True(!d.Enqueue("/a", scan(2)))
	_, ok := d.SpinOnce(0)
	is.True(!ok)
	is.Equal(d.Backlog(), 0)
}

func TestLoopbackNode(t *testing.T) {
	is := is2.New(t)
	n := NewLoopbackNode("robot")
	is.True(strings.HasPrefix(n.Name(), "/robot/"+NodePrefix))
	is.NoErr(n.Subscribe("/scan_safe", msgs.KindLaserScan, topics.SensorQos))
	is.True(n.Inject("/scan_safe", scan(7)))
	s, ok, err := n.SpinOnce(0)
	is.NoErr(err)
	is.True(ok)
	is.Equal(s.Topic, "/scan_safe")
	is.Equal(n.Backlog(), 0)

	cmd := msgs.SpinCommands{Commands: []msgs.SpinCommand{{Omega: 1, Duration: 1}}, Period: 1}
	is.NoErr(n.Publish(context.Background(), "/spin_config", cmd))
	is.Equal(n.Published(), []Published{{Topic: "/spin_config", Msg: cmd}})
	is.Equal(<-n.Notify(), Published{Topic: "/spin_config", Msg: cmd})

	boom := errors.New("boom")
	n.SetPublishError(boom)
	is.True(errors.Is(n.Publish(context.Background(), "/spin_config", cmd), boom))

	is.NoErr(n.Close())
	_, _, err = n.SpinOnce(0)
	is.True(errors.Is(err, ErrNodeClosed))
	is.True(!n.Inject("/scan_safe", scan(8)))
}

func TestLoopbackNode_PublishLag(t *testing.T) {
	is := is2.New(t)
	n := NewLoopbackNode("")
	n.SetPublishLag(20 * time.Millisecond)
	cmd := msgs.SpinCommands{Period: 1}
	start := time.Now()
	is.NoErr(n.Publish(context.Background(), "/spin_config", cmd))
	is.True(time.Since(start) >= 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	n.SetPublishLag(time.Second)
	is.True(errors.Is(n.Publish(ctx, "/spin_config", cmd), context.DeadlineExceeded))
	is.Equal(len(n.Published()), 1)
}

func TestLoopbackNode_InvalidQos(t *testing.T) {
	n := NewLoopbackNode("")
	if err := n.Subscribe("/a", msgs.KindLaserScan, topics.QosPolicy{}); err == nil {
		t.Errorf("expected error for zero depth keep-last")
	}
}
