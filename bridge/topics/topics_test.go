package topics

import (
	"errors"
	"testing"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
	is2 "github.com/matryer/is"
)

// Every entry must be reachable from both of its names, and only from those.
func TestRegistry_Bijection(t *testing.T) {
	is := is2.New(t)
	for _, topic := range All() {
		got, err := Default().ByMiddlewareName(topic.MiddlewareName)
		is.NoErr(err)
		is.Equal(got, topic)
		got, err = Default().ByBrokerName(topic.BrokerName)
		is.NoErr(err)
		is.Equal(got, topic)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	is := is2.New(t)
	for _, name := range []string{"", "/scan", "/Scan/", "scan_safe", "/SPIN_CONFIG"} {
		_, err := Default().ByMiddlewareName(name)
		is.True(errors.Is(err, ErrUnknownTopic))
		_, err = Default().ByBrokerName(name)
		is.True(errors.Is(err, ErrUnknownTopic))
	}
	// Names are looked up on their own side only.
	_, err := Default().ByMiddlewareName("/Scan")
	is.True(errors.Is(err, ErrUnknownTopic))
	_, err = Default().ByBrokerName("/scan_safe")
	var ute *UnknownTopicError
	is.True(errors.As(err, &ute))
	is.Equal(ute.Side, "broker")
	is.Equal(ute.Name, "/scan_safe")
}

func TestRegistry_Directions(t *testing.T) {
	is := is2.New(t)
	is.Equal(Default().Outbound(), []Topic{scanTopic})
	is.Equal(Default().Inbound(), []Topic{spinTopic})
	is.Equal(scanTopic.QoS, SensorQos)
	is.Equal(scanTopic.BrokerQoS(), byte(1))
	is.Equal(spinTopic.BrokerQoS(), byte(1))
}

func TestRegistry_SensorQos(t *testing.T) {
	is := is2.New(t)
	is.Equal(SensorQos.History, KeepLast)
	is.Equal(SensorQos.Depth, 5)
	is.Equal(SensorQos.Reliability, BestEffort)
	is.Equal(SensorQos.Durability, Volatile)
}

func TestNewRegistry_Invalid(t *testing.T) {
	ok := Topic{MiddlewareName: "/a", BrokerName: "a", Direction: Outbound, Kind: msgs.KindLaserScan, QoS: SensorQos}
	tests := []struct {
		name  string
		table []Topic
	}{
		{"empty middleware name", []Topic{{BrokerName: "a", Direction: Outbound, Kind: msgs.KindLaserScan, QoS: SensorQos}}},
		{"empty broker name", []Topic{{MiddlewareName: "/a", Direction: Outbound, Kind: msgs.KindLaserScan, QoS: SensorQos}}},
		{"no direction", []Topic{{MiddlewareName: "/a", BrokerName: "a", Kind: msgs.KindLaserScan, QoS: SensorQos}}},
		{"no kind", []Topic{{MiddlewareName: "/a", BrokerName: "a", Direction: Outbound, QoS: SensorQos}}},
		{"zero depth", []Topic{{MiddlewareName: "/a", BrokerName: "a", Direction: Outbound, Kind: msgs.KindLaserScan}}},
		{"duplicate middleware", []Topic{ok, {MiddlewareName: "/a", BrokerName: "b", Direction: Inbound, Kind: msgs.KindSpinCommands, QoS: DefaultQos}}},
		{"duplicate broker (N:1)", []Topic{ok, {MiddlewareName: "/b", BrokerName: "a", Direction: Inbound, Kind: msgs.KindSpinCommands, QoS: DefaultQos}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.table)
			if err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestRegistry_TopicsIsCopy(t *testing.T) {
	is := is2.New(t)
	list := Default().Topics()
	list[0].BrokerName = "mutated"
	got, err := Default().ByMiddlewareName(scanTopic.MiddlewareName)
	is.NoErr(err)
	is.Equal(got.BrokerName, "/Scan")
}

func TestAll_IsCopy(t *testing.T) {
	is := is2.New(t)
	list := All()
	is.Equal(len(list), 2)
	list[0].MiddlewareName = "/mutated"
	is.Equal(All()[0].MiddlewareName, "/scan_safe")
	is.Equal(len(All()), 2)
	is.Equal(Default().Topics(), All())
}
