package topics

import "fmt"

type History int

const (
	KeepLast History = iota
	KeepAll
)

type Reliability int

const (
	Reliable Reliability = iota
	BestEffort
)

type Durability int

const (
	Volatile Durability = iota
	TransientLocal
)

// QosPolicy is the subset of a ROS 2 QoS profile the bridge sets explicitly. Deadline,
// lifespan and liveliness are left at the middleware defaults.
type QosPolicy struct {
	History     History
	Depth       int
	Reliability Reliability
	Durability  Durability
}

// SensorQos is tuned for high-rate, loss-tolerant sensor data.
var SensorQos = QosPolicy{
	History:     KeepLast,
	Depth:       5,
	Reliability: BestEffort,
	Durability:  Volatile,
}

// DefaultQos matches the ROS 2 default profile.
var DefaultQos = QosPolicy{
	History:     KeepLast,
	Depth:       10,
	Reliability: Reliable,
	Durability:  Volatile,
}

func (q QosPolicy) Validate() error {
	if q.History == KeepLast && q.Depth < 1 {
		return fmt.Errorf("qos: keep-last history needs depth >= 1, got %d", q.Depth)
	}
	return nil
}

func (q QosPolicy) String() string {
	h := "keep_last"
	if q.History == KeepAll {
		h = "keep_all"
	}
	r := "reliable"
	if q.Reliability == BestEffort {
		r = "best_effort"
	}
	d := "volatile"
	if q.Durability == TransientLocal {
		d = "transient_local"
	}
	return fmt.Sprintf("%s(%d)/%s/%s", h, q.Depth, r, d)
}
