// Package msgs holds the structured middleware message types the bridge relays.
// They mirror the ROS 2 definitions (sensor_msgs/LaserScan and the spin controller's
// SpinCommands) but the bridge treats them as plain values.
package msgs

type Kind int

const (
	KindUnknown Kind = iota
	KindLaserScan
	KindSpinCommands
)

func (k Kind) String() string {
	switch k {
	case KindLaserScan:
		return "LaserScan"
	case KindSpinCommands:
		return "SpinCommands"
	default:
		return "unknown"
	}
}

// OutboundMessage is anything that travels middleware -> MQTT.
type OutboundMessage interface {
	Kind() Kind
	outbound()
}

// InboundMessage is anything that travels MQTT -> middleware.
type InboundMessage interface {
	Kind() Kind
	inbound()
}

type Time struct {
	Sec     int32  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// LaserScan is a single scan from a planar laser range-finder.
type LaserScan struct {
	Header         Header    `json:"header"`
	AngleMin       float32   `json:"angle_min"`
	AngleMax       float32   `json:"angle_max"`
	AngleIncrement float32   `json:"angle_increment"`
	TimeIncrement  float32   `json:"time_increment"`
	ScanTime       float32   `json:"scan_time"`
	RangeMin       float32   `json:"range_min"`
	RangeMax       float32   `json:"range_max"`
	Ranges         []float32 `json:"ranges"`
	Intensities    []float32 `json:"intensities"`
}

func (LaserScan) Kind() Kind { return KindLaserScan }
func (LaserScan) outbound()  {}

type SpinCommand struct {
	Omega    float64 `json:"omega"`
	Duration float64 `json:"duration"`
}

// SpinCommands is a sequence of angular velocity commands executed in order,
// repeated every Period seconds.
type SpinCommands struct {
	Commands []SpinCommand `json:"commands"`
	Period   float64       `json:"period"`
}

func (SpinCommands) Kind() Kind { return KindSpinCommands }
func (SpinCommands) inbound()   {}
