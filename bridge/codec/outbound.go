package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
)

// Encode turns a middleware message into its MQTT payload. The payload is JSON with a
// fixed field order, so equal messages always give identical bytes.
func Encode(m msgs.OutboundMessage) ([]byte, error) {
	switch v := m.(type) {
	case msgs.LaserScan:
		return json.Marshal(laserScanPayload(v))
	case *msgs.LaserScan:
		if v == nil {
			return nil, fmt.Errorf("%w: nil LaserScan", ErrUnsupported)
		}
		return json.Marshal(laserScanPayload(*v))
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, m)
	}
}

// float32 that encodes NaN and +/-Inf as null. Laser ranges use Inf for "no return",
// and encoding/json refuses those values.
type jsonFloat32 float32

func (f jsonFloat32) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

type timePayload struct {
	Sec     int32  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

type headerPayload struct {
	Stamp   timePayload `json:"stamp"`
	FrameID string      `json:"frame_id"`
}

type laserScan struct {
	Header         headerPayload `json:"header"`
	AngleMin       jsonFloat32   `json:"angle_min"`
	AngleMax       jsonFloat32   `json:"angle_max"`
	AngleIncrement jsonFloat32   `json:"angle_increment"`
	TimeIncrement  jsonFloat32   `json:"time_increment"`
	ScanTime       jsonFloat32   `json:"scan_time"`
	RangeMin       jsonFloat32   `json:"range_min"`
	RangeMax       jsonFloat32   `json:"range_max"`
	Ranges         []jsonFloat32 `json:"ranges"`
	Intensities    []jsonFloat32 `json:"intensities"`
}

func laserScanPayload(s msgs.LaserScan) laserScan {
	return laserScan{
		Header: headerPayload{
			Stamp:   timePayload{Sec: s.Header.Stamp.Sec, Nanosec: s.Header.Stamp.Nanosec},
			FrameID: s.Header.FrameID,
		},
		AngleMin:       jsonFloat32(s.AngleMin),
		AngleMax:       jsonFloat32(s.AngleMax),
		AngleIncrement: jsonFloat32(s.AngleIncrement),
		TimeIncrement:  jsonFloat32(s.TimeIncrement),
		ScanTime:       jsonFloat32(s.ScanTime),
		RangeMin:       jsonFloat32(s.RangeMin),
		RangeMax:       jsonFloat32(s.RangeMax),
		Ranges:         float32s(s.Ranges),
		Intensities:    float32s(s.Intensities),
	}
}

// float32s never returns nil so empty arrays encode as [] and not null.
func float32s(in []float32) []jsonFloat32 {
	out := make([]jsonFloat32, len(in))
	for i, v := range in {
		out[i] = jsonFloat32(v)
	}
	return out
}
