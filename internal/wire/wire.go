package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/andresmejia3/amdlink/internal/face"
	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/types"
)

// ErrEmptyFrame is returned when a frame has no tracked bodies. Such frames are never sent.
var ErrEmptyFrame = errors.New("wire: no tracked bodies")

// Field names below are the receiver contract. Do not rename.

// Frame is one message on the wire.
type Frame struct {
	Bodies []Body `json:"bodies"`
}

// Body is one tracked person.
type Body struct {
	ID      string        `json:"id"`
	Posture posture.Label `json:"posture"`
	Joints  []Joint       `json:"joints"`
	Face    *Face         `json:"face,omitempty"`
}

// Joint carries the depth-space projection, the camera-space position and the absolute orientation.
type Joint struct {
	Name        string  `json:"name"`
	MapX        float64 `json:"map_x"`
	MapY        float64 `json:"map_y"`
	MapZ        float64 `json:"map_z"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	QuaternionX float64 `json:"quaternion_x"`
	QuaternionY float64 `json:"quaternion_y"`
	QuaternionZ float64 `json:"quaternion_z"`
	QuaternionW float64 `json:"quaternion_w"`
	IsTracked   bool    `json:"is_tracked"`
}

// Face is emitted only when a face result is associated with the body.
type Face struct {
	QuaternionX    float64 `json:"quaternion_x"`
	QuaternionY    float64 `json:"quaternion_y"`
	QuaternionZ    float64 `json:"quaternion_z"`
	QuaternionW    float64 `json:"quaternion_w"`
	MouthOpened    bool    `json:"mouth_opened"`
	MouthMoved     bool    `json:"mouth_moved"`
	LeftEyeClosed  bool    `json:"left_eye_closed"`
	RightEyeClosed bool    `json:"right_eye_closed"`
}

// Encoder builds wire frames. The zero value classifies with zero thresholds; use NewEncoder.
type Encoder struct {
	Classifier posture.Classifier
}

// NewEncoder returns an encoder classifying with the given thresholds.
func NewEncoder(th posture.Thresholds) Encoder {
	return Encoder{Classifier: posture.NewClassifier(th)}
}

// Build converts tracked bodies into a wire frame, in the order given. Posture is classified
// from the raw joints; NaN and infinite coordinates are written as 0.
func (e Encoder) Build(bodies []types.Body, faces map[uint64]face.Result) Frame {
	frame := Frame{Bodies: make([]Body, 0, len(bodies))}
	for i := range bodies {
		b := &bodies[i]
		wb := Body{
			ID:      strconv.FormatUint(b.ID, 10),
			Posture: e.Classifier.Classify(&b.Joints),
			Joints:  make([]Joint, 0, types.JointCount),
		}
		for jt := types.JointType(0); jt < types.JointCount; jt++ {
			j := b.Joints[jt]
			wb.Joints = append(wb.Joints, Joint{
				Name:        jt.String(),
				MapX:        finite(j.Projected.X()),
				MapY:        finite(j.Projected.Y()),
				MapZ:        finite(j.Projected.Z()),
				X:           finite(j.Position.X()),
				Y:           finite(j.Position.Y()),
				Z:           finite(j.Position.Z()),
				QuaternionX: finite(j.Orientation.X()),
				QuaternionY: finite(j.Orientation.Y()),
				QuaternionZ: finite(j.Orientation.Z()),
				QuaternionW: finite(j.Orientation.W),
				IsTracked:   j.State == types.Tracked,
			})
		}
		if r, ok := faces[b.ID]; ok {
			wb.Face = &Face{
				QuaternionX:    finite(r.Rotation.X()),
				QuaternionY:    finite(r.Rotation.Y()),
				QuaternionZ:    finite(r.Rotation.Z()),
				QuaternionW:    finite(r.Rotation.W),
				MouthOpened:    r.MouthOpened,
				MouthMoved:     r.MouthMoved,
				LeftEyeClosed:  r.LeftEyeClosed,
				RightEyeClosed: r.RightEyeClosed,
			}
		}
		frame.Bodies = append(frame.Bodies, wb)
	}
	return frame
}

// Encode serializes tracked bodies. It returns ErrEmptyFrame when bodies is empty.
func (e Encoder) Encode(bodies []types.Body, faces map[uint64]face.Result) ([]byte, error) {
	if len(bodies) == 0 {
		return nil, ErrEmptyFrame
	}
	data, err := json.Marshal(e.Build(bodies, faces))
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// finite maps NaN and infinities to 0, which JSON cannot carry. Such joints come from
// unmappable points and are reported with is_tracked false by the device.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Decode parses a wire frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// JointByName finds a joint in a decoded body.
func (b Body) JointByName(name string) (Joint, bool) {
	for _, j := range b.Joints {
		if j.Name == name {
			return j, true
		}
	}
	return Joint{}, false
}
