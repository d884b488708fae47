package types

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// JointType enumerates the fixed skeletal landmarks reported for every tracked body.
// The order matches the sensor SDK enumeration and is the order joints appear on the wire.
type JointType int

const (
	SpineBase JointType = iota
	SpineMid
	Neck
	Head
	ShoulderLeft
	ElbowLeft
	WristLeft
	HandLeft
	ShoulderRight
	ElbowRight
	WristRight
	HandRight
	HipLeft
	KneeLeft
	AnkleLeft
	FootLeft
	HipRight
	KneeRight
	AnkleRight
	FootRight
	SpineShoulder
	HandTipLeft
	ThumbLeft
	HandTipRight
	ThumbRight

	// JointCount is the size of the joint set, not a joint.
	JointCount
)

// Wire names. Receivers match on these exact strings.
var jointNames = [JointCount]string{
	"spinebase", "spinemid", "neck", "head",
	"shoulderleft", "elbowleft", "wristleft", "handleft",
	"shoulderright", "elbowright", "wristright", "handright",
	"hipleft", "kneeleft", "ankleleft", "footleft",
	"hipright", "kneeright", "ankleright", "footright",
	"spineshoulder", "handtipleft", "thumbleft", "handtipright", "thumbright",
}

func (j JointType) String() string {
	if j < 0 || j >= JointCount {
		return "unknown"
	}
	return jointNames[j]
}

// TrackingState is the producer's confidence in a single joint.
type TrackingState int

const (
	NotTracked TrackingState = iota
	Inferred
	Tracked
)

// Joint is one landmark of a tracked body.
type Joint struct {
	Position    mgl64.Vec3    `json:"position"`    // camera space, meters
	Projected   mgl64.Vec3    `json:"projected"`   // depth-image x, y plus camera z
	Orientation mgl64.Quat    `json:"orientation"` // absolute, camera space
	State       TrackingState `json:"state"`
}

// Body is one slot of a body frame. Untracked slots carry no meaningful joints.
type Body struct {
	ID      uint64            `json:"id"`
	Tracked bool              `json:"tracked"`
	Joints  [JointCount]Joint `json:"joints"`
}

// BodyFrame is one snapshot of every body slot the sensor exposes.
type BodyFrame struct {
	RelativeTime time.Duration `json:"relative_time"`
	Bodies       []Body        `json:"bodies"`
	// Projected reports whether Joint.Projected was filled in by the device.
	Projected bool `json:"projected"`
}

// TrackedBodies returns the tracked slots in producer order.
func (f *BodyFrame) TrackedBodies() []Body {
	if f == nil {
		return nil
	}
	tracked := make([]Body, 0, len(f.Bodies))
	for _, b := range f.Bodies {
		if b.Tracked {
			tracked = append(tracked, b)
		}
	}
	return tracked
}

// DetectionResult is the three-valued face property confidence (plus unknown).
type DetectionResult int

const (
	DetectionUnknown DetectionResult = iota
	DetectionNo
	DetectionMaybe
	DetectionYes
)

// Detected collapses a detection result into a flag: maybe and yes both count.
func (d DetectionResult) Detected() bool {
	return d == DetectionMaybe || d == DetectionYes
}

// FaceProperty indexes FaceFrame.Properties.
type FaceProperty int

const (
	MouthOpen FaceProperty = iota
	MouthMoved
	LeftEyeClosed
	RightEyeClosed

	FacePropertyCount
)

// FaceFrame is one result from a single face tracking source.
type FaceFrame struct {
	Slot       int                                `json:"slot"`
	Valid      bool                               `json:"valid"`
	OwnerID    uint64                             `json:"owner_id"`
	Rotation   mgl64.Quat                         `json:"rotation"`
	Properties [FacePropertyCount]DetectionResult `json:"properties"`
}
