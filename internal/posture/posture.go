package posture

import (
	"github.com/andresmejia3/amdlink/internal/types"
)

// Label is a coarse, per-frame posture classification. The integer values are the wire codes.
type Label int

const (
	Standing Label = iota
	Seated
	LyingHeadLeft
	LyingHeadRight
)

func (l Label) String() string {
	switch l {
	case Standing:
		return "standing"
	case Seated:
		return "seated"
	case LyingHeadLeft:
		return "lying-head-left"
	case LyingHeadRight:
		return "lying-head-right"
	default:
		return "unknown"
	}
}

// Thresholds are camera-space heights in meters, Y up, origin at the sensor.
// The defaults were tuned for a single sensor mounting height.
type Thresholds struct {
	// StandingSpineY: a spine base strictly above this is standing.
	StandingSpineY float64
	// ReclinedExtent: a head-over-spine height at or below this is lying down.
	ReclinedExtent float64
}

// DefaultThresholds match the stock mounting calibration.
var DefaultThresholds = Thresholds{
	StandingSpineY: -0.7,
	ReclinedExtent: 0.2,
}

// Classifier labels a body's posture from its joints.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier returns a classifier using the given thresholds.
func NewClassifier(th Thresholds) Classifier {
	return Classifier{Thresholds: th}
}

// Classify is total: NaN coordinates fall through the ordinary comparisons.
// Lying left/right compares raw camera X of head and spine base; no mirroring correction.
//
// Comparisons run in float32, the precision the sensor reports camera space in, so a
// spine base reported at exactly -0.7 is not standing.
func (c Classifier) Classify(joints *[types.JointCount]types.Joint) Label {
	spine := joints[types.SpineBase].Position
	spineY := float32(spine.Y())
	if spineY > float32(c.Thresholds.StandingSpineY) {
		return Standing
	}

	head := joints[types.Head].Position
	if float32(head.Y())-spineY <= float32(c.Thresholds.ReclinedExtent) {
		if float32(head.X()) > float32(spine.X()) {
			return LyingHeadLeft
		}
		return LyingHeadRight
	}
	return Seated
}

// Classify labels joints with DefaultThresholds.
func Classify(joints *[types.JointCount]types.Joint) Label {
	return NewClassifier(DefaultThresholds).Classify(joints)
}
