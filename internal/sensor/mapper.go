package sensor

import (
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/go-gl/mathgl/mgl64"
)

// Mapper projects camera-space points into depth-image space.
type Mapper interface {
	CameraToDepth(p mgl64.Vec3) mgl64.Vec2
}

// DepthIntrinsics is a pinhole model of the depth camera.
type DepthIntrinsics struct {
	FocalX, FocalY   float64
	CenterX, CenterY float64
}

// KinectV2Depth approximates the factory calibration of the 512x424 depth camera.
var KinectV2Depth = DepthIntrinsics{
	FocalX:  365.456,
	FocalY:  365.456,
	CenterX: 254.878,
	CenterY: 205.395,
}

// CameraToDepth returns pixel coordinates with Y growing downward.
// Points at or behind the sensor plane map to the origin.
func (d DepthIntrinsics) CameraToDepth(p mgl64.Vec3) mgl64.Vec2 {
	if !(p.Z() > 0) {
		return mgl64.Vec2{}
	}
	return mgl64.Vec2{
		d.CenterX + d.FocalX*p.X()/p.Z(),
		d.CenterY - d.FocalY*p.Y()/p.Z(),
	}
}

// ProjectFrame fills Joint.Projected for every tracked body. Projected Z is the camera Z.
func ProjectFrame(f *types.BodyFrame, m Mapper) {
	for i := range f.Bodies {
		b := &f.Bodies[i]
		if !b.Tracked {
			continue
		}
		for jt := range b.Joints {
			j := &b.Joints[jt]
			xy := m.CameraToDepth(j.Position)
			j.Projected = mgl64.Vec3{xy.X(), xy.Y(), j.Position.Z()}
		}
	}
	f.Projected = true
}
