package wire

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/amdlink/internal/face"
	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/go-gl/mathgl/mgl64"
)

func standingBody(id uint64) types.Body {
	b := types.Body{ID: id, Tracked: true}
	for jt := types.JointType(0); jt < types.JointCount; jt++ {
		b.Joints[jt] = types.Joint{
			Position:    mgl64.Vec3{0.1 * float64(jt), 0.2, 2.5},
			Projected:   mgl64.Vec3{256 + float64(jt), 200, 2.5},
			Orientation: mgl64.Quat{W: 1, V: mgl64.Vec3{0, 0, 0}},
			State:       types.Tracked,
		}
	}
	b.Joints[types.HandTipLeft].State = types.Inferred
	b.Joints[types.ThumbRight].State = types.NotTracked
	return b
}

func lyingBody(id uint64) types.Body {
	b := standingBody(id)
	b.Joints[types.SpineBase].Position = mgl64.Vec3{0.05, -0.8, 2}
	b.Joints[types.Head].Position = mgl64.Vec3{0.1, -0.75, 2}
	return b
}

func TestEncodeEmptyFrame(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	data, err := enc.Encode(nil, nil)
	if !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("Expected ErrEmptyFrame, got %v", err)
	}
	if data != nil {
		t.Errorf("Expected no bytes, got %q", data)
	}
}

func TestEncodeCompleteness(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	bodies := []types.Body{standingBody(72057594037928000), lyingBody(2)}
	faces := map[uint64]face.Result{
		2: {OwnerID: 2, Rotation: mgl64.Quat{W: 0.5, V: mgl64.Vec3{0.5, 0.5, 0.5}}, MouthOpened: true, RightEyeClosed: true},
	}

	data, err := enc.Encode(bodies, faces)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frame.Bodies) != 2 {
		t.Fatalf("Expected 2 bodies, got %d", len(frame.Bodies))
	}

	first := frame.Bodies[0]
	if first.ID != "72057594037928000" {
		t.Errorf("Expected decimal id, got %q", first.ID)
	}
	if first.Posture != posture.Standing {
		t.Errorf("Expected standing, got %v", first.Posture)
	}
	if first.Face != nil {
		t.Errorf("Expected no face for body without association, got %+v", first.Face)
	}

	seen := make(map[string]int)
	for _, j := range first.Joints {
		seen[j.Name]++
	}
	if len(first.Joints) != int(types.JointCount) {
		t.Errorf("Expected %d joints, got %d", types.JointCount, len(first.Joints))
	}
	for jt := types.JointType(0); jt < types.JointCount; jt++ {
		if seen[jt.String()] != 1 {
			t.Errorf("Joint %q appears %d times", jt.String(), seen[jt.String()])
		}
	}

	tip, _ := first.JointByName("handtipleft")
	if tip.IsTracked {
		t.Error("Inferred joint must not be reported as tracked")
	}
	spine, _ := first.JointByName("spinebase")
	if !spine.IsTracked || spine.MapX != 256 || spine.Z != 2.5 || spine.QuaternionW != 1 {
		t.Errorf("Unexpected spinebase record: %+v", spine)
	}

	second := frame.Bodies[1]
	if second.Posture != posture.LyingHeadLeft {
		t.Errorf("Expected lying-head-left, got %v", second.Posture)
	}
	if second.Face == nil {
		t.Fatal("Expected associated face block")
	}
	if !second.Face.MouthOpened || second.Face.MouthMoved || !second.Face.RightEyeClosed || second.Face.QuaternionX != 0.5 {
		t.Errorf("Unexpected face block: %+v", second.Face)
	}
}

func TestEncodeSchemaFieldNames(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	faces := map[uint64]face.Result{9: {OwnerID: 9}}
	data, err := enc.Encode([]types.Body{standingBody(9), standingBody(10)}, faces)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string][]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("frame is not the documented shape: %v", err)
	}
	bodies := doc["bodies"]
	for _, key := range []string{"id", "posture", "joints", "face"} {
		if _, ok := bodies[0][key]; !ok {
			t.Errorf("body missing %q", key)
		}
	}
	if _, ok := bodies[1]["face"]; ok {
		t.Error("face must be omitted entirely when there is no association")
	}

	var joints []map[string]json.RawMessage
	if err := json.Unmarshal(bodies[0]["joints"], &joints); err != nil {
		t.Fatal(err)
	}
	want := []string{"name", "map_x", "map_y", "map_z", "x", "y", "z",
		"quaternion_x", "quaternion_y", "quaternion_z", "quaternion_w", "is_tracked"}
	if len(joints[0]) != len(want) {
		t.Errorf("joint has %d fields, want %d", len(joints[0]), len(want))
	}
	for _, key := range want {
		if _, ok := joints[0][key]; !ok {
			t.Errorf("joint missing %q", key)
		}
	}

	var faceDoc map[string]json.RawMessage
	if err := json.Unmarshal(bodies[0]["face"], &faceDoc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"quaternion_x", "quaternion_y", "quaternion_z", "quaternion_w",
		"mouth_opened", "mouth_moved", "left_eye_closed", "right_eye_closed"} {
		if _, ok := faceDoc[key]; !ok {
			t.Errorf("face missing %q", key)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	bodies := []types.Body{standingBody(1), lyingBody(2)}
	faces := map[uint64]face.Result{1: {OwnerID: 1}, 2: {OwnerID: 2}}

	a, err := enc.Encode(bodies, faces)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := enc.Encode(bodies, faces)
	if string(a) != string(b) {
		t.Error("Encoding the same input twice produced different bytes")
	}
}

func TestEncodeNonFinite(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	healthy := standingBody(1)
	broken := standingBody(2)
	broken.Joints[types.Neck].Position = mgl64.Vec3{math.Inf(1), math.NaN(), 1.5}
	broken.Joints[types.HandTipLeft].State = types.NotTracked
	broken.Joints[types.HandTipLeft].Projected = mgl64.Vec3{math.Inf(-1), math.Inf(-1), 0}

	data, err := enc.Encode([]types.Body{healthy, broken}, nil)
	if err != nil {
		t.Fatalf("Encode failed on non-finite coordinates: %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Bodies) != 2 || f.Bodies[0].ID != "1" || f.Bodies[1].ID != "2" {
		t.Fatalf("Expected both bodies on the wire, got %+v", f.Bodies)
	}

	neck, _ := f.Bodies[1].JointByName("neck")
	if neck.X != 0 || neck.Y != 0 || neck.Z != 1.5 {
		t.Errorf("Expected non-finite coordinates written as 0, got %+v", neck)
	}
	tip, _ := f.Bodies[1].JointByName("handtipleft")
	if tip.MapX != 0 || tip.MapY != 0 || tip.IsTracked {
		t.Errorf("Expected unmappable joint as zero and untracked, got %+v", tip)
	}
}

func TestEncodeNonFiniteClassifiesRawJoints(t *testing.T) {
	enc := NewEncoder(posture.DefaultThresholds)
	b := standingBody(1)
	b.Joints[types.SpineBase].Position = mgl64.Vec3{0, math.NaN(), 2}

	frame := enc.Build([]types.Body{b}, nil)
	want := posture.Classify(&b.Joints)
	if frame.Bodies[0].Posture != want {
		t.Errorf("Posture = %v, want %v from the raw joints", frame.Bodies[0].Posture, want)
	}
}

func TestHandshake(t *testing.T) {
	data, err := EncodeHandshake(RoleActor)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"role":"actor"}` {
		t.Errorf("unexpected handshake %s", data)
	}

	h, err := DecodeHandshake([]byte(`{"role":"observer"}`))
	if err != nil || h.Role != RoleObserver {
		t.Errorf("DecodeHandshake = %+v, %v", h, err)
	}

	if _, err := DecodeHandshake([]byte(`{"role":"elderly"}`)); err == nil {
		t.Error("Expected unknown role to be rejected")
	}
	if _, err := EncodeHandshake("caregiver"); err == nil {
		t.Error("Expected unknown role to be rejected")
	}
	if _, err := ParseRole("observer"); err != nil {
		t.Error(err)
	}
}
