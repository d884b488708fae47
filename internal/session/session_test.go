package session

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/andresmejia3/amdlink/internal/wire"
	"github.com/go-gl/mathgl/mgl64"
)

// fakeChannel records every Send.
type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	sendErr error
	sent    [][]byte
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeChannel) sends() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type fakeBinder struct {
	mu    sync.Mutex
	binds map[int]uint64
}

func (f *fakeBinder) BindFaceSource(slot int, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.binds == nil {
		f.binds = make(map[int]uint64)
	}
	f.binds[slot] = id
	return nil
}

func body(id uint64, tracked bool) types.Body {
	b := types.Body{ID: id, Tracked: tracked}
	for jt := types.JointType(0); jt < types.JointCount; jt++ {
		b.Joints[jt].Position = mgl64.Vec3{0, 0.1, 2}
		b.Joints[jt].Orientation = mgl64.Quat{W: 1}
		b.Joints[jt].State = types.Tracked
	}
	return b
}

func newSession(ch Channel, binder *fakeBinder) *Session {
	opts := Options{FaceSources: 6, Thresholds: posture.DefaultThresholds}
	if binder != nil {
		opts.Binder = binder
	}
	return New(ch, opts)
}

func TestEmptyFrameIsNotSent(t *testing.T) {
	ch := &fakeChannel{open: true}
	s := newSession(ch, nil)

	s.HandleBodyFrame(&types.BodyFrame{Bodies: []types.Body{body(0, false), body(0, false)}})

	if n := len(ch.sends()); n != 0 {
		t.Errorf("Expected no sends for a frame with no tracked bodies, got %d", n)
	}
	if st := s.Stats(); st.Empty != 1 || st.BodyFrames != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestClosedChannelNeverSends(t *testing.T) {
	ch := &fakeChannel{open: false}
	s := newSession(ch, nil)

	for i := 0; i < 5; i++ {
		s.HandleBodyFrame(&types.BodyFrame{Bodies: []types.Body{body(1, true)}})
	}

	if n := len(ch.sends()); n != 0 {
		t.Errorf("Expected no sends on a closed channel, got %d", n)
	}
	if st := s.Stats(); st.Dropped != 5 || st.Sent != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSendRefusedCountsAsDropped(t *testing.T) {
	ch := &fakeChannel{open: true, sendErr: errors.New("outbox closed")}
	s := newSession(ch, nil)
	s.HandleBodyFrame(&types.BodyFrame{Bodies: []types.Body{body(1, true)}})
	if st := s.Stats(); st.Dropped != 1 || st.Sent != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestNilFramesAreSkipped(t *testing.T) {
	ch := &fakeChannel{open: true}
	s := newSession(ch, nil)

	s.HandleBodyFrame(nil)
	s.HandleFaceFrame(nil)
	s.HandleFaceFrame(&types.FaceFrame{Slot: 99, Valid: true, OwnerID: 1})

	if st := s.Stats(); st.Malformed != 3 {
		t.Errorf("Expected 3 malformed frames, got %+v", st)
	}
	// The stream keeps going.
	s.HandleBodyFrame(&types.BodyFrame{Bodies: []types.Body{body(1, true)}})
	if n := len(ch.sends()); n != 1 {
		t.Errorf("Expected 1 send after malformed input, got %d", n)
	}
}

func TestUnmappableJointKeepsFrame(t *testing.T) {
	ch := &fakeChannel{open: true}
	s := newSession(ch, nil)

	broken := body(2, true)
	broken.Joints[types.FootLeft].State = types.NotTracked
	broken.Joints[types.FootLeft].Projected = mgl64.Vec3{math.Inf(-1), math.Inf(-1), 0}
	s.HandleBodyFrame(&types.BodyFrame{Bodies: []types.Body{body(1, true), broken}})

	sends := ch.sends()
	if len(sends) != 1 {
		t.Fatalf("Expected the frame to be sent, got %d sends and %+v", len(sends), s.Stats())
	}
	f, err := wire.Decode(sends[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Bodies) != 2 || f.Bodies[0].ID != "1" || f.Bodies[1].ID != "2" {
		t.Errorf("Expected both bodies, got %+v", f.Bodies)
	}
	if st := s.Stats(); st.Malformed != 0 || st.Sent != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestFaceFramesNeverTransmit(t *testing.T) {
	ch := &fakeChannel{open: true}
	s := newSession(ch, nil)
	s.HandleFaceFrame(&types.FaceFrame{Slot: 0, Valid: true, OwnerID: 1})
	if n := len(ch.sends()); n != 0 {
		t.Errorf("face frame triggered %d sends", n)
	}
}

func TestPipelineAssociatesFaces(t *testing.T) {
	ch := &fakeChannel{open: true}
	binder := &fakeBinder{}
	s := newSession(ch, binder)

	frame := &types.BodyFrame{Bodies: []types.Body{body(0, false), body(11, true), body(22, true)}}

	// First frame binds sources 1 and 2; no faces yet.
	s.HandleBodyFrame(frame)
	if binder.binds[1] != 11 || binder.binds[2] != 22 {
		t.Fatalf("unexpected bindings %v", binder.binds)
	}

	// Source 2 reports a face for body 22.
	face := &types.FaceFrame{Slot: 2, Valid: true, OwnerID: 22, Rotation: mgl64.Quat{W: 1}}
	face.Properties[types.MouthOpen] = types.DetectionYes
	s.HandleFaceFrame(face)
	s.HandleBodyFrame(frame)

	// Source 2 loses tracking; the cached face must not reappear.
	s.HandleFaceFrame(&types.FaceFrame{Slot: 2, Valid: false})
	s.HandleBodyFrame(frame)

	sent := ch.sends()
	if len(sent) != 3 {
		t.Fatalf("Expected 3 sends, got %d", len(sent))
	}

	faceFor := func(data []byte, id string) *wire.Face {
		f, err := wire.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		for _, b := range f.Bodies {
			if b.ID == id {
				return b.Face
			}
		}
		t.Fatalf("body %s missing", id)
		return nil
	}

	if faceFor(sent[0], "22") != nil {
		t.Error("frame 1: face present before any face result")
	}
	if f := faceFor(sent[1], "22"); f == nil || !f.MouthOpened {
		t.Errorf("frame 2: expected associated face, got %+v", f)
	}
	if faceFor(sent[1], "11") != nil {
		t.Error("frame 2: body 11 received body 22's face")
	}
	if faceFor(sent[2], "22") != nil {
		t.Error("frame 3: stale face forwarded after tracking loss")
	}

	if got := s.TrackedBodies(); len(got) != 2 {
		t.Errorf("Expected 2 tracked bodies buffered, got %d", len(got))
	}
}

func TestConcurrentHandlers(t *testing.T) {
	ch := &fakeChannel{open: true}
	s := newSession(ch, &fakeBinder{})

	frame := &types.BodyFrame{Bodies: []types.Body{body(1, true), body(2, true)}}

	var wg sync.WaitGroup
	for slot := 0; slot < 6; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.HandleFaceFrame(&types.FaceFrame{Slot: slot, Valid: i%5 != 0, OwnerID: uint64(slot%2 + 1)})
			}
		}(slot)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.HandleBodyFrame(frame)
		}
	}()
	wg.Wait()

	if st := s.Stats(); st.Sent != 200 {
		t.Errorf("Expected 200 sends, got %+v", st)
	}
}
