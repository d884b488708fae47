package face

import (
	"sync"

	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/go-gl/mathgl/mgl64"
)

// Result is a face frame reduced to what the wire carries.
type Result struct {
	OwnerID        uint64
	Rotation       mgl64.Quat
	MouthOpened    bool
	MouthMoved     bool
	LeftEyeClosed  bool
	RightEyeClosed bool
}

// NewResult collapses a valid face frame into a Result.
func NewResult(f *types.FaceFrame) Result {
	return Result{
		OwnerID:        f.OwnerID,
		Rotation:       f.Rotation,
		MouthOpened:    f.Properties[types.MouthOpen].Detected(),
		MouthMoved:     f.Properties[types.MouthMoved].Detected(),
		LeftEyeClosed:  f.Properties[types.LeftEyeClosed].Detected(),
		RightEyeClosed: f.Properties[types.RightEyeClosed].Detected(),
	}
}

// Binder is told when a face source should start following a body.
// The sensor bridge implements it; recordings need no binder.
type Binder interface {
	BindFaceSource(slot int, bodyID uint64) error
}

type slot struct {
	bound   bool
	boundID uint64
	result  *Result
}

// Buffer caches the latest face result per tracking source.
// Face handlers write it and the body frame handler reads it, possibly concurrently.
type Buffer struct {
	mu    sync.Mutex
	slots []slot
}

// NewBuffer creates a buffer with one slot per face tracking source.
func NewBuffer(sources int) *Buffer {
	if sources < 0 {
		sources = 0
	}
	return &Buffer{slots: make([]slot, sources)}
}

// Len returns the number of tracking sources.
func (b *Buffer) Len() int {
	return len(b.slots)
}

// Store records a face frame for its source. An invalid frame drops both the cached
// result and the binding. Returns false when the frame is nil or names an unknown slot.
func (b *Buffer) Store(f *types.FaceFrame) bool {
	if f == nil || f.Slot < 0 || f.Slot >= len(b.slots) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[f.Slot]
	if !f.Valid || f.OwnerID == 0 {
		*s = slot{}
		return true
	}
	r := NewResult(f)
	s.bound = true
	s.boundID = f.OwnerID
	s.result = &r
	return true
}

// Rebind binds every unbound source to the tracked body in the same array slot,
// clearing whatever the unbound source had cached. Binder may be nil.
func (b *Buffer) Rebind(bodies []types.Body, binder Binder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for i := range b.slots {
		s := &b.slots[i]
		if s.bound && s.boundID != 0 {
			continue
		}
		s.result = nil
		if i >= len(bodies) || !bodies[i].Tracked || bodies[i].ID == 0 {
			continue
		}
		s.bound = true
		s.boundID = bodies[i].ID
		if binder != nil {
			if err := binder.BindFaceSource(i, bodies[i].ID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Snapshot copies the current results in slot order. Absent entries are nil.
func (b *Buffer) Snapshot() []*Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Result, len(b.slots))
	for i, s := range b.slots {
		if s.result != nil {
			r := *s.result
			out[i] = &r
		}
	}
	return out
}

// Associate maps each body ID to the first result in slot order owned by that body.
// Bodies without a matching result are absent from the map.
func Associate(bodies []types.Body, results []*Result) map[uint64]Result {
	out := make(map[uint64]Result, len(bodies))
	for _, body := range bodies {
		for _, r := range results {
			if r == nil {
				continue
			}
			if r.OwnerID == body.ID {
				out[body.ID] = *r
				break
			}
		}
	}
	return out
}
