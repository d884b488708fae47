package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/wire"
)

// Interval is a closed run of one posture for one body.
type Interval struct {
	BodyID  string
	Posture posture.Label
	Start   time.Time
	End     time.Time
	Frames  int
}

// Duration is how long the interval lasted.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Sink receives intervals as they close.
type Sink interface {
	Record(ctx context.Context, iv Interval) error
}

// Recorder turns a stream of received frames into posture intervals.
type Recorder struct {
	// GracePeriod is the longest a body may be missing before its run is closed.
	GracePeriod time.Duration
	// BlipDuration is the shortest run that is kept.
	BlipDuration time.Duration
	Sink         Sink
	// OnChange is called when a body starts a new posture run.
	OnChange func(bodyID string, p posture.Label, at time.Time)

	mu        sync.Mutex
	tracks    map[string]*activeTrack
	closed    []Interval
	discarded int
}

type activeTrack struct {
	BodyID   string
	Posture  posture.Label
	Start    time.Time
	LastSeen time.Time
	Frames   int
}

// NewRecorder creates a recorder writing to sink, which may be nil.
func NewRecorder(grace, blip time.Duration, sink Sink) *Recorder {
	return &Recorder{
		GracePeriod:  grace,
		BlipDuration: blip,
		Sink:         sink,
		tracks:       make(map[string]*activeTrack),
	}
}

// Observe folds one frame received at time at into the open runs.
func (r *Recorder) Observe(ctx context.Context, frame wire.Frame, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	seen := make(map[string]bool, len(frame.Bodies))

	// 1. Extend or split runs for bodies in this frame
	for _, b := range frame.Bodies {
		seen[b.ID] = true
		t, ok := r.tracks[b.ID]
		if ok && t.Posture == b.Posture {
			t.LastSeen = at
			t.Frames++
			continue
		}
		if ok {
			// Posture changed, the previous run lasted until now
			t.LastSeen = at
			if err := r.close(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		r.tracks[b.ID] = &activeTrack{BodyID: b.ID, Posture: b.Posture, Start: at, LastSeen: at, Frames: 1}
		if r.OnChange != nil {
			r.OnChange(b.ID, b.Posture, at)
		}
	}

	// 2. Close runs for bodies missing longer than the grace period
	for id, t := range r.tracks {
		if seen[id] || at.Sub(t.LastSeen) <= r.GracePeriod {
			continue
		}
		delete(r.tracks, id)
		if err := r.close(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush closes every open run.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := r.close(ctx, r.tracks[id]); err != nil {
			errs = append(errs, err)
		}
		delete(r.tracks, id)
	}
	return errors.Join(errs...)
}

// close must be called with r.mu held.
func (r *Recorder) close(ctx context.Context, t *activeTrack) error {
	iv := Interval{BodyID: t.BodyID, Posture: t.Posture, Start: t.Start, End: t.LastSeen, Frames: t.Frames}

	// Filter short runs (blips)
	if iv.Duration() < r.BlipDuration {
		r.discarded++
		return nil
	}
	r.closed = append(r.closed, iv)
	if r.Sink == nil {
		return nil
	}
	if err := r.Sink.Record(ctx, iv); err != nil {
		return fmt.Errorf("record interval for body %s: %w", iv.BodyID, err)
	}
	return nil
}

// Summary returns the kept intervals ordered by body then start, and the number of blips discarded.
func (r *Recorder) Summary() ([]Interval, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Interval, len(r.closed))
	copy(out, r.closed)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BodyID != out[j].BodyID {
			return out[i].BodyID < out[j].BodyID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, r.discarded
}

// Open is the number of runs currently open.
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}
