package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/amdlink/internal/face"
	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/andresmejia3/amdlink/internal/wire"
)

// Channel is the outbound connection to the remote peer.
type Channel interface {
	IsOpen() bool
	Send(data []byte) error
}

// Options configures a Session.
type Options struct {
	// FaceSources is the number of face tracking slots, normally the sensor's body count.
	FaceSources int
	Thresholds  posture.Thresholds
	// Binder binds face sources to bodies. Nil when the producer binds on its own.
	Binder face.Binder
	Logger *slog.Logger
}

// Stats counts what happened to body frames.
type Stats struct {
	BodyFrames uint64 // body frames received
	FaceFrames uint64 // face frames stored
	Empty      uint64 // skipped: no tracked bodies
	Malformed  uint64 // skipped: nil or unencodable
	Sent       uint64 // handed to the channel
	Dropped    uint64 // encoded but the channel was not open or refused it
}

// Session drives the frame-to-wire pipeline. It owns the tracked-body buffer, the face
// result buffer and the channel handle. Handlers may be called from any goroutine.
type Session struct {
	channel Channel
	binder  face.Binder
	encoder wire.Encoder
	faces   *face.Buffer
	logger  *slog.Logger

	bodyMu sync.Mutex
	bodies []types.Body

	bodyFrames atomic.Uint64
	faceFrames atomic.Uint64
	empty      atomic.Uint64
	malformed  atomic.Uint64
	sent       atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a session sending on ch.
func New(ch Channel, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		channel: ch,
		binder:  opts.Binder,
		encoder: wire.NewEncoder(opts.Thresholds),
		faces:   face.NewBuffer(opts.FaceSources),
		logger:  logger,
	}
}

// HandleFaceFrame updates the face buffer slot for the frame's source. It never transmits.
func (s *Session) HandleFaceFrame(f *types.FaceFrame) {
	if !s.faces.Store(f) {
		s.malformed.Add(1)
		s.logger.Debug("face frame skipped", "reason", "nil or unknown slot")
		return
	}
	s.faceFrames.Add(1)
}

// HandleBodyFrame runs one body frame through association and encoding and sends the
// result if the channel is open. Frames with no tracked bodies produce no message.
func (s *Session) HandleBodyFrame(f *types.BodyFrame) {
	if f == nil {
		s.malformed.Add(1)
		s.logger.Debug("body frame skipped", "reason", "nil frame")
		return
	}
	s.bodyFrames.Add(1)

	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	s.bodies = append(s.bodies[:0], f.Bodies...)

	if err := s.faces.Rebind(s.bodies, s.binder); err != nil {
		s.logger.Warn("bind face source", "error", err)
	}

	tracked := f.TrackedBodies()
	if len(tracked) == 0 {
		s.empty.Add(1)
		return
	}

	faces := face.Associate(tracked, s.faces.Snapshot())
	data, err := s.encoder.Encode(tracked, faces)
	if err != nil {
		s.malformed.Add(1)
		s.logger.Debug("body frame skipped", "error", err)
		return
	}

	if !s.channel.IsOpen() {
		s.dropped.Add(1)
		return
	}
	if err := s.channel.Send(data); err != nil {
		s.dropped.Add(1)
		s.logger.Debug("frame dropped", "error", err)
		return
	}
	s.sent.Add(1)
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		BodyFrames: s.bodyFrames.Load(),
		FaceFrames: s.faceFrames.Load(),
		Empty:      s.empty.Load(),
		Malformed:  s.malformed.Load(),
		Sent:       s.sent.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// TrackedBodies returns a copy of the tracked bodies from the latest body frame.
func (s *Session) TrackedBodies() []types.Body {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	out := make([]types.Body, 0, len(s.bodies))
	for _, b := range s.bodies {
		if b.Tracked {
			out = append(out, b)
		}
	}
	return out
}
