package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/klauspost/compress/zstd"
)

// ErrEmptyRecording is returned when a looping replay finds no packets to play.
var ErrEmptyRecording = errors.New("recording holds no packets")

// RecordingWriter appends packets to a zstd-compressed recording file.
type RecordingWriter struct {
	// Logger reports packets that could not be written while the writer is used as a Handler.
	Logger *slog.Logger

	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	zw    *zstd.Encoder
	count int
}

// CreateRecording creates (or truncates) a recording at path.
func CreateRecording(path string) (*RecordingWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &RecordingWriter{file: f, zw: zw, buf: bufio.NewWriter(zw)}, nil
}

// WritePayload appends an already encoded packet.
func (w *RecordingWriter) WritePayload(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := utils.WritePacket(w.buf, payload); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	w.count++
	return nil
}

// WritePacket encodes and appends a packet.
func (w *RecordingWriter) WritePacket(p Packet) error {
	payload, err := EncodePacket(p)
	if err != nil {
		return err
	}
	return w.WritePayload(payload)
}

// HandleBodyFrame records a body frame, so a writer can stand in as a Handler.
func (w *RecordingWriter) HandleBodyFrame(f *types.BodyFrame) {
	if f == nil {
		return
	}
	if err := w.WritePacket(Packet{Kind: KindBody, Body: f}); err != nil {
		w.logger().Warn("recording write failed", "kind", KindBody, "error", err)
	}
}

// HandleFaceFrame records a face frame.
func (w *RecordingWriter) HandleFaceFrame(f *types.FaceFrame) {
	if f == nil {
		return
	}
	if err := w.WritePacket(Packet{Kind: KindFace, Face: f}); err != nil {
		w.logger().Warn("recording write failed", "kind", KindFace, "error", err)
	}
}

func (w *RecordingWriter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Count is the number of packets written so far.
func (w *RecordingWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes the compressor and closes the file.
func (w *RecordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.zw.Close()
		w.file.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close recording: %w", err)
	}
	return w.file.Close()
}

// CountPackets scans a recording and returns how many packets it holds.
func CountPackets(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer zr.Close()

	n := 0
	scanner := newPacketScanner(zr)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// Replay plays a recording back as a Producer.
type Replay struct {
	Path string
	// Speed scales the recorded timing: 1 is real time, 2 twice as fast, 0 no pacing.
	Speed float64
	// Loop restarts the recording when it ends.
	Loop   bool
	Mapper Mapper
	Logger *slog.Logger
	// OnPacket is called after each packet is dispatched.
	OnPacket func()
}

// Run plays the recording until it ends (or forever with Loop) or ctx is cancelled.
// Looping over a recording with no packets returns ErrEmptyRecording.
func (r *Replay) Run(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.playOnce(ctx, h)
		if err != nil {
			return err
		}
		if !r.Loop {
			return nil
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyRecording, r.Path)
		}
	}
}

func (r *Replay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// playOnce plays the recording a single time and returns how many packets it dispatched.
func (r *Replay) playOnce(ctx context.Context, h Handler) (int, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer zr.Close()

	var (
		played   int
		started  = time.Now()
		baseline time.Duration
		haveBase bool
	)

	scanner := newPacketScanner(zr)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return played, err
		}
		p, err := DecodePacket(scanner.Bytes())
		if err != nil {
			r.logger().Debug("skipping malformed packet", "error", err)
			continue
		}

		if p.Kind == KindBody && p.Body != nil && r.Speed > 0 {
			if !haveBase {
				baseline = p.Body.RelativeTime
				haveBase = true
			}
			due := time.Duration(float64(p.Body.RelativeTime-baseline) / r.Speed)
			if wait := due - time.Since(started); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return played, ctx.Err()
				case <-timer.C:
				}
			}
		}

		dispatch(p, r.Mapper, h)
		played++
		if r.OnPacket != nil {
			r.OnPacket()
		}
	}
	if err := scanner.Err(); err != nil {
		return played, fmt.Errorf("read recording: %w", err)
	}
	return played, nil
}
