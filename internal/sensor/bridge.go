package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/andresmejia3/amdlink/internal/utils" // Using the SafeCommand wrapper
)

// ErrBridgeExited is returned by Run when the bridge stops producing packets.
var ErrBridgeExited = errors.New("sensor bridge exited")

// Bridge runs the device SDK in a child process. The child writes length-prefixed CBOR
// packets on FD 3 and reads bind requests from stdin.
type Bridge struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	// Mapper fills projections for body frames the bridge sends unprojected.
	Mapper Mapper
	Logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewBridge starts the bridge command.
func NewBridge(name string, args ...string) (*Bridge, error) {
	// 1. Initialize the SafeCommand
	cmd := utils.NewSafeCommand(name, args...)

	// Create a side-channel pipe (FD 3) so SDK chatter on stdout cannot corrupt packets
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("sensor bridge %q failed to start: %w", name, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Bridge{
		Cmd:      cmd,
		Stdin:    stdin,
		DataPipe: r,
		Mapper:   KinectV2Depth,
	}, nil
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Run reads packets until the bridge closes its pipe or ctx is cancelled.
// Malformed packets are logged and skipped.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		b.DataPipe.Close()
	})
	defer stop()

	scanner := newPacketScanner(b.DataPipe)
	for scanner.Scan() {
		payload := scanner.Bytes()
		p, err := DecodePacket(payload)
		if err != nil {
			b.logger().Debug("skipping malformed packet", "error", err, "bytes", len(payload))
			continue
		}
		dispatch(p, b.Mapper, h)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeExited, err)
	}
	return ErrBridgeExited
}

// BindFaceSource asks the bridge to point face source slot at body bodyID.
func (b *Bridge) BindFaceSource(slot int, bodyID uint64) error {
	payload, err := EncodePacket(Packet{Kind: KindBind, Bind: &BindRequest{Slot: slot, BodyID: bodyID}})
	if err != nil {
		return err
	}

	// Protocol: [Length][Data]
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := utils.WritePacket(b.Stdin, payload); err != nil {
		return fmt.Errorf("bind face source %d: %w", slot, err)
	}
	return nil
}

// Close shuts the pipes and waits for the child to exit.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.Stdin.Close()
		b.DataPipe.Close()
		if b.Cmd != nil {
			b.Cmd.Wait()
		}
	})
}
