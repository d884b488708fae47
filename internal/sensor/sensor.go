package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/amdlink/internal/codec"
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/andresmejia3/amdlink/internal/utils"
)

// Handler receives frames from a producer. Calls may arrive on any goroutine.
type Handler interface {
	HandleBodyFrame(f *types.BodyFrame)
	HandleFaceFrame(f *types.FaceFrame)
}

// Producer emits body and face frames until its source ends or ctx is cancelled.
type Producer interface {
	Run(ctx context.Context, h Handler) error
}

// PacketKind tags what a packet carries.
type PacketKind string

const (
	KindBody PacketKind = "body"
	KindFace PacketKind = "face"
	KindBind PacketKind = "bind"
)

// Packet is the unit of the bridge protocol and of recordings.
type Packet struct {
	Kind PacketKind       `json:"kind"`
	Body *types.BodyFrame `json:"body,omitempty"`
	Face *types.FaceFrame `json:"face,omitempty"`
	Bind *BindRequest     `json:"bind,omitempty"`
}

// BindRequest asks the bridge to point a face source at a body.
type BindRequest struct {
	Slot   int    `json:"slot"`
	BodyID uint64 `json:"body_id"`
}

// DecodePacket parses one CBOR packet payload.
func DecodePacket(payload []byte) (Packet, error) {
	var p Packet
	if err := codec.Unmarshal(payload, &p); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	return p, nil
}

// EncodePacket serializes a packet without its length prefix.
func EncodePacket(p Packet) ([]byte, error) {
	data, err := codec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	return data, nil
}

// newPacketScanner reads length-prefixed packets from r.
func newPacketScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), utils.MaxPacketSize+4)
	scanner.Split(utils.SplitPacket)
	return scanner
}

// dispatch hands a packet to h, projecting joints first when the device did not.
// It reports false for packets that carry nothing usable.
func dispatch(p Packet, mapper Mapper, h Handler) bool {
	switch p.Kind {
	case KindBody:
		if p.Body == nil {
			// A nil body frame means "no data this tick".
			h.HandleBodyFrame(nil)
			return false
		}
		if !p.Body.Projected && mapper != nil {
			ProjectFrame(p.Body, mapper)
		}
		h.HandleBodyFrame(p.Body)
		return true
	case KindFace:
		if p.Face == nil {
			h.HandleFaceFrame(nil)
			return false
		}
		h.HandleFaceFrame(p.Face)
		return true
	default:
		return false
	}
}

// Tee fans every frame out to each handler in order.
func Tee(handlers ...Handler) Handler {
	return tee(handlers)
}

type tee []Handler

func (t tee) HandleBodyFrame(f *types.BodyFrame) {
	for _, h := range t {
		h.HandleBodyFrame(f)
	}
}

func (t tee) HandleFaceFrame(f *types.FaceFrame) {
	for _, h := range t {
		h.HandleFaceFrame(f)
	}
}
