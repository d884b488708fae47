package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (sensor bridge logs)
// This ensures we don't lose the device SDK's crash output if the bridge dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps bridge logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 AMDLINK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSENSOR BRIDGE LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for amdlink.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Packet Framing (Bridge pipe & Recordings) ---

// packetHeaderLen is the size of the big-endian uint32 length prefix.
const packetHeaderLen = 4

// MaxPacketSize bounds a single packet; anything larger is a corrupt stream.
const MaxPacketSize = 16 * 1024 * 1024

// ErrPacketTooLarge is returned when a length prefix exceeds MaxPacketSize.
var ErrPacketTooLarge = fmt.Errorf("packet exceeds %d bytes", MaxPacketSize)

// SplitPacket is the custom splitter for bufio.Scanner
// It extracts [Length][Payload] records and yields the payload without its header.
func SplitPacket(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if len(data) < packetHeaderLen {
		if atEOF {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, nil
	}
	size := binary.BigEndian.Uint32(data[:packetHeaderLen])
	if size > MaxPacketSize {
		return 0, nil, ErrPacketTooLarge
	}
	end := packetHeaderLen + int(size)
	if len(data) < end {
		if atEOF {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, nil
	}
	return end, data[packetHeaderLen:end], nil
}

// WritePacket writes payload with its length prefix.
func WritePacket(w io.Writer, payload []byte) error {
	if len(payload) > MaxPacketSize {
		return ErrPacketTooLarge
	}
	var header [packetHeaderLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// GenerateRecordingID creates a deterministic hash for a recording file
// based on its path, size, and modification time.
func GenerateRecordingID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
