package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
)

// Network magics. The four bytes spell QUAM and QUAX.
const (
	MagicMainnet uint32 = 0x5155414D
	MagicTestnet uint32 = 0x51554158
)

// Frame layout constants.
const (
	commandSize  = 12
	headerSize   = 4 + commandSize + 4 + 4
	maxFrameSize = 2 << 20 // Payload bound per frame.
)

// Frame level errors.
var (
	ErrBadMagic         = errors.New("wrong network magic")
	ErrOversizedMessage = errors.New("frame payload exceeds limit")
	ErrBadChecksum      = errors.New("frame checksum mismatch")
	ErrBadCommand       = errors.New("malformed command field")
)

// frame is a single length-prefixed protocol frame.
type frame struct {
	command string
	payload []byte
}

// writeFrame writes one frame: magic, NUL-padded ASCII command, payload
// length, the first four bytes of SHA3-256 over the payload, then the
// payload itself.
func writeFrame(w io.Writer, magic uint32, fr frame) error {
	if len(fr.command) > commandSize {
		return ErrBadCommand
	}
	if len(fr.payload) > maxFrameSize {
		return ErrOversizedMessage
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], magic)
	copy(header[4:4+commandSize], fr.command)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(fr.payload)))

	sum := sha3.Sum256(fr.payload)
	copy(header[20:24], sum[:4])

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(fr.payload) > 0 {
		if _, err := w.Write(fr.payload); err != nil {
			return err
		}
	}

	return nil
}

// readFrame reads and verifies one frame.
func readFrame(r io.Reader, magic uint32) (frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}

	if got := binary.BigEndian.Uint32(header[0:4]); got != magic {
		return frame{}, fmt.Errorf("%w: %08x", ErrBadMagic, got)
	}

	command := commandString(header[4 : 4+commandSize])
	if command == "" {
		return frame{}, ErrBadCommand
	}

	length := binary.BigEndian.Uint32(header[16:20])
	if length > maxFrameSize {
		return frame{}, fmt.Errorf("%w: %d bytes", ErrOversizedMessage, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}

	sum := sha3.Sum256(payload)
	if !bytesEqual4(sum[:4], header[20:24]) {
		return frame{}, ErrBadChecksum
	}

	return frame{command: command, payload: payload}, nil
}

// commandString strips the NUL padding and rejects embedded NULs or
// non-ASCII bytes.
func commandString(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}

	for _, b := range raw[:end] {
		if b < 0x20 || b > 0x7e {
			return ""
		}
	}

	return string(raw[:end])
}

func bytesEqual4(a []byte, b []byte) bool {
	return a[0] == b[0] && a[1] == b[1] && a[2] == b[2] && a[3] == b[3]
}
