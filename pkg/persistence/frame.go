package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the binary frame format shared by the record codec and the AOF.
const (
	// MagicByte marks the start of a frame.
	MagicByte = 0xA5

	// HeaderSize is Magic(1) + OpCode(1) + Length(4) + CRC32(4).
	HeaderSize = 10

	// OpRecord frames a single encoded record (badger values).
	OpRecord byte = 0x01
	// OpPut is an AOF entry holding a batch of records to insert.
	OpPut byte = 0x02
	// OpDelete is an AOF entry holding ids to remove.
	OpDelete byte = 0x03
	// OpClear is an AOF entry that wipes the store. Its payload is empty.
	OpClear byte = 0x04
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not a frame.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the data ended abruptly (e.g. power loss during write).
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// FrameWriter writes binary frames to an io.Writer.
type FrameWriter struct {
	w      io.Writer
	header [HeaderSize]byte
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a frame and writes it.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	fw.header[0] = MagicByte
	fw.header[1] = op
	binary.LittleEndian.PutUint32(fw.header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(fw.header[6:10], crc32.ChecksumIEEE(payload))

	// Callers wrap files in a bufio.Writer so both writes land in one syscall.
	if _, err := fw.w.Write(fw.header[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// ReadFrame reads the next frame, validating the magic byte and the checksum.
// It returns the opcode, the payload and the number of bytes consumed.
// A clean end of stream at a frame boundary returns io.EOF.
func ReadFrame(r io.Reader) (byte, []byte, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}

	op := header[1]
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return op, nil, HeaderSize, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return op, nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return op, payload, HeaderSize + int(length), nil
}

// frameBytes returns payload wrapped in a single frame.
func frameBytes(op byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	_ = NewFrameWriter(&buf).WriteFrame(op, payload)
	return buf.Bytes()
}

// unframeBytes is the inverse of frameBytes. Trailing data is an error.
func unframeBytes(data []byte) (byte, []byte, error) {
	op, payload, n, err := ReadFrame(bytes.NewReader(data))
	if err != nil {
		if err == io.EOF {
			return 0, nil, ErrIncompleteFrame
		}
		return 0, nil, err
	}
	if n != len(data) {
		return 0, nil, ErrIncompleteFrame
	}
	return op, payload, nil
}
