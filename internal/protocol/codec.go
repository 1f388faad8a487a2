// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxFrameSize caps a single frame on either codec. Oversized frames are a
// protocol error, not a crash.
const MaxFrameSize = 4 * 1024 * 1024

// Codec error reasons. All parser failures surface as a *CodecError wrapping
// one of these so callers can drop the frame without guessing.
var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrInvalidUTF8   = errors.New("invalid utf-8")
	ErrInvalidJSON   = errors.New("invalid json")
	ErrMissingType   = errors.New("missing type field")
)

// CodecError is a typed parse failure. Invalid input never panics; it always
// comes back as one of these.
type CodecError struct {
	Reason error
	Detail string
}

func (e *CodecError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("codec: %v", e.Reason)
	}
	return fmt.Sprintf("codec: %v: %s", e.Reason, e.Detail)
}

func (e *CodecError) Unwrap() error { return e.Reason }

// IsCodecError reports whether err is a frame-level protocol error.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

// LineReader reads line-delimited JSON envelopes from the local client socket.
type LineReader struct {
	br *bufio.Reader
}

// NewLineReader wraps r for envelope reading.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadEnvelope reads one newline-terminated JSON envelope. io.EOF is returned
// unchanged when the peer closes cleanly between frames.
func (lr *LineReader) ReadEnvelope() (*Envelope, error) {
	line, err := lr.readLine()
	if err != nil {
		return nil, err
	}
	return ParseEnvelope(line)
}

// readLine reads up to and including the next '\n', enforcing MaxFrameSize.
func (lr *LineReader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := lr.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxFrameSize {
			return nil, &CodecError{Reason: ErrFrameTooLarge, Detail: fmt.Sprintf("line exceeds %d bytes", MaxFrameSize)}
		}
		if err == nil {
			return buf[:len(buf)-1], nil // strip '\n'
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(buf) > 0 {
			// Unterminated final line; treat as a frame.
			return buf, nil
		}
		return nil, err
	}
}

// ParseEnvelope validates and decodes one raw frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameSize {
		return nil, &CodecError{Reason: ErrFrameTooLarge}
	}
	if !utf8.Valid(data) {
		return nil, &CodecError{Reason: ErrInvalidUTF8}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &CodecError{Reason: ErrInvalidJSON, Detail: err.Error()}
	}
	if env.Type == "" {
		return nil, &CodecError{Reason: ErrMissingType}
	}
	return &env, nil
}

// WriteEnvelope writes one envelope followed by a single newline.
func WriteEnvelope(w io.Writer, typ string, payload interface{}) error {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame: 4-byte little-endian unsigned
// length, then exactly that many bytes. Used by host-messaging query mode.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, &CodecError{Reason: ErrFrameTooLarge, Detail: fmt.Sprintf("frame of %d bytes", n)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	if !utf8.Valid(buf) {
		return nil, &CodecError{Reason: ErrInvalidUTF8}
	}
	return buf, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return &CodecError{Reason: ErrFrameTooLarge}
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// DecodeCommand decodes a command envelope payload.
func DecodeCommand(raw json.RawMessage) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, &CodecError{Reason: ErrInvalidJSON, Detail: err.Error()}
	}
	return &cmd, nil
}
