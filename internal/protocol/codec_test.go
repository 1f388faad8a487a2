// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope_Valid(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Type)
	assert.Nil(t, env.Payload)
}

func TestParseEnvelope_WithPayload(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"command","payload":{"id":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "command", env.Type)
	assert.JSONEq(t, `{"id":"c1"}`, string(env.Payload))
}

func TestParseEnvelope_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		reason error
	}{
		{"invalid json", []byte(`{"type":`), ErrInvalidJSON},
		{"missing type", []byte(`{"payload":{}}`), ErrMissingType},
		{"empty type", []byte(`{"type":""}`), ErrMissingType},
		{"invalid utf8", []byte{'{', 0xff, 0xfe, '}'}, ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(tt.input)
			require.Error(t, err)
			assert.True(t, IsCodecError(err))
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestLineReader_MultipleEnvelopes(t *testing.T) {
	input := `{"type":"ping"}` + "\n" + `{"type":"list_sessions"}` + "\n"
	lr := NewLineReader(strings.NewReader(input))

	env, err := lr.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Type)

	env, err = lr.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "list_sessions", env.Type)

	_, err = lr.ReadEnvelope()
	assert.Equal(t, io.EOF, err)
}

func TestLineReader_UnterminatedFinalLine(t *testing.T) {
	lr := NewLineReader(strings.NewReader(`{"type":"ping"}`))
	env, err := lr.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Type)
}

func TestLineReader_MalformedLineIsCodecError(t *testing.T) {
	lr := NewLineReader(strings.NewReader("not json\n"))
	_, err := lr.ReadEnvelope()
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
}

func TestWriteEnvelope_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, TypeResponse, CommandResult{ID: "c1", Success: true}))
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))

	env, err := NewLineReader(&buf).ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, env.Type)

	cmdResult := CommandResult{}
	require.NoError(t, json.Unmarshal(env.Payload, &cmdResult))
	assert.Equal(t, "c1", cmdResult.ID)
	assert.True(t, cmdResult.Success)
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"type":"get_endpoint"}`)))

	// 4-byte little-endian length prefix
	assert.Equal(t, uint32(len(`{"type":"get_endpoint"}`)), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	data, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"get_endpoint"}`, string(data))
}

func TestReadFrame_OversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	buf.Write(hdr[:])

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 100)
	buf.Write(hdr[:])
	buf.WriteString("short")

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"id":"c1","sessionId":"s1","type":"click","params":{"selector":"#a"}}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", cmd.ID)
	assert.Equal(t, "s1", cmd.SessionID)
	assert.Equal(t, "click", cmd.Type)
	assert.Equal(t, "#a", cmd.Params["selector"])

	_, err = DecodeCommand([]byte(`nope`))
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
}

func TestValidCommandType(t *testing.T) {
	assert.True(t, ValidCommandType("navigate"))
	assert.True(t, ValidCommandType("tab_new"))
	assert.True(t, ValidCommandType("screenshot"))
	assert.False(t, ValidCommandType("teleport"))
	assert.False(t, ValidCommandType(""))
}
