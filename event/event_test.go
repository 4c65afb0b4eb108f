package event

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageNormalizesArguments(t *testing.T) {
	msg, err := NewMessage("/blob", 7, 3.5, "left", true, int64(1)<<40, struct{}{})
	require.NoError(t, err)

	require.Len(t, msg.Arguments, 5, "unsupported struct argument is skipped")
	assert.Equal(t, int32(7), msg.Arguments[0])
	assert.Equal(t, float32(3.5), msg.Arguments[1])
	assert.Equal(t, "left", msg.Arguments[2])
	assert.Equal(t, int32(1), msg.Arguments[3])
	assert.Equal(t, int64(1)<<40, msg.Arguments[4])
}

func TestNewMessageRejectsBadAddress(t *testing.T) {
	_, err := NewMessage("blob")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEncode(t *testing.T) {
	msg := osc.NewMessage("/depth/blob")
	msg.Append(int32(42))
	msg.Append("a")

	data, err := Encode(msg)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(data, []byte("/depth/blob\x00")))
	assert.Contains(t, string(data), ",is")
	assert.Equal(t, 0, len(data)%4, "osc packets are 4-byte aligned")

	idx := bytes.Index(data, []byte(",is\x00"))
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(data[idx+4:idx+8]))
}

func TestEncodeSize(t *testing.T) {
	msg, err := NewMessage("/x", int32(1))
	require.NoError(t, err)

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.Len(t, data, 12)

	_, err = Encode(nil)
	assert.Error(t, err)
}
