package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteChunkThenReadChunkRoundTrips(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteChunk(client, MessageHello, ChunkFinal, []byte("hello body"))
	}()

	hdr, body, err := ReadChunk(server, 0)
	require.NoError(t, err)
	assert.Equal(t, MessageHello, hdr.MessageType)
	assert.Equal(t, ChunkFinal, hdr.ChunkType)
	assert.Equal(t, "hello body", string(body))
}

func TestReadChunkRejectsOversizedMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteChunk(client, MessageMessage, ChunkFinal, make([]byte, 100))
	}()

	_, _, err := ReadChunk(server, 16)
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestWriteMessageThenReadMessageReassemblesChunks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}

	go func() {
		_ = WriteMessage(client, MessageMessage, body, 32, 0)
	}()

	msgType, got, err := ReadMessage(server, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, MessageMessage, msgType)
	assert.Equal(t, body, got)
}

func TestReadMessageDiscardsAbortedChunks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteChunk(client, MessageMessage, ChunkIntermediate, []byte("partial"))
		_ = WriteChunk(client, MessageMessage, ChunkAbort, nil)
	}()

	_, _, err := ReadMessage(server, 0, 0)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestWriteMessageEnforcesMaxChunkCount(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		for {
			if _, _, err := ReadChunk(server, 0); err != nil {
				return
			}
		}
	}()

	err := WriteMessage(client, MessageMessage, make([]byte, 1000), 32, 2)
	assert.ErrorIs(t, err, ErrTooManyChunks)
}

func TestReadMessageEnforcesMaxChunkCount(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteMessage(client, MessageMessage, make([]byte, 1000), 32, 0)
	}()

	_, _, err := ReadMessage(server, 0, 2)
	assert.ErrorIs(t, err, ErrTooManyChunks)
}

func TestWriteMessageSendsZeroLengthBodyAsSingleFinalChunk(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteMessage(client, MessageClose, nil, 0, 0)
	}()

	msgType, body, err := ReadMessage(server, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, MessageClose, msgType)
	assert.Empty(t, body)
}

func TestReadChunkPropagatesDeadlineTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, _, err := ReadChunk(server, 0)
	assert.Error(t, err)
}
