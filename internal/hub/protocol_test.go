package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	frame, err := encodeFrame(invocation{
		Type:         InvocationMessage,
		InvocationID: "7",
		Target:       MethodSendAudioChunk,
		Arguments:    []interface{}{[]byte{0xde, 0xad}, "s1", "pt-BR", "en-US"},
	})
	require.NoError(t, err)

	assert.Equal(t, recordSeparator, frame[len(frame)-1])
	assert.JSONEq(t,
		`{"type":1,"invocationId":"7","target":"SendAudioChunk","arguments":["3q0=","s1","pt-BR","en-US"]}`,
		string(frame[:len(frame)-1]))
}

func TestSplitFrames(t *testing.T) {
	data := []byte("{}\x1e{\"type\":6}\x1e\x1e")
	frames := splitFrames(data)
	require.Len(t, frames, 2)
	assert.Equal(t, "{}", string(frames[0]))

	env, err := decodeEnvelope(frames[1])
	require.NoError(t, err)
	assert.Equal(t, PingMessage, env.Type)

	assert.Empty(t, splitFrames([]byte("\x1e")))
}

func TestDecodeCompletion(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"type":3,"invocationId":"2","error":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, CompletionMessage, env.Type)
	assert.Equal(t, "2", env.InvocationID)
	assert.Equal(t, "boom", env.Error)

	_, err = decodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestToWebSocketURL(t *testing.T) {
	tests := map[string]string{
		"https://localhost:7071/hubs/translation": "wss://localhost:7071/hubs/translation",
		"http://127.0.0.1:5000/hub":               "ws://127.0.0.1:5000/hub",
		"wss://already.example/hub":               "wss://already.example/hub",
	}
	for in, want := range tests {
		assert.Equal(t, want, toWebSocketURL(in))
	}
}
