package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every JSON hub message on the wire
const recordSeparator byte = 0x1e

// MessageType identifies a hub protocol message
type MessageType int

const (
	InvocationMessage       MessageType = 1
	StreamItemMessage       MessageType = 2
	CompletionMessage       MessageType = 3
	StreamInvocationMessage MessageType = 4
	CancelInvocationMessage MessageType = 5
	PingMessage             MessageType = 6
	CloseMessage            MessageType = 7
)

// Hub method names
const (
	MethodJoinSession       = "JoinSession"
	MethodLeaveSession      = "LeaveSession"
	MethodSendAudioChunk    = "SendAudioChunk"
	EventReceiveTranslation = "ReceiveTranslation"
	EventTranslationError   = "TranslationError"
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// envelope is the union of the fields of every inbound message type
type envelope struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type invocation struct {
	Type         MessageType   `json:"type"`
	InvocationID string        `json:"invocationId,omitempty"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments"`
}

type ping struct {
	Type MessageType `json:"type"`
}

type closeMsg struct {
	Type MessageType `json:"type"`
}

// encodeFrame marshals v and appends the record separator.
// []byte arguments are carried as base64 strings.
func encodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hub message: %w", err)
	}
	return append(data, recordSeparator), nil
}

// splitFrames returns the non-empty records in a websocket message
func splitFrames(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	frames := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			frames = append(frames, p)
		}
	}
	return frames
}

func decodeEnvelope(frame []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("failed to decode hub message: %w", err)
	}
	return env, nil
}
