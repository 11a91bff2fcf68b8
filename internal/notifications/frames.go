package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Realtime event names.
const (
	EventJoinChat        = "join-chat"
	EventLeaveChat       = "leave-chat"
	EventSendMessage     = "send-message"
	EventConnected       = "connected"
	EventReceiveMessage  = "receive-message"
	EventAck             = "ack"
	EventError           = "error"
	EventMessagesDropped = "messages_dropped"
)

// Frame is one JSON text message on the socket, in either direction.
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the payload of an ack frame.
type Ack struct {
	Status  string      `json:"status"`
	Message interface{} `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// EncodeFrame renders an outbound frame.
func EncodeFrame(event, ackID string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, AckID: ackID, Data: raw})
}

// DecodeFrame parses an inbound frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("malformed frame: missing event")
	}
	return f, nil
}

// ParseChatID reads a chat id sent either as a number or a numeric string.
func ParseChatID(raw json.RawMessage) (uint, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return uint(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil && n > 0 {
			return uint(n), nil
		}
	}
	return 0, fmt.Errorf("invalid chat id")
}
