package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client -> server message kinds.
const (
	MsgSubscribe   = "channel:subscribe"
	MsgUnsubscribe = "channel:unsubscribe"
	MsgPing        = "system:ping"
)

// Server -> client message kinds. Entity change events use their own kinds
// of the form "<entity>:new|update|delete" carried in BroadcastEnvelope.
const (
	MsgConnected    = "system:connected"
	MsgSubscribed   = "channel:subscribed"
	MsgUnsubscribed = "channel:unsubscribed"
	MsgChannelError = "channel:error"
	MsgPong         = "system:pong"
	MsgError        = "system:error"
)

// ClientMessage is a frame received from a WebSocket client.
type ClientMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// ServerMessage is a frame pushed to a WebSocket client.
type ServerMessage struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (m ServerMessage) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// BroadcastEnvelope is the unit published on the shared bus. It is stateless
// and never persisted; a client that misses one reconciles on its next full
// read.
type BroadcastEnvelope struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEnvelope(channel, eventType string, payload interface{}) (*BroadcastEnvelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("realtime: encode payload for %q: %w", channel, err)
		}
		raw = data
	}
	return &BroadcastEnvelope{
		ID:        uuid.New().String(),
		Channel:   channel,
		EventType: eventType,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// Frame renders the envelope as the client-facing event message, e.g.
// {"type":"course:update","channel":"course:42","data":{...}}.
func (e *BroadcastEnvelope) Frame() []byte {
	return ServerMessage{
		Type:    e.EventType,
		Channel: e.Channel,
		Data:    e.Payload,
	}.Encode()
}
