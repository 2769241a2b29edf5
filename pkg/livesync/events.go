package livesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Wire event names the realtime backend exchanges on a live session room.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventViewerJoin  = "viewer:join"
	EventViewerLeave = "viewer:leave"
	EventViewerCount = "viewer:count"
	EventChatMessage = "chat:message"
	EventConnStatus  = "connection:status"

	// EventCommentNew is the historical alias some backends still emit for
	// chat messages. Inbound frames are normalized to EventChatMessage.
	EventCommentNew = "comment:new"
)

// RoomForStream returns the room name joined for a stream id.
func RoomForStream(streamID string) string { return "stream:" + streamID }

// StreamIDFromRoom extracts the stream id from a room name. Rooms without
// the stream prefix are returned unchanged.
func StreamIDFromRoom(room string) string { return strings.TrimPrefix(room, "stream:") }

// Frame is the single JSON object exchanged with the realtime backend.
type Frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Canonical maps legacy event aliases to their canonical name.
func Canonical(event string) string {
	if event == EventCommentNew {
		return EventChatMessage
	}
	return event
}

// MessageOrigin distinguishes server-delivered messages from optimistic
// local echoes awaiting confirmation.
type MessageOrigin string

const (
	OriginRemote    MessageOrigin = "remote"
	OriginLocalEcho MessageOrigin = "local-echo"
)

// ChatMessage is one entry in a room's chat log. IDs are client-generated
// for outbound messages; the server echo carries the same id back, which is
// how local echoes reconcile with their confirmed counterpart.
type ChatMessage struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`

	// Origin and Unconfirmed are client-side bookkeeping, never on the wire.
	Origin      MessageOrigin `json:"-"`
	Unconfirmed bool          `json:"-"`
}

// StreamMeta describes the live session, seeded over REST.
type StreamMeta struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	Thumbnail string `json:"thumbnail"`
	Streamer  string `json:"streamer"`
}

type viewerCountPayload struct {
	Room  string   `json:"room"`
	Count *float64 `json:"count"`
}

type chatMessagePayload struct {
	Room    string      `json:"room"`
	Message ChatMessage `json:"message"`
}

type connStatusPayload struct {
	Status string `json:"status"`
}

// decodeViewerCount validates a viewer:count payload. Counts must be
// non-negative finite numbers; anything else is malformed and dropped.
func decodeViewerCount(data json.RawMessage) (int, error) {
	var p viewerCountPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, &MalformedPayloadError{Event: EventViewerCount, Err: err}
	}
	if p.Count == nil {
		return 0, &MalformedPayloadError{Event: EventViewerCount, Err: errors.New("missing count")}
	}
	c := *p.Count
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		return 0, &MalformedPayloadError{Event: EventViewerCount, Err: fmt.Errorf("count out of range: %v", c)}
	}
	return int(c), nil
}

func decodeChatMessage(data json.RawMessage) (ChatMessage, error) {
	var p chatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChatMessage{}, &MalformedPayloadError{Event: EventChatMessage, Err: err}
	}
	msg := p.Message
	if msg.ID == "" {
		// Some payload variants inline the message fields instead of
		// nesting them under "message".
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			return ChatMessage{}, &MalformedPayloadError{Event: EventChatMessage, Err: errors.New("missing message id")}
		}
	}
	msg.Origin = OriginRemote
	return msg, nil
}

// DecodeChat decodes a chat:message frame into the message and the room it
// belongs to. The room comes from the payload when present, otherwise from
// the frame envelope.
func DecodeChat(f Frame) (ChatMessage, string, error) {
	msg, err := decodeChatMessage(f.Data)
	if err != nil {
		return ChatMessage{}, "", err
	}
	var p chatMessagePayload
	_ = json.Unmarshal(f.Data, &p)
	room := p.Room
	if room == "" {
		room = f.Room
	}
	return msg, room, nil
}

func decodeConnStatus(data json.RawMessage) (Status, error) {
	var p connStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", &MalformedPayloadError{Event: EventConnStatus, Err: err}
	}
	if p.Status == "" {
		return "", &MalformedPayloadError{Event: EventConnStatus, Err: errors.New("missing status")}
	}
	return Status(p.Status), nil
}

// marshalData encodes a payload into a frame body. Marshal failures on our
// own payload types are programming errors and reported as such.
func marshalData(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// chatFrame builds the outbound chat:message frame for a message.
func chatFrame(room string, msg ChatMessage) (Frame, error) {
	data, err := marshalData(chatMessagePayload{Room: room, Message: msg})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: EventChatMessage, Room: room, Data: data}, nil
}

// statusFrame builds the synthetic connection:status frame mirrored into
// every room's session state.
func statusFrame(s Status) Frame {
	data, _ := marshalData(connStatusPayload{Status: string(s)})
	return Frame{Event: EventConnStatus, Data: data}
}
