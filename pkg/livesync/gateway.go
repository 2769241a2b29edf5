package livesync

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/udu/livesync/pkg/log"
	"golang.org/x/text/unicode/norm"
)

// Gateway validates and sends user-originated actions through the
// connection manager. Outbound chat gets a client-generated message id and
// an optimistic local echo; the server echo with the same id later confirms
// it (see sessionState).
type Gateway struct {
	conn   *Manager
	rooms  *Membership
	lookup func(roomID string) *sessionState
	author string
	maxLen int
	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

func newGateway(conn *Manager, rooms *Membership, lookup func(string) *sessionState, author string, maxLen int) *Gateway {
	return &Gateway{
		conn:   conn,
		rooms:  rooms,
		lookup: lookup,
		author: author,
		maxLen: maxLen,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log.ForComponent("gateway"),
	}
}

// SendChat validates and transmits a chat message to roomID. The returned
// message carries the client-generated id so callers can track the echo.
//
// Failure modes are synchronous: ValidationError for empty/oversized text,
// NotConnectedError while the connection is down (no local echo is inserted
// in that case, so the UI reflects that nothing was sent).
func (g *Gateway) SendChat(roomID, text string) (ChatMessage, error) {
	if roomID == "" {
		return ChatMessage{}, &ValidationError{Field: "room", Reason: "empty room id"}
	}

	text = normalizeChatText(text)
	if text == "" {
		return ChatMessage{}, &ValidationError{Field: "text", Reason: "empty after trimming"}
	}
	if n := utf8.RuneCountInString(text); n > g.maxLen {
		return ChatMessage{}, &ValidationError{Field: "text", Reason: "exceeds maximum length"}
	}

	if st := g.conn.Status(); st != StatusConnected {
		return ChatMessage{}, &NotConnectedError{Status: st}
	}

	msg := ChatMessage{
		ID:     g.newID(),
		Author: g.author,
		Text:   text,
		SentAt: g.now().UTC(),
		Origin: OriginLocalEcho,
	}

	if state := g.lookup(roomID); state != nil {
		state.AddLocalEcho(msg)
	}

	frame, err := chatFrame(roomID, msg)
	if err != nil {
		return ChatMessage{}, err
	}
	if err := g.conn.Send(frame); err != nil {
		// The echo stays in the log; the confirmation timeout will flag it
		// unconfirmed if the send really was lost.
		g.logger.Warnf("chat send to %s failed: %v", roomID, err)
		return msg, err
	}
	return msg, nil
}

// JoinRoom validates the room id and registers join intent.
func (g *Gateway) JoinRoom(roomID string) error {
	if roomID == "" {
		return &ValidationError{Field: "room", Reason: "empty room id"}
	}
	g.rooms.Join(roomID)
	return nil
}

// LeaveRoom validates the room id and drops one membership reference.
func (g *Gateway) LeaveRoom(roomID string) error {
	if roomID == "" {
		return &ValidationError{Field: "room", Reason: "empty room id"}
	}
	g.rooms.Leave(roomID)
	return nil
}

// normalizeChatText trims surrounding whitespace and NFC-normalizes the
// text so length limits count what users actually see.
func normalizeChatText(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}
