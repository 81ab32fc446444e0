// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// SystemUser is the reserved author name used for server-generated notices
// (joins, leaves, moderation messages). Clients can never claim it.
const SystemUser = "system"

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom       = "joinRoom"
	TypeChatMessage    = "chatMessage"
	TypeImageMessage   = "imageMessage"
	TypePrivateMessage = "privateMessage"
	TypeKickUser       = "kickUser"
	TypeBanUser        = "banUser"
	TypeMakeAdmin      = "makeAdmin"
	TypeTyping         = "typing"
	TypeStopTyping     = "stopTyping"
	TypeUpdateProfile  = "updateProfile"
	TypeDeleteMessage  = "deleteMessage"
	TypePing           = "ping"
)

// Server -> Client message types. TypeImageMessage and TypePrivateMessage are
// reused in the outbound direction: the server relays them under the same
// discriminator.
const (
	TypeMessage                = "message"
	TypeMessageHistory         = "messageHistory"
	TypeRoomUsers              = "roomUsers"
	TypeAdminUpdate            = "adminUpdate"
	TypePrivateMessageResponse = "privateMessageResponse"
	TypeUserTyping             = "userTyping"
	TypeUserStopTyping         = "userStopTyping"
	TypeProfileUpdated         = "profileUpdated"
	TypeMessageDeleted         = "messageDeleted"
	TypeKicked                 = "kicked"
	TypeActiveRooms            = "activeRooms"
	TypeBanned                 = "banned"
	TypeRateLimited            = "rateLimited"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// ---------------------------------------------------------------------------
// Shared wire structs
// ---------------------------------------------------------------------------

// Profile holds the optional presentation fields a user can attach to their
// connection.
type Profile struct {
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
	Bio    string `json:"bio,omitempty"`
}

// RoomMessage is a single room message as it appears on the wire and in the
// per-room history: broadcasts, history replay entries, and system notices all
// share this shape. Exactly one of Text or Image is set.
type RoomMessage struct {
	ID    string `json:"id"`
	User  string `json:"user"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Time  string `json:"time"`
}

// IsImage reports whether the message carries an image payload.
func (m RoomMessage) IsImage() bool { return m.Image != "" }

// PrivateMsg is a direct message between two connections. It is echoed to the
// sender and delivered to the target with the same shape.
type PrivateMsg struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromUser string `json:"fromUser"`
	To       string `json:"to"`
	ToUser   string `json:"toUser"`
	Text     string `json:"text"`
	Time     string `json:"time"`
}

// RoomUser is one entry in a room roster broadcast.
type RoomUser struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Profile  Profile `json:"profile"`
}

// RoomInfo is one entry in an active-rooms listing.
type RoomInfo struct {
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg is sent by the client to enter a room under a display name.
// Password is accepted for forward compatibility but not currently enforced.
type JoinRoomMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
	Password string `json:"password,omitempty"`
}

// ChatMessageMsg is a text message sent by the client to its current room.
type ChatMessageMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ImageMessageMsg carries an image as a data URI to the sender's room.
type ImageMessageMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
	Image    string `json:"image"`
}

// PrivateMessageMsg is a direct message to another connection.
type PrivateMessageMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
	Message  string `json:"message"`
}

// ModerationActionMsg is the shared shape of kickUser, banUser, and makeAdmin:
// an admin action directed at a target connection within a room.
type ModerationActionMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
	Room     string `json:"room"`
}

// TypingMsg signals that the named user started or stopped typing in a room.
// The same shape serves both the typing and stopTyping types.
type TypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// UpdateProfileMsg replaces the sender's profile fields.
type UpdateProfileMsg struct {
	Type   string `json:"type"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
	Bio    string `json:"bio,omitempty"`
}

// DeleteMessageMsg asks the server to remove one of the sender's own messages
// from a room's history.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// MessageHistoryMsg replays a room's retained history to a new joiner.
type MessageHistoryMsg struct {
	Type     string        `json:"type"`
	Messages []RoomMessage `json:"messages"`
}

// RoomUsersMsg is the room roster: every member plus the current admin ids.
type RoomUsersMsg struct {
	Type   string     `json:"type"`
	Users  []RoomUser `json:"users"`
	Admins []string   `json:"admins"`
}

// AdminUpdateMsg announces a change to a room's admin set.
type AdminUpdateMsg struct {
	Type   string   `json:"type"`
	Admins []string `json:"admins"`
}

// PrivateMessageResponseMsg acknowledges a privateMessage to its sender.
type PrivateMessageResponseMsg struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserTypingMsg relays a typing indicator to the rest of the room. The same
// shape serves both userTyping and userStopTyping.
type UserTypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ProfileUpdatedMsg broadcasts a member's new profile to their room.
type ProfileUpdatedMsg struct {
	Type     string  `json:"type"`
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Profile  Profile `json:"profile"`
}

// MessageDeletedMsg notifies a room that a history entry was removed.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// KickedMsg tells a connection it was removed from its room by an admin.
type KickedMsg struct {
	Type string `json:"type"`
}

// ActiveRoomsMsg lists the rooms the server currently knows about.
type ActiveRoomsMsg struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

// BannedMsg tells a connection its address has been banned.
type BannedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// RateLimitedMsg is sent when the client exceeded a throughput limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeImageMessage:
		var m ImageMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateMessage:
		var m PrivateMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeKickUser, TypeBanUser, TypeMakeAdmin:
		var m ModerationActionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateProfile:
		var m UpdateProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs above; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
