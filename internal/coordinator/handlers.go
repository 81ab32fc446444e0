package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/majlis/chat-app/internal/history"
	"github.com/majlis/chat-app/internal/messaging"
	"github.com/majlis/chat-app/internal/metrics"
	"github.com/majlis/chat-app/internal/moderation"
	"github.com/majlis/chat-app/internal/protocol"
	"github.com/majlis/chat-app/internal/report"
)

// HandleJoinRoom processes a joinRoom event. Validation order: identity
// screen (a denylisted username or room name escalates to an address ban and
// disconnect), then length checks, then the name-collision check. A
// connection already in a room leaves it implicitly before joining the new
// one. On success the joiner gets the history replay and welcome notices,
// and the room gets a join notice and an updated roster.
func (c *Coordinator) HandleJoinRoom(connID string, msg protocol.JoinRoomMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	entry, ok := c.presence.Get(connID)
	if !ok {
		c.mu.Unlock()
		return
	}

	if c.filter.Check(msg.Username).Blocked || c.filter.Check(msg.Room).Blocked {
		c.sendNotice(connID, "you have been banned from the chat for using prohibited language")
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		if err := c.bans.Ban(ctx, entry.Addr, "prohibited language in username or room name"); err != nil {
			log.Printf("coordinator: ban addr=%s: %v", entry.Addr, err)
		}
		cancel()
		metrics.ModerationActionsTotal.WithLabelValues("word_ban").Inc()
		c.reportEvent(report.Event{
			Action:     report.ActionWordBan,
			TargetUser: msg.Username,
			TargetAddr: entry.Addr,
			Room:       msg.Room,
			Reason:     "prohibited language in username or room name",
		}, msg.Room)
		c.purgeLocked(connID)
		c.mu.Unlock()
		c.transport.Disconnect(connID)
		metrics.ConnectionsTotal.Dec()
		return
	}

	if msg.Username == "" || msg.Room == "" ||
		strings.EqualFold(msg.Username, protocol.SystemUser) {
		c.sendNotice(connID, "this name cannot be used")
		c.mu.Unlock()
		return
	}
	if moderation.CheckLength(msg.Username, c.limits.UsernameMaxChars) != nil ||
		moderation.CheckLength(msg.Room, c.limits.RoomNameMaxChars) != nil {
		c.sendNotice(connID, "the name exceeds the allowed length")
		c.mu.Unlock()
		return
	}

	for _, m := range c.rooms.Members(msg.Room) {
		if m.Username == msg.Username && m.ID != connID {
			c.sendNotice(connID, "this name is already in use in this room")
			c.mu.Unlock()
			return
		}
	}

	// Implicit leave: a connection joins at most one room at a time.
	if entry.Room != "" && entry.Username != "" {
		c.departRoomLocked(entry.Room, connID, entry.Username)
	}

	isAdmin, err := c.rooms.Join(msg.Room, connID, msg.Username)
	if err != nil {
		// The collision scan above runs under the same lock, so this is
		// unreachable in practice.
		log.Printf("coordinator: join room=%s conn=%s: %v", msg.Room, connID, err)
		c.sendNotice(connID, "this name is already in use in this room")
		c.mu.Unlock()
		return
	}

	c.transport.JoinRoom(msg.Room, connID)
	c.presence.SetUsername(connID, msg.Username)
	c.presence.SetRoom(connID, msg.Room)

	if replay := c.history.All(msg.Room); len(replay) > 0 {
		c.send(connID, protocol.TypeMessageHistory, protocol.MessageHistoryMsg{Messages: replay})
	}

	c.sendNotice(connID, fmt.Sprintf("welcome %s to room %s", msg.Username, msg.Room))
	if isAdmin {
		c.sendNotice(connID, "you are now an admin of this room")
	}

	joined := c.systemMessage(msg.Username + " joined the room")
	c.broadcastRoomLocked(msg.Room, protocol.TypeMessage, joined, connID)
	c.history.Append(msg.Room, joined)
	c.publishLog(msg.Room, protocol.SystemUser, joined.Text, messaging.LogKindSystem)

	c.broadcastRoomLocked(msg.Room, protocol.TypeRoomUsers, c.rosterLocked(msg.Room))
	metrics.RoomsTotal.Set(float64(len(c.rooms.Rooms())))
	c.mu.Unlock()

	log.Printf("coordinator: joined room=%s conn=%s user=%s admin=%t", msg.Room, connID, msg.Username, isAdmin)
}

// HandleChatMessage processes a text message to the sender's current room.
// Length is enforced before the denylist; a blocked message is dropped with
// a notice to the sender only.
func (c *Coordinator) HandleChatMessage(connID string, msg protocol.ChatMessageMsg) {
	c.presence.Touch(connID)
	if !c.allowMessage(connID) {
		metrics.MessagesTotal.WithLabelValues("text", "rejected").Inc()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.presence.Get(connID)
	if !ok || entry.Room == "" || entry.Username == "" {
		return
	}

	if moderation.CheckLength(msg.Text, c.limits.MessageMaxChars) != nil {
		c.sendNotice(connID, fmt.Sprintf("messages cannot exceed %d characters", c.limits.MessageMaxChars))
		metrics.MessagesTotal.WithLabelValues("text", "rejected").Inc()
		return
	}
	if c.filter.Check(msg.Text).Blocked {
		c.sendNotice(connID, "the message was blocked for containing prohibited language")
		metrics.MessagesTotal.WithLabelValues("text", "blocked").Inc()
		return
	}

	out := protocol.RoomMessage{
		ID:   uuid.New().String(),
		User: entry.Username,
		Text: msg.Text,
		Time: time.Now().Format(timeLayout),
	}
	c.broadcastRoomLocked(entry.Room, protocol.TypeMessage, out)
	c.history.Append(entry.Room, out)
	c.publishLog(entry.Room, entry.Username, msg.Text, messaging.LogKindText)
	metrics.MessagesTotal.WithLabelValues("text", "delivered").Inc()
}

// HandleImageMessage processes an image upload to the sender's current room.
// The payload must be an image data URI within the size limit; the room and
// username always come from presence, never from the payload.
func (c *Coordinator) HandleImageMessage(connID string, msg protocol.ImageMessageMsg) {
	c.presence.Touch(connID)
	if !c.allowMessage(connID) {
		metrics.MessagesTotal.WithLabelValues("image", "rejected").Inc()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.presence.Get(connID)
	if !ok || entry.Room == "" || entry.Username == "" {
		return
	}

	if _, err := moderation.ValidateImage(msg.Image, c.limits.ImageMaxBytes); err != nil {
		if errors.Is(err, moderation.ErrImageTooLarge) {
			c.sendNotice(connID, "the image is too large")
		} else {
			c.sendNotice(connID, "unsupported file type")
		}
		metrics.MessagesTotal.WithLabelValues("image", "rejected").Inc()
		return
	}

	out := protocol.RoomMessage{
		ID:    uuid.New().String(),
		User:  entry.Username,
		Image: msg.Image,
		Time:  time.Now().Format(timeLayout),
	}
	c.broadcastRoomLocked(entry.Room, protocol.TypeImageMessage, out)
	c.history.Append(entry.Room, out)
	c.publishLog(entry.Room, entry.Username, "sent an image", messaging.LogKindImage)
	metrics.MessagesTotal.WithLabelValues("image", "delivered").Inc()
}

// HandlePrivateMessage processes a direct message. Both sides must have a
// known username. The message is recorded in the pair's thread, echoed to
// the sender, delivered to the target, and acknowledged to the sender. A
// disconnected target only skips the delivery leg.
func (c *Coordinator) HandlePrivateMessage(connID string, msg protocol.PrivateMessageMsg) {
	c.presence.Touch(connID)
	if !c.allowMessage(connID) {
		metrics.MessagesTotal.WithLabelValues("private", "rejected").Inc()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sender := c.presence.Username(connID)
	receiver := c.presence.Username(msg.TargetID)
	if sender == "" || receiver == "" {
		return
	}

	if moderation.CheckLength(msg.Message, c.limits.MessageMaxChars) != nil {
		c.send(connID, protocol.TypePrivateMessageResponse, protocol.PrivateMessageResponseMsg{
			Success: false,
			Message: fmt.Sprintf("messages cannot exceed %d characters", c.limits.MessageMaxChars),
		})
		metrics.MessagesTotal.WithLabelValues("private", "rejected").Inc()
		return
	}
	if c.filter.Check(msg.Message).Blocked {
		c.send(connID, protocol.TypePrivateMessageResponse, protocol.PrivateMessageResponseMsg{
			Success: false,
			Message: "the message was blocked for containing prohibited language",
		})
		metrics.MessagesTotal.WithLabelValues("private", "blocked").Inc()
		return
	}

	out := protocol.PrivateMsg{
		ID:       uuid.New().String(),
		From:     connID,
		FromUser: sender,
		To:       msg.TargetID,
		ToUser:   receiver,
		Text:     msg.Message,
		Time:     time.Now().Format(timeLayout),
	}
	c.threads.Append(connID, msg.TargetID, out)

	c.send(connID, protocol.TypePrivateMessage, out)
	c.send(msg.TargetID, protocol.TypePrivateMessage, out)
	c.send(connID, protocol.TypePrivateMessageResponse, protocol.PrivateMessageResponseMsg{Success: true})

	c.publishLog("private", sender, fmt.Sprintf("[to %s]: %s", receiver, msg.Message), messaging.LogKindPrivate)
	metrics.MessagesTotal.WithLabelValues("private", "delivered").Inc()
}

// HandleKickUser removes the target from the room on an admin's order. The
// target stays connected: it keeps its username and can rejoin. A vanished
// target is a silent no-op.
func (c *Coordinator) HandleKickUser(connID string, msg protocol.ModerationActionMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rooms.IsAdmin(msg.Room, connID) {
		c.sendNotice(connID, "you are not allowed to kick users")
		return
	}

	target, ok := c.presence.Get(msg.TargetID)
	if !ok || !c.rooms.HasMember(msg.Room, msg.TargetID) {
		return
	}
	actor := c.presence.Username(connID)

	// Notice goes out while the target is still in the room, so they see it.
	notice := c.systemMessage(fmt.Sprintf("%s was kicked from the room by %s", target.Username, actor))
	c.broadcastRoomLocked(msg.Room, protocol.TypeMessage, notice)

	res := c.rooms.Leave(msg.Room, msg.TargetID)
	c.transport.LeaveRoom(msg.Room, msg.TargetID)
	c.presence.SetRoom(msg.TargetID, "")

	if res.WasAdmin {
		if res.PromotedID != "" {
			c.sendNotice(res.PromotedID, "you are now an admin of this room")
		}
		c.broadcastRoomLocked(msg.Room, protocol.TypeAdminUpdate, protocol.AdminUpdateMsg{Admins: res.Admins})
	}

	c.send(msg.TargetID, protocol.TypeKicked, protocol.KickedMsg{})
	c.broadcastRoomLocked(msg.Room, protocol.TypeRoomUsers, c.rosterLocked(msg.Room))

	metrics.ModerationActionsTotal.WithLabelValues("kick").Inc()
	c.reportEvent(report.Event{
		Action:     report.ActionKick,
		ActorUser:  actor,
		TargetUser: target.Username,
		TargetAddr: target.Addr,
		Room:       msg.Room,
		Reason:     "kicked by admin",
	}, msg.Room)
	log.Printf("coordinator: kicked conn=%s from room=%s by=%s", msg.TargetID, msg.Room, actor)
}

// HandleBanUser permanently bans the target's address and force-disconnects
// it. The disconnect runs the standard departure path, so the room also gets
// the leave notice and roster update.
func (c *Coordinator) HandleBanUser(connID string, msg protocol.ModerationActionMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	if !c.rooms.IsAdmin(msg.Room, connID) {
		c.sendNotice(connID, "you are not allowed to ban users")
		c.mu.Unlock()
		return
	}

	target, ok := c.presence.Get(msg.TargetID)
	if !ok {
		c.mu.Unlock()
		return
	}
	actor := c.presence.Username(connID)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	if err := c.bans.Ban(ctx, target.Addr, fmt.Sprintf("banned by %s", actor)); err != nil {
		log.Printf("coordinator: ban addr=%s: %v", target.Addr, err)
	}
	cancel()

	notice := c.systemMessage(fmt.Sprintf("%s was banned from the chat by %s", target.Username, actor))
	c.broadcastRoomLocked(msg.Room, protocol.TypeMessage, notice)

	metrics.ModerationActionsTotal.WithLabelValues("ban").Inc()
	c.reportEvent(report.Event{
		Action:     report.ActionBan,
		ActorUser:  actor,
		TargetUser: target.Username,
		TargetAddr: target.Addr,
		Room:       msg.Room,
		Reason:     "banned by admin",
	}, msg.Room)

	c.purgeLocked(msg.TargetID)
	c.mu.Unlock()

	// Outside the critical section: the transport's disconnect callback
	// finds the id already purged and no-ops.
	c.transport.Disconnect(msg.TargetID)
	metrics.ConnectionsTotal.Dec()
	log.Printf("coordinator: banned conn=%s addr=%s by=%s", msg.TargetID, target.Addr, actor)
}

// HandleMakeAdmin adds the target to the room's admin set. Idempotent: a
// target who is already an admin, or not a member, changes nothing.
func (c *Coordinator) HandleMakeAdmin(connID string, msg protocol.ModerationActionMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rooms.IsAdmin(msg.Room, connID) {
		c.sendNotice(connID, "you are not allowed to appoint admins")
		return
	}

	if !c.rooms.Promote(msg.Room, msg.TargetID) {
		return
	}

	c.broadcastRoomLocked(msg.Room, protocol.TypeAdminUpdate, protocol.AdminUpdateMsg{Admins: c.rooms.Admins(msg.Room)})
	c.sendNotice(msg.TargetID, fmt.Sprintf("you were made an admin of this room by %s", c.presence.Username(connID)))
	metrics.ModerationActionsTotal.WithLabelValues("promote").Inc()
}

// HandleTyping relays a typing indicator to the rest of the sender's room.
// No state change, no history.
func (c *Coordinator) HandleTyping(connID string, msg protocol.TypingMsg) {
	c.relayTyping(connID, protocol.TypeUserTyping)
}

// HandleStopTyping relays the end of a typing indicator.
func (c *Coordinator) HandleStopTyping(connID string, msg protocol.TypingMsg) {
	c.relayTyping(connID, protocol.TypeUserStopTyping)
}

func (c *Coordinator) relayTyping(connID, msgType string) {
	c.presence.Touch(connID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.presence.Get(connID)
	if !ok || entry.Room == "" || entry.Username == "" {
		return
	}
	c.broadcastRoomLocked(entry.Room, msgType, protocol.UserTypingMsg{Username: entry.Username}, connID)
}

// HandleUpdateProfile replaces the sender's profile and announces it to
// their room, if they are in one.
func (c *Coordinator) HandleUpdateProfile(connID string, msg protocol.UpdateProfileMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	defer c.mu.Unlock()

	profile := protocol.Profile{Avatar: msg.Avatar, Status: msg.Status, Bio: msg.Bio}
	c.presence.SetProfile(connID, profile)

	entry, ok := c.presence.Get(connID)
	if !ok || entry.Room == "" {
		return
	}
	c.broadcastRoomLocked(entry.Room, protocol.TypeProfileUpdated, protocol.ProfileUpdatedMsg{
		UserID:   connID,
		Username: entry.Username,
		Profile:  profile,
	})
}

// HandleDeleteMessage removes one of the sender's own messages from the
// room's history and announces the deletion. Deleting another author's
// message is refused; an unknown id is a silent no-op.
func (c *Coordinator) HandleDeleteMessage(connID string, msg protocol.DeleteMessageMsg) {
	c.presence.Touch(connID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.presence.Get(connID)
	if !ok || entry.Username == "" || entry.Room == "" || entry.Room != msg.Room {
		return
	}

	switch c.history.Delete(msg.Room, msg.MessageID, entry.Username) {
	case history.Removed:
		c.broadcastRoomLocked(msg.Room, protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
			MessageID: msg.MessageID,
			Room:      msg.Room,
		})
	case history.NotOwner:
		c.sendNotice(connID, "you can only delete your own messages")
	case history.NotFound:
		// Already gone; nothing to announce.
	}
}
