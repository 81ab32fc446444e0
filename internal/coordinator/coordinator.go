// Package coordinator owns the chat server's shared state and the handlers
// that mutate it. Every inbound event and every reaper sweep runs as one
// critical section under a single coordinator mutex, so read-modify-write
// sequences over presence, rooms, history, and threads never interleave. The
// package talks to connections only through the Transport interface, which is
// the sole boundary to the WebSocket layer.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majlis/chat-app/internal/dm"
	"github.com/majlis/chat-app/internal/history"
	"github.com/majlis/chat-app/internal/messaging"
	"github.com/majlis/chat-app/internal/metrics"
	"github.com/majlis/chat-app/internal/moderation"
	"github.com/majlis/chat-app/internal/presence"
	"github.com/majlis/chat-app/internal/protocol"
	"github.com/majlis/chat-app/internal/ratelimit"
	"github.com/majlis/chat-app/internal/report"
	"github.com/majlis/chat-app/internal/room"
)

// redisOpTimeout bounds each ban or rate-limit lookup so a slow Redis cannot
// stall the connect path indefinitely.
const redisOpTimeout = 2 * time.Second

// timeLayout is the clock-time string attached to every message.
const timeLayout = "15:04:05"

// Transport is the capability the coordinator consumes from the connection
// layer: unicast, room multicast, global broadcast, room membership, and
// forced disconnect. SendToRoom returns the number of connections reached.
type Transport interface {
	Send(connID string, data []byte) error
	SendToRoom(room string, data []byte, exclude ...string) int
	Broadcast(data []byte)
	JoinRoom(room, connID string)
	LeaveRoom(room, connID string)
	RoomMembers(room string) []string
	Disconnect(connID string)
}

// BanList is the address denylist checked on every connect and grown by
// moderation actions.
type BanList interface {
	IsBanned(ctx context.Context, addr string) (bool, string, error)
	Ban(ctx context.Context, addr, reason string) error
}

// RateLimiter throttles connects per address and messages per connection.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// LogSink receives one entry per chat event for out-of-process log writing.
// Publishing is fire-and-forget; errors are logged and never fail the event.
type LogSink interface {
	PublishLogEntry(entry messaging.LogEntry) error
}

// Reporter persists moderation events for later review.
type Reporter interface {
	Create(ctx context.Context, event *report.Event) error
}

// Limits holds the recognized policy knobs.
type Limits struct {
	MessageMaxChars   int
	UsernameMaxChars  int
	RoomNameMaxChars  int
	ImageMaxBytes     int
	HistoryPerRoom    int
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

// DefaultLimits returns the standard policy limits.
func DefaultLimits() Limits {
	return Limits{
		MessageMaxChars:   500,
		UsernameMaxChars:  15,
		RoomNameMaxChars:  20,
		ImageMaxBytes:     10 << 20, // 10 MiB
		HistoryPerRoom:    50,
		InactivityTimeout: 30 * time.Minute,
		SweepInterval:     time.Minute,
	}
}

// Config assembles a Coordinator. Transport and Bans are required; Limiter,
// Logs, and Reports are optional and disabled when nil. A nil Filter falls
// back to the built-in denylist.
type Config struct {
	Limits    Limits
	Transport Transport
	Bans      BanList
	Limiter   RateLimiter
	Logs      LogSink
	Reports   Reporter
	Filter    *moderation.Filter
}

// Coordinator is the root of the chat server: it owns presence, the room
// directory, per-room history, private threads, and drives the transport.
type Coordinator struct {
	mu sync.Mutex // serializes every event handler and reaper sweep

	limits    Limits
	transport Transport
	bans      BanList
	limiter   RateLimiter
	logs      LogSink
	reports   Reporter
	filter    *moderation.Filter

	presence *presence.Registry
	rooms    *room.Directory
	history  *history.Store
	threads  *dm.Store

	done chan struct{}
}

// New creates a Coordinator from the given config.
func New(cfg Config) *Coordinator {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Filter == nil {
		cfg.Filter = moderation.NewFilter()
	}
	return &Coordinator{
		limits:    cfg.Limits,
		transport: cfg.Transport,
		bans:      cfg.Bans,
		limiter:   cfg.Limiter,
		logs:      cfg.Logs,
		reports:   cfg.Reports,
		filter:    cfg.Filter,
		presence:  presence.NewRegistry(),
		rooms:     room.NewDirectory(),
		history:   history.NewStore(cfg.Limits.HistoryPerRoom),
		threads:   dm.NewStore(),
		done:      make(chan struct{}),
	}
}

// Close stops the reaper goroutine. It does not touch the transport.
func (c *Coordinator) Close() {
	close(c.done)
}

// OnConnect is the connect-time gate, wired to the transport's accept hook.
// A banned or connect-flooding address is turned away before any state is
// created for it. Accepted connections are registered and receive the active
// room listing. Returns false to reject.
func (c *Coordinator) OnConnect(connID, addr string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, addr, ratelimit.RuleConnect)
		if err == nil && !allowed {
			c.send(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleConnect.Window.Seconds()),
			})
			return false
		}
	}

	banned, reason, err := c.bans.IsBanned(ctx, addr)
	if err != nil {
		// Fail open so a Redis outage does not lock everyone out.
		log.Printf("coordinator: ban check addr=%s: %v", addr, err)
	}
	if banned {
		c.send(connID, protocol.TypeBanned, protocol.BannedMsg{Reason: reason})
		return false
	}

	c.mu.Lock()
	c.presence.Register(connID, addr)
	listing := c.activeRoomsLocked()
	c.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	c.send(connID, protocol.TypeActiveRooms, protocol.ActiveRoomsMsg{Rooms: listing})
	log.Printf("coordinator: connected conn=%s addr=%s", connID, addr)
	return true
}

// OnDisconnect runs the full cleanup path for a departed connection: leave
// notice, admin safeguard, roster update, presence purge. It is safe to call
// for ids already purged by a moderation action or the reaper.
func (c *Coordinator) OnDisconnect(connID string) {
	c.mu.Lock()
	purged := c.purgeLocked(connID)
	c.mu.Unlock()

	if purged {
		metrics.ConnectionsTotal.Dec()
		log.Printf("coordinator: disconnected conn=%s", connID)
	}
}

// purgeLocked removes every record for the connection and, if it was in a
// room, runs the departure bookkeeping. Reports whether the id was still
// registered.
func (c *Coordinator) purgeLocked(connID string) bool {
	entry, ok := c.presence.Unregister(connID)
	if !ok {
		return false
	}
	if entry.Room != "" && entry.Username != "" {
		c.departRoomLocked(entry.Room, connID, entry.Username)
	}
	return true
}

// departRoomLocked removes the connection from the room and emits the leave
// notice, the admin safeguard notices, and the updated roster. It covers
// self-initiated leaves, disconnects, bans, and reaping alike.
func (c *Coordinator) departRoomLocked(roomName, connID, username string) {
	c.transport.LeaveRoom(roomName, connID)

	res := c.rooms.Leave(roomName, connID)
	if !res.Removed {
		return
	}

	leave := c.systemMessage(username + " left the room")
	c.broadcastRoomLocked(roomName, protocol.TypeMessage, leave)
	c.history.Append(roomName, leave)
	c.publishLog(roomName, protocol.SystemUser, leave.Text, messaging.LogKindSystem)

	if res.WasAdmin {
		if res.PromotedID != "" {
			c.sendNotice(res.PromotedID, "you are now an admin of this room")
		}
		c.broadcastRoomLocked(roomName, protocol.TypeAdminUpdate, protocol.AdminUpdateMsg{Admins: res.Admins})
	}

	c.broadcastRoomLocked(roomName, protocol.TypeRoomUsers, c.rosterLocked(roomName))
}

// ActiveRooms returns the room listing exposed on the HTTP API: every known
// room with its member count and the time of its oldest retained message.
func (c *Coordinator) ActiveRooms() []protocol.RoomInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoomsLocked()
}

func (c *Coordinator) activeRoomsLocked() []protocol.RoomInfo {
	names := c.rooms.Rooms()
	out := make([]protocol.RoomInfo, 0, len(names))
	for _, name := range names {
		info := protocol.RoomInfo{
			Name:      name,
			UserCount: c.rooms.MemberCount(name),
		}
		if first, ok := c.history.First(name); ok {
			info.CreatedAt = first.Time
		}
		out = append(out, info)
	}
	return out
}

// rosterLocked builds the roomUsers payload: members in join order with
// their profiles, plus the current admin set.
func (c *Coordinator) rosterLocked(roomName string) protocol.RoomUsersMsg {
	members := c.rooms.Members(roomName)
	users := make([]protocol.RoomUser, 0, len(members))
	for _, m := range members {
		u := protocol.RoomUser{ID: m.ID, Username: m.Username}
		if e, ok := c.presence.Get(m.ID); ok {
			u.Profile = e.Profile
		}
		users = append(users, u)
	}
	return protocol.RoomUsersMsg{Users: users, Admins: c.rooms.Admins(roomName)}
}

// systemMessage builds a system-authored room message with a fresh id and
// render timestamp.
func (c *Coordinator) systemMessage(text string) protocol.RoomMessage {
	return protocol.RoomMessage{
		ID:   uuid.New().String(),
		User: protocol.SystemUser,
		Text: text,
		Time: time.Now().Format(timeLayout),
	}
}

// send marshals and unicasts one server message. Delivery failures are
// logged; an unreachable connection never fails the triggering event.
func (c *Coordinator) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("coordinator: marshal %s: %v", msgType, err)
		return
	}
	if err := c.transport.Send(connID, data); err != nil {
		log.Printf("coordinator: send %s to conn=%s: %v", msgType, connID, err)
	}
}

// sendNotice unicasts a system-authored message to one connection.
func (c *Coordinator) sendNotice(connID, text string) {
	c.send(connID, protocol.TypeMessage, c.systemMessage(text))
}

// broadcastRoomLocked marshals and multicasts one server message to a room,
// recording the fan-out.
func (c *Coordinator) broadcastRoomLocked(roomName, msgType string, payload interface{}, exclude ...string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("coordinator: marshal %s: %v", msgType, err)
		return
	}
	reached := c.transport.SendToRoom(roomName, data, exclude...)
	metrics.BroadcastFanout.Observe(float64(reached))
}

// publishLog hands one log line to the sink. Failures are observability
// noise only.
func (c *Coordinator) publishLog(roomName, user, text, kind string) {
	if c.logs == nil {
		return
	}
	entry := messaging.LogEntry{
		Room: roomName,
		User: user,
		Text: text,
		Kind: kind,
		Ts:   time.Now().Unix(),
	}
	if err := c.logs.PublishLogEntry(entry); err != nil {
		log.Printf("coordinator: publish log room=%s: %v", roomName, err)
	}
}

// reportEvent persists a moderation event with a snapshot of the room's
// recent history attached. Best effort, off the event path.
func (c *Coordinator) reportEvent(ev report.Event, roomName string) {
	if c.reports == nil {
		return
	}
	for _, m := range c.history.All(roomName) {
		if m.IsImage() {
			continue
		}
		ev.Messages = append(ev.Messages, report.MessageEntry{User: m.User, Text: m.Text, Time: m.Time})
	}
	if n := len(ev.Messages); n > 10 {
		ev.Messages = ev.Messages[n-10:]
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.reports.Create(ctx, &ev); err != nil {
			log.Printf("coordinator: record %s event: %v", ev.Action, err)
		}
	}()
}

// allowMessage applies the per-connection message rate limit. Fails open on
// limiter errors.
func (c *Coordinator) allowMessage(connID string) bool {
	if c.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	allowed, err := c.limiter.Allow(ctx, connID, ratelimit.RuleMessage)
	if err != nil {
		return true
	}
	if !allowed {
		c.send(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
		})
	}
	return allowed
}
