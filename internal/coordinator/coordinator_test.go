package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/majlis/chat-app/internal/protocol"
)

// fakeTransport records every send so tests can assert on the outbound
// traffic without a real WebSocket server.
type fakeTransport struct {
	mu           sync.Mutex
	rooms        map[string]map[string]bool
	unicast      map[string][][]byte
	roomcast     map[string][][]byte
	disconnected []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rooms:    make(map[string]map[string]bool),
		unicast:  make(map[string][][]byte),
		roomcast: make(map[string][][]byte),
	}
}

func (f *fakeTransport) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicast[connID] = append(f.unicast[connID], data)
	return nil
}

func (f *fakeTransport) SendToRoom(room string, data []byte, exclude ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomcast[room] = append(f.roomcast[room], data)
	n := 0
	for id := range f.rooms[room] {
		skip := false
		for _, ex := range exclude {
			if id == ex {
				skip = true
				break
			}
		}
		if !skip {
			f.unicast[id] = append(f.unicast[id], data)
			n++
		}
	}
	return n
}

func (f *fakeTransport) Broadcast(data []byte) {}

func (f *fakeTransport) JoinRoom(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]bool)
	}
	f.rooms[room][connID] = true
}

func (f *fakeTransport) LeaveRoom(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
}

func (f *fakeTransport) RoomMembers(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeTransport) Disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, connID)
}

func (f *fakeTransport) hasDisconnected(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.disconnected {
		if id == connID {
			return true
		}
	}
	return false
}

// sentTo returns every decoded message unicast to the connection with the
// given type, in order.
func (f *fakeTransport) sentTo(t *testing.T, connID, msgType string) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]interface{}
	for _, data := range f.unicast[connID] {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad outbound JSON: %v", err)
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakeBans is an in-memory BanList.
type fakeBans struct {
	mu    sync.Mutex
	addrs map[string]string
}

func newFakeBans() *fakeBans {
	return &fakeBans{addrs: make(map[string]string)}
}

func (f *fakeBans) IsBanned(ctx context.Context, addr string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.addrs[addr]
	return ok, reason, nil
}

func (f *fakeBans) Ban(ctx context.Context, addr, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrs[addr] = reason
	return nil
}

func newTestCoordinator() (*Coordinator, *fakeTransport, *fakeBans) {
	ft := newFakeTransport()
	fb := newFakeBans()
	c := New(Config{
		Transport: ft,
		Bans:      fb,
	})
	return c, ft, fb
}

// connect registers a connection and join puts it in a room, failing the
// test if either step is rejected.
func connect(t *testing.T, c *Coordinator, connID, addr string) {
	t.Helper()
	if !c.OnConnect(connID, addr) {
		t.Fatalf("connection %s from %s was rejected", connID, addr)
	}
}

func join(t *testing.T, c *Coordinator, connID, username, room string) {
	t.Helper()
	c.HandleJoinRoom(connID, protocol.JoinRoomMsg{Username: username, Room: room})
	if !c.rooms.HasMember(room, connID) {
		t.Fatalf("conn %s (%s) did not end up in room %s", connID, username, room)
	}
}

func TestFirstJoinerBecomesAdminAndMessages(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	if got := ft.sentTo(t, "c1", protocol.TypeActiveRooms); len(got) != 1 {
		t.Fatalf("expected one activeRooms push on connect, got %d", len(got))
	}

	join(t, c, "c1", "Ali", "A")
	if !c.rooms.IsAdmin("A", "c1") {
		t.Error("first joiner should be admin")
	}

	var adminNotice bool
	for _, m := range ft.sentTo(t, "c1", protocol.TypeMessage) {
		if text, _ := m["text"].(string); strings.Contains(text, "admin") {
			adminNotice = true
		}
	}
	if !adminNotice {
		t.Error("first joiner should receive an admin notice")
	}

	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: "hello"})

	log := c.history.All("A")
	last := log[len(log)-1]
	if last.User != "Ali" || last.Text != "hello" {
		t.Errorf("history tail = %q by %q, want %q by %q", last.Text, last.User, "hello", "Ali")
	}
}

func TestRosterBroadcastOnJoin(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	rosters := ft.sentTo(t, "c1", protocol.TypeRoomUsers)
	if len(rosters) == 0 {
		t.Fatal("no roster updates received")
	}
	last := rosters[len(rosters)-1]
	users, _ := last["users"].([]interface{})
	if len(users) != 2 {
		t.Fatalf("roster has %d users, want 2", len(users))
	}
}

func TestUsernameCollisionRejected(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")

	c.HandleJoinRoom("c2", protocol.JoinRoomMsg{Username: "Ali", Room: "A"})
	if c.rooms.HasMember("A", "c2") {
		t.Error("second Ali should not have joined room A")
	}

	var rejected bool
	for _, m := range ft.sentTo(t, "c2", protocol.TypeMessage) {
		if text, _ := m["text"].(string); strings.Contains(text, "already in use") {
			rejected = true
		}
	}
	if !rejected {
		t.Error("colliding joiner should receive a rejection notice")
	}

	// The same name in a different room is fine.
	join(t, c, "c2", "Ali", "B")
}

func TestJoinValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		room     string
	}{
		{"empty username", "", "A"},
		{"empty room", "Ali", ""},
		{"reserved name", "System", "A"},
		{"username too long", strings.Repeat("x", 16), "A"},
		{"room name too long", "Ali", strings.Repeat("x", 21)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft, _ := newTestCoordinator()
			connect(t, c, "c1", "10.0.0.1")

			c.HandleJoinRoom("c1", protocol.JoinRoomMsg{Username: tt.username, Room: tt.room})
			if tt.room != "" && c.rooms.HasMember(tt.room, "c1") {
				t.Error("invalid join should not add membership")
			}
			if ft.hasDisconnected("c1") {
				t.Error("validation failure must not disconnect")
			}
		})
	}
}

func TestDenylistedIdentityEscalatesToBan(t *testing.T) {
	c, ft, fb := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	c.HandleJoinRoom("c1", protocol.JoinRoomMsg{Username: "zaml", Room: "A"})

	if banned, _, _ := fb.IsBanned(context.Background(), "10.0.0.1"); !banned {
		t.Error("address should be banned after a denylisted username")
	}
	if !ft.hasDisconnected("c1") {
		t.Error("connection should be force-disconnected")
	}
	if c.rooms.Exists("A") {
		t.Error("no room should have been created")
	}
	if _, ok := c.presence.Get("c1"); ok {
		t.Error("presence record should be purged")
	}

	// Subsequent connects from the banned address are turned away.
	if c.OnConnect("c2", "10.0.0.1") {
		t.Error("banned address should be rejected at connect")
	}
}

func TestBlockedMessageNotBroadcast(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	before := c.history.Len("A")
	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: "this contains zaml inside"})

	if c.history.Len("A") != before {
		t.Error("blocked message must not be appended to history")
	}
	for _, m := range ft.sentTo(t, "c2", protocol.TypeMessage) {
		if text, _ := m["text"].(string); strings.Contains(text, "zaml") {
			t.Error("blocked message leaked to another member")
		}
	}

	var notified bool
	for _, m := range ft.sentTo(t, "c1", protocol.TypeMessage) {
		if text, _ := m["text"].(string); strings.Contains(text, "blocked") {
			notified = true
		}
	}
	if !notified {
		t.Error("sender should receive a policy notice")
	}
}

func TestOverlongMessageRejected(t *testing.T) {
	c, _, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")

	before := c.history.Len("A")
	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: strings.Repeat("a", 501)})
	if c.history.Len("A") != before {
		t.Error("overlong message must not reach history")
	}
}

func TestHistoryStaysBounded(t *testing.T) {
	c, _, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")

	for i := 0; i < 70; i++ {
		c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: fmt.Sprintf("msg %d", i)})
	}
	if n := c.history.Len("A"); n > c.limits.HistoryPerRoom {
		t.Errorf("history length %d exceeds bound %d", n, c.limits.HistoryPerRoom)
	}
	// Oldest-first eviction: the tail must be the latest message.
	log := c.history.All("A")
	if got := log[len(log)-1].Text; got != "msg 69" {
		t.Errorf("history tail = %q, want %q", got, "msg 69")
	}
}

func TestHistoryReplayOnJoin(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")
	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: "hello"})

	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c2", "Sara", "A")

	replays := ft.sentTo(t, "c2", protocol.TypeMessageHistory)
	if len(replays) != 1 {
		t.Fatalf("expected one history replay, got %d", len(replays))
	}
	msgs, _ := replays[0]["messages"].([]interface{})
	if len(msgs) == 0 {
		t.Fatal("history replay is empty")
	}
}

func TestBanUser(t *testing.T) {
	c, ft, fb := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleBanUser("c1", protocol.ModerationActionMsg{TargetID: "c2", Room: "A"})

	if banned, _, _ := fb.IsBanned(context.Background(), "10.0.0.2"); !banned {
		t.Error("target address should be banned")
	}
	if !ft.hasDisconnected("c2") {
		t.Error("target should be force-disconnected")
	}
	if c.rooms.HasMember("A", "c2") {
		t.Error("target should be out of the room")
	}

	rosters := ft.sentTo(t, "c1", protocol.TypeRoomUsers)
	last := rosters[len(rosters)-1]
	users, _ := last["users"].([]interface{})
	if len(users) != 1 {
		t.Errorf("final roster has %d users, want 1", len(users))
	}

	if c.OnConnect("c3", "10.0.0.2") {
		t.Error("banned address must be rejected on reconnect")
	}
}

func TestBanRequiresAdmin(t *testing.T) {
	c, ft, fb := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleBanUser("c2", protocol.ModerationActionMsg{TargetID: "c1", Room: "A"})

	if banned, _, _ := fb.IsBanned(context.Background(), "10.0.0.1"); banned {
		t.Error("non-admin must not be able to ban")
	}
	if ft.hasDisconnected("c1") {
		t.Error("target of unauthorized ban must stay connected")
	}
	if len(ft.sentTo(t, "c2", protocol.TypeMessage)) == 0 {
		t.Error("unauthorized actor should receive a denial notice")
	}
}

func TestKickUser(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleKickUser("c1", protocol.ModerationActionMsg{TargetID: "c2", Room: "A"})

	if c.rooms.HasMember("A", "c2") {
		t.Error("kicked target should be out of the room")
	}
	if ft.hasDisconnected("c2") {
		t.Error("kick must not disconnect the target")
	}
	if len(ft.sentTo(t, "c2", protocol.TypeKicked)) != 1 {
		t.Error("target should receive a kicked notice")
	}

	// The target keeps its identity and can rejoin.
	entry, ok := c.presence.Get("c2")
	if !ok || entry.Room != "" || entry.Username != "Sara" {
		t.Errorf("kicked target presence = %+v, want connected with no room", entry)
	}
	join(t, c, "c2", "Sara", "A")
}

func TestKickUnknownTargetIsNoop(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")

	before := len(ft.sentTo(t, "c1", protocol.TypeMessage))
	c.HandleKickUser("c1", protocol.ModerationActionMsg{TargetID: "ghost", Room: "A"})
	if got := len(ft.sentTo(t, "c1", protocol.TypeMessage)); got != before {
		t.Error("kicking a vanished target should emit nothing")
	}
}

func TestMakeAdmin(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleMakeAdmin("c1", protocol.ModerationActionMsg{TargetID: "c2", Room: "A"})
	if !c.rooms.IsAdmin("A", "c2") {
		t.Error("target should be an admin after makeAdmin")
	}

	updates := ft.sentTo(t, "c2", protocol.TypeAdminUpdate)
	if len(updates) == 0 {
		t.Fatal("room should receive an adminUpdate")
	}

	// Idempotent: repeating emits no further update.
	before := len(ft.sentTo(t, "c2", protocol.TypeAdminUpdate))
	c.HandleMakeAdmin("c1", protocol.ModerationActionMsg{TargetID: "c2", Room: "A"})
	if got := len(ft.sentTo(t, "c2", protocol.TypeAdminUpdate)); got != before {
		t.Error("repeated makeAdmin should be a no-op")
	}
}

func TestAdminAutoPromotionOnDisconnect(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.OnDisconnect("c1")

	if !c.rooms.IsAdmin("A", "c2") {
		t.Error("remaining member should be auto-promoted")
	}

	updates := ft.sentTo(t, "c2", protocol.TypeAdminUpdate)
	if len(updates) == 0 {
		t.Fatal("room should receive an adminUpdate after the admin departs")
	}
	admins, _ := updates[len(updates)-1]["admins"].([]interface{})
	if len(admins) != 1 || admins[0] != "c2" {
		t.Errorf("admin set = %v, want [c2]", admins)
	}
}

func TestRoomInvariantsUnderChurn(t *testing.T) {
	c, _, _ := newTestCoordinator()

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("c%d", i)
		connect(t, c, id, fmt.Sprintf("10.0.0.%d", i))
		join(t, c, id, fmt.Sprintf("user%d", i), "A")
	}
	for i := 0; i < 6; i++ {
		c.OnDisconnect(fmt.Sprintf("c%d", i))

		members := c.rooms.Members("A")
		admins := c.rooms.Admins("A")
		if len(members) > 0 && len(admins) == 0 {
			t.Fatalf("after %d departures: room has members but no admins", i+1)
		}
		for _, a := range admins {
			if !c.rooms.HasMember("A", a) {
				t.Fatalf("admin %s is not a member", a)
			}
		}
	}
}

func TestPrivateMessage(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "B")

	c.HandlePrivateMessage("c1", protocol.PrivateMessageMsg{TargetID: "c2", Message: "psst"})

	for _, connID := range []string{"c1", "c2"} {
		msgs := ft.sentTo(t, connID, protocol.TypePrivateMessage)
		if len(msgs) != 1 {
			t.Fatalf("conn %s got %d private messages, want 1", connID, len(msgs))
		}
		if msgs[0]["text"] != "psst" || msgs[0]["fromUser"] != "Ali" || msgs[0]["toUser"] != "Sara" {
			t.Errorf("conn %s private message = %v", connID, msgs[0])
		}
	}

	acks := ft.sentTo(t, "c1", protocol.TypePrivateMessageResponse)
	if len(acks) != 1 || acks[0]["success"] != true {
		t.Errorf("sender ack = %v, want success", acks)
	}

	if thread := c.threads.Read("c2", "c1"); len(thread) != 1 {
		t.Errorf("thread length = %d, want 1", len(thread))
	}
}

func TestPrivateMessageRequiresKnownUsernames(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")

	// Target never joined a room, so it has no username.
	c.HandlePrivateMessage("c1", protocol.PrivateMessageMsg{TargetID: "c2", Message: "psst"})
	if len(ft.sentTo(t, "c2", protocol.TypePrivateMessage)) != 0 {
		t.Error("message to a username-less target should be a no-op")
	}
	if c.threads.ThreadCount() != 0 {
		t.Error("no thread should be recorded")
	}
}

func TestPrivateMessageBlockedContent(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandlePrivateMessage("c1", protocol.PrivateMessageMsg{TargetID: "c2", Message: "hey zaml"})

	if len(ft.sentTo(t, "c2", protocol.TypePrivateMessage)) != 0 {
		t.Error("blocked private message must not be delivered")
	}
	acks := ft.sentTo(t, "c1", protocol.TypePrivateMessageResponse)
	if len(acks) != 1 || acks[0]["success"] != false {
		t.Errorf("sender should get a failure ack, got %v", acks)
	}
}

func TestDeleteMessage(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: "delete me"})
	log := c.history.All("A")
	msgID := log[len(log)-1].ID

	// Another member cannot delete it.
	c.HandleDeleteMessage("c2", protocol.DeleteMessageMsg{MessageID: msgID, Room: "A"})
	if len(ft.sentTo(t, "c1", protocol.TypeMessageDeleted)) != 0 {
		t.Error("non-author delete must not emit a deletion notice")
	}

	// The author can.
	c.HandleDeleteMessage("c1", protocol.DeleteMessageMsg{MessageID: msgID, Room: "A"})
	if len(ft.sentTo(t, "c2", protocol.TypeMessageDeleted)) != 1 {
		t.Error("room should be notified of the deletion")
	}
	for _, m := range c.history.All("A") {
		if m.ID == msgID {
			t.Error("message still present in history after delete")
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleUpdateProfile("c1", protocol.UpdateProfileMsg{Status: "away", Bio: "hi"})

	entry, _ := c.presence.Get("c1")
	if entry.Profile.Status != "away" {
		t.Errorf("profile status = %q, want %q", entry.Profile.Status, "away")
	}

	updates := ft.sentTo(t, "c2", protocol.TypeProfileUpdated)
	if len(updates) != 1 {
		t.Fatalf("room got %d profileUpdated, want 1", len(updates))
	}
	if updates[0]["username"] != "Ali" {
		t.Errorf("profileUpdated username = %v, want Ali", updates[0]["username"])
	}
}

func TestTypingRelayExcludesSender(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleTyping("c1", protocol.TypingMsg{Username: "Ali", Room: "A"})
	c.HandleStopTyping("c1", protocol.TypingMsg{Username: "Ali", Room: "A"})

	if len(ft.sentTo(t, "c2", protocol.TypeUserTyping)) != 1 {
		t.Error("other member should see the typing indicator")
	}
	if len(ft.sentTo(t, "c1", protocol.TypeUserTyping)) != 0 {
		t.Error("sender must not see their own typing indicator")
	}
	if len(ft.sentTo(t, "c2", protocol.TypeUserStopTyping)) != 1 {
		t.Error("other member should see the stop-typing indicator")
	}
}

func TestImplicitLeaveOnRejoin(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	join(t, c, "c1", "Ali", "B")

	if c.rooms.HasMember("A", "c1") {
		t.Error("stale membership left behind in the old room")
	}

	var leaveSeen bool
	for _, m := range ft.sentTo(t, "c2", protocol.TypeMessage) {
		if text, _ := m["text"].(string); strings.Contains(text, "left the room") {
			leaveSeen = true
		}
	}
	if !leaveSeen {
		t.Error("old room should receive a leave notice")
	}
}

func TestEmptyRoomRetainedAndReseeded(t *testing.T) {
	c, _, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")
	c.HandleChatMessage("c1", protocol.ChatMessageMsg{Text: "hello"})
	c.OnDisconnect("c1")

	if !c.rooms.Exists("A") {
		t.Fatal("room should be retained after emptying")
	}
	if c.history.Len("A") == 0 {
		t.Error("room history should survive an empty spell")
	}

	listing := c.ActiveRooms()
	if len(listing) != 1 || listing[0].UserCount != 0 {
		t.Errorf("listing = %+v, want room A with 0 users", listing)
	}

	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c2", "Sara", "A")
	if !c.rooms.IsAdmin("A", "c2") {
		t.Error("first joiner of an emptied room should seed the admin set")
	}
}

func TestReaperDisconnectsIdle(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	// Run the sweep from the future so both connections look idle, then a
	// second time to confirm it is idempotent.
	future := time.Now().Add(c.limits.InactivityTimeout + time.Minute)
	c.sweepIdle(future)

	if !ft.hasDisconnected("c1") || !ft.hasDisconnected("c2") {
		t.Fatal("idle connections should be disconnected")
	}
	if _, ok := c.presence.Get("c1"); ok {
		t.Error("reaped connection should be purged from presence")
	}
	if n := c.rooms.MemberCount("A"); n != 0 {
		t.Errorf("room A still has %d members after the sweep", n)
	}

	before := len(ft.disconnected)
	c.sweepIdle(future)
	if len(ft.disconnected) != before {
		t.Error("second sweep should find nothing to reap")
	}
}

func TestReaperSparesActive(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")

	c.sweepIdle(time.Now())
	if ft.hasDisconnected("c1") {
		t.Error("active connection must not be reaped")
	}
}

func TestDisconnectAfterPurgeIsNoop(t *testing.T) {
	c, _, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	join(t, c, "c1", "Ali", "A")

	c.sweepIdle(time.Now().Add(c.limits.InactivityTimeout + time.Minute))

	// The transport's disconnect callback fires after the reap; it must not
	// run the departure path twice.
	before := c.history.Len("A")
	c.OnDisconnect("c1")
	if c.history.Len("A") != before {
		t.Error("duplicate disconnect appended a second leave notice")
	}
}

func TestImageMessage(t *testing.T) {
	c, ft, _ := newTestCoordinator()

	connect(t, c, "c1", "10.0.0.1")
	connect(t, c, "c2", "10.0.0.2")
	join(t, c, "c1", "Ali", "A")
	join(t, c, "c2", "Sara", "A")

	c.HandleImageMessage("c1", protocol.ImageMessageMsg{Image: "data:image/png;base64,aGVsbG8="})

	got := ft.sentTo(t, "c2", protocol.TypeImageMessage)
	if len(got) != 1 {
		t.Fatalf("room got %d image messages, want 1", len(got))
	}
	if got[0]["user"] != "Ali" {
		t.Errorf("image author = %v, want Ali", got[0]["user"])
	}

	before := c.history.Len("A")
	c.HandleImageMessage("c1", protocol.ImageMessageMsg{Image: "data:text/plain;base64,aGVsbG8="})
	if c.history.Len("A") != before {
		t.Error("rejected payload must not reach history")
	}
}
