// Package room owns the room directory: which connections are members of
// which named room, and each room's admin set. Rooms are created lazily on
// first join and retained after their last member leaves, so history and
// admin state survive an empty spell.
//
// Invariants maintained here:
//   - a display name is unique among the members of one room
//   - admins are always a subset of members
//   - while a room has at least one member its admin set is never empty;
//     when the last admin departs the earliest remaining member is promoted
package room

import (
	"errors"
	"sort"
	"sync"
)

// ErrNameTaken is returned by Join when another member of the room already
// uses the requested display name.
var ErrNameTaken = errors.New("room: username already taken in this room")

// Member is one room member in join order.
type Member struct {
	ID       string
	Username string
}

// LeaveResult describes the bookkeeping done when a member departs.
type LeaveResult struct {
	Removed    bool     // false if the id was not a member
	Username   string   // the departed member's display name
	WasAdmin   bool     // the departed member held admin rights
	PromotedID string   // non-empty if the admin-empty safeguard promoted someone
	Admins     []string // admin set after the departure
}

type state struct {
	members []Member // join order
	admins  []string // promotion order, subset of members
}

// Directory is the goroutine-safe registry of all rooms.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*state
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*state)}
}

// Join adds connID to the room under the given display name, creating the
// room if needed. The first member of a room (including a room that emptied
// out earlier) seeds the admin set. It returns whether the joiner is now an
// admin, and ErrNameTaken if another member already uses the name.
func (d *Directory) Join(room, connID, username string) (admin bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.rooms[room]
	if !ok {
		st = &state{}
		d.rooms[room] = st
	}

	for _, m := range st.members {
		if m.Username == username && m.ID != connID {
			return false, ErrNameTaken
		}
	}

	if len(st.members) == 0 {
		st.admins = []string{connID}
	}
	st.members = append(st.members, Member{ID: connID, Username: username})
	return contains(st.admins, connID), nil
}

// Leave removes connID from the room and applies the admin-empty safeguard:
// if the departing member was the last admin and other members remain, the
// earliest remaining member is promoted. The same bookkeeping covers both
// self-initiated leaves and administrative removals (kick, ban).
func (d *Directory) Leave(room, connID string) LeaveResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.rooms[room]
	if !ok {
		return LeaveResult{}
	}

	idx := -1
	for i, m := range st.members {
		if m.ID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return LeaveResult{}
	}

	res := LeaveResult{
		Removed:  true,
		Username: st.members[idx].Username,
		WasAdmin: contains(st.admins, connID),
	}
	st.members = append(st.members[:idx], st.members[idx+1:]...)

	if res.WasAdmin {
		st.admins = remove(st.admins, connID)
		if len(st.admins) == 0 && len(st.members) > 0 {
			promoted := st.members[0].ID
			st.admins = []string{promoted}
			res.PromotedID = promoted
		}
	}

	res.Admins = append([]string(nil), st.admins...)
	return res
}

// Members returns the room's members in join order.
func (d *Directory) Members(room string) []Member {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Member, len(st.members))
	copy(out, st.members)
	return out
}

// MemberCount returns the number of members currently in the room.
func (d *Directory) MemberCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[room]
	if !ok {
		return 0
	}
	return len(st.members)
}

// HasMember reports whether connID is currently a member of the room.
func (d *Directory) HasMember(room, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[room]
	if !ok {
		return false
	}
	for _, m := range st.members {
		if m.ID == connID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether connID is in the room's admin set.
func (d *Directory) IsAdmin(room, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[room]
	if !ok {
		return false
	}
	return contains(st.admins, connID)
}

// Promote adds connID to the room's admin set. It is idempotent and only
// applies to current members; authorization of the actor is the caller's
// concern. It reports whether the admin set changed.
func (d *Directory) Promote(room, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.rooms[room]
	if !ok {
		return false
	}
	member := false
	for _, m := range st.members {
		if m.ID == connID {
			member = true
			break
		}
	}
	if !member || contains(st.admins, connID) {
		return false
	}
	st.admins = append(st.admins, connID)
	return true
}

// Admins returns a copy of the room's admin set.
func (d *Directory) Admins(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[room]
	if !ok {
		return nil
	}
	return append([]string(nil), st.admins...)
}

// Exists reports whether the room has ever been created.
func (d *Directory) Exists(room string) bool {
	d.mu.RLock()
	_, ok := d.rooms[room]
	d.mu.RUnlock()
	return ok
}

// Rooms returns every known room name, sorted, including rooms whose
// membership has dropped to zero.
func (d *Directory) Rooms() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	d.mu.RUnlock()

	sort.Strings(names)
	return names
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
