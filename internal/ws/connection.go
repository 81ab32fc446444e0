package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID           string        // connection ID (UUID)
	Conn         net.Conn      // underlying TCP connection
	Fd           int           // file descriptor for epoll lookups
	Addr         string        // client source address, as seen at upgrade time
	CreatedAt    time.Time     // when the connection was established
	lastPing     int64         // unix nanos of the last frame received, accessed atomically
	writeTimeout time.Duration // per-frame write deadline, 0 disables
	writeMu      sync.Mutex    // serializes writes to this connection
	processing   int32         // atomic flag: 0 = idle, 1 = being read by handleConn
}

// markAlive records that a frame just arrived from the client. Read workers
// call this concurrently with the heartbeat sweep reading LastPing.
func (c *Connection) markAlive() {
	atomic.StoreInt64(&c.lastPing, time.Now().UnixNano())
}

// LastPing returns the time the last frame was received from the client.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastPing))
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
// A per-frame write deadline bounds how long a peer that has stopped reading
// can hold the caller; multicast paths run under the coordinator's lock and
// must never block on a single slow socket.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their Connection objects, and tracks which connections
// belong to which room so the server can multicast. It supports O(1) lookups
// by ID and fd.
type ConnectionManager struct {
	mu    sync.RWMutex
	byID  map[string]*Connection            // connection_id -> Connection
	byFd  map[int]*Connection               // fd -> Connection
	rooms map[string]map[string]*Connection // room -> connection_id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:  make(map[string]*Connection),
		byFd:  make(map[int]*Connection),
		rooms: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and drops it from every room. Returns true if the connection
// was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
		cm.dropFromRoomsLocked(id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd removes a connection by file descriptor, closes the underlying
// network connection, and drops it from every room. It returns the removed
// connection, or nil if no connection was registered for that fd.
func (cm *ConnectionManager) RemoveByFd(fd int) *Connection {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		delete(cm.byFd, fd)
		delete(cm.byID, conn.ID)
		cm.dropFromRoomsLocked(conn.ID)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
		return conn
	}
	return nil
}

// dropFromRoomsLocked removes the id from every room set. Empty room sets are
// deleted; the application layer retains its own notion of rooms.
func (cm *ConnectionManager) dropFromRoomsLocked(id string) {
	for room, members := range cm.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(cm.rooms, room)
			}
		}
	}
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// JoinRoom adds the connection to a room's multicast set. Unknown ids are
// ignored.
func (cm *ConnectionManager) JoinRoom(room, id string) {
	cm.mu.Lock()
	if conn, ok := cm.byID[id]; ok {
		members, ok := cm.rooms[room]
		if !ok {
			members = make(map[string]*Connection)
			cm.rooms[room] = members
		}
		members[id] = conn
	}
	cm.mu.Unlock()
}

// LeaveRoom removes the connection from a room's multicast set.
func (cm *ConnectionManager) LeaveRoom(room, id string) {
	cm.mu.Lock()
	if members, ok := cm.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(cm.rooms, room)
		}
	}
	cm.mu.Unlock()
}

// RoomMembers returns the ids of every connection currently in the room's
// multicast set.
func (cm *ConnectionManager) RoomMembers(room string) []string {
	cm.mu.RLock()
	members := cm.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	cm.mu.RUnlock()
	return ids
}

// SendToRoom writes a message to every connection in the room, minus any ids
// in exclude. Individual write errors are ignored; failed connections are
// cleaned up by the event loop on the next read. It returns the number of
// connections written to.
func (cm *ConnectionManager) SendToRoom(room string, data []byte, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.rooms[room]))
	for id, conn := range cm.rooms[room] {
		if _, ok := skip[id]; ok {
			continue
		}
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(data)
	}
	return len(conns)
}

// Broadcast sends a message to all connected clients. Errors on individual
// connections are silently ignored.
func (cm *ConnectionManager) Broadcast(msg []byte) {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(msg)
	}
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
