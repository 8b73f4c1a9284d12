package server

import (
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/protocol/session"
)

// connection is the registry entry for one accepted socket.
type connection struct {
	id        string
	conn      net.Conn
	startedAt time.Time
	lastSeen  atomic.Int64
	exchanges atomic.Uint64
}

func newConnection(conn net.Conn) *connection {
	c := &connection{
		id:        uuid.NewString(),
		conn:      conn,
		startedAt: time.Now(),
	}
	c.touch()
	return c
}

func (c *connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *connection) lastActivity() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// ConnectionInfo is a snapshot of one live server connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	LocalAddr    string    `json:"local_addr"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Exchanges    uint64    `json:"exchanges"`
}

func (c *connection) info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id,
		RemoteAddr:   addrString(c.conn.RemoteAddr()),
		LocalAddr:    addrString(c.conn.LocalAddr()),
		StartedAt:    c.startedAt,
		LastActivity: c.lastActivity(),
		Exchanges:    c.exchanges.Load(),
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (s *Server) track(c *connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	observability.ConnectionOpened(observability.RoleServer)
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	observability.ConnectionClosed(observability.RoleServer)
}

func (s *Server) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Connections lists live connections, oldest first.
func (s *Server) Connections() []ConnectionInfo {
	conns := s.snapshot()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseConnections gracefully closes every live connection and returns how
// many were closed. Their workers exit on the next read.
func (s *Server) CloseConnections() int {
	conns := s.snapshot()
	for _, c := range conns {
		_ = session.Close(c.conn)
	}
	s.log.Info().Int("count", len(conns)).Msg("server.Server.CloseConnections")
	return len(conns)
}

// ResetConnections aborts every live connection.
func (s *Server) ResetConnections() int {
	conns := s.snapshot()
	for _, c := range conns {
		_ = session.Reset(c.conn)
	}
	s.log.Info().Int("count", len(conns)).Msg("server.Server.ResetConnections")
	return len(conns)
}
