package voicews

import (
	"sync"

	ws "nhooyr.io/websocket"
)

// Registry keeps at most one voice connection per session.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*peer
}

func NewRegistry() *Registry { return &Registry{peers: make(map[string]*peer)} }

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, p *peer) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.peers[sessionID]; ok && old != nil {
		_ = old.conn.Close(ws.StatusNormalClosure, "replaced")
		old.close()
		prevClosed = true
	}
	r.peers[sessionID] = p
	metricConnections.Set(float64(len(r.peers)))
	return
}

// Remove drops p if it is still the session's connection.
func (r *Registry) Remove(sessionID string, p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[sessionID] == p {
		delete(r.peers, sessionID)
	}
	metricConnections.Set(float64(len(r.peers)))
}

func (r *Registry) Connected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[sessionID] != nil
}
