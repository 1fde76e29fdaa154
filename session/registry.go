package session

import (
	"net"
	"sync"
	"time"

	"github.com/mahitmehta/mrial/cryptoenv"
)

// Registry is the set of peers a server currently knows about, keyed by
// UDP source address. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Insert adds or replaces the peer at addr.
func (r *Registry) Insert(addr *net.UDPAddr, p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr.String()] = p
}

// Get returns the peer at addr, if any.
func (r *Registry) Get(addr *net.UDPAddr) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[addr.String()]
	return p, ok
}

// Remove evicts the peer at addr.
func (r *Registry) Remove(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, addr.String())
}

// Touch records a ping from addr, if that peer is still registered.
func (r *Registry) Touch(addr *net.UDPAddr, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[addr.String()]; ok {
		p.LastPing = at
	}
}

// SetMuted sets the muted flag on the peer at addr, if registered.
func (r *Registry) SetMuted(addr *net.UDPAddr, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[addr.String()]; ok {
		p.Muted = muted
	}
}

// EvictDead removes every peer that has not pinged within tolerance of now,
// returning their addresses for the caller to log or meter.
func (r *Registry) EvictDead(now time.Time, tolerance time.Duration) []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []*net.UDPAddr
	for key, p := range r.peers {
		if !p.IsAlive(now, tolerance) {
			evicted = append(evicted, p.Addr)
			delete(r.peers, key)
		}
	}
	return evicted
}

// HasConnected reports whether any registered peer has completed the
// handshake.
func (r *Registry) HasConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.Connected {
			return true
		}
	}
	return false
}

// AnySessionKey returns the session key of an arbitrary connected peer.
// The video/audio/server-state fragmenters share one sealed stream across
// every viewer, so only one key is needed to seal it — matching the
// original server's get_sym_key, which likewise just picks the first
// connected client it finds rather than sealing per-viewer.
func (r *Registry) AnySessionKey() (cryptoenv.Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.Connected {
			return p.SessionKey, true
		}
	}
	return cryptoenv.Key{}, false
}

// PeerSnapshot is a read-locked (addr, key, muted) triple describing one
// peer at the moment Snapshot was called. Unlike *Peer, it shares no
// mutable state with the registry: a second goroutine mutating the live
// Peer (SetMuted, Touch, a session-key install) afterward cannot race a
// reader holding a PeerSnapshot.
type PeerSnapshot struct {
	Addr  *net.UDPAddr
	Key   cryptoenv.Key
	Muted bool
}

// Snapshot returns a value copy of every currently registered peer's
// (addr, key, muted) triple, safe to range over after the call returns
// without holding the registry lock and without aliasing any *Peer field a
// concurrent mutator might change.
func (r *Registry) Snapshot() []PeerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerSnapshot, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, PeerSnapshot{Addr: p.Addr, Key: p.SessionKey, Muted: p.Muted})
	}
	return out
}

// Broadcast sends an already-sealed buffer to every registered peer's
// address via send, evicting any peer whose send fails (a dead socket, not
// a transient error, in the UDP "connectionless but still fails" sense the
// original server treats as a hard disconnect).
func (r *Registry) Broadcast(buf []byte, send func(addr *net.UDPAddr, buf []byte) error) {
	for _, p := range r.Snapshot() {
		if err := send(p.Addr, buf); err != nil {
			r.Remove(p.Addr)
		}
	}
}

// BroadcastAudio is Broadcast with muted peers skipped.
func (r *Registry) BroadcastAudio(buf []byte, send func(addr *net.UDPAddr, buf []byte) error) {
	for _, p := range r.Snapshot() {
		if p.Muted {
			continue
		}
		if err := send(p.Addr, buf); err != nil {
			r.Remove(p.Addr)
		}
	}
}
