package handshake

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mahitmehta/mrial/cryptoenv"
	"github.com/mahitmehta/mrial/session"
)

// RejectReason classifies why a ShakeAE attempt failed to produce a
// connected peer, mirroring the original server's AppConnectionError enum.
type RejectReason int

const (
	_ RejectReason = iota
	InvalidCredentials
	DecryptionFailed
	UserStoreUnavailable
	PeerStateMissing
)

func (r RejectReason) Error() string {
	switch r {
	case InvalidCredentials:
		return "handshake: invalid credentials"
	case DecryptionFailed:
		return "handshake: failed to decrypt ShakeAE payload"
	case UserStoreUnavailable:
		return "handshake: user store unavailable"
	case PeerStateMissing:
		return "handshake: no pending ShakeUE state for this peer"
	default:
		return "handshake: rejected"
	}
}

// UserStore authenticates a username/password pair. Implementations live
// in package userstore.
type UserStore interface {
	Authenticate(username, password string) bool
}

// Server drives the server side of the handshake for every peer in a
// session.Registry: ShakeUE bootstraps a per-peer RSA keypair, ShakeAE
// authenticates and installs the session key.
type Server struct {
	registry *session.Registry
	users    UserStore

	// pacers limits how often a peer may restart the handshake (resend
	// ShakeUE) before being ignored, so a confused or hostile peer can't
	// force a fresh RSA keygen on every datagram.
	pacersMu sync.Mutex
	pacers   map[string]*rate.Limiter
	newPace  func() *rate.Limiter
}

// NewServer returns a Server backed by registry and users. Each peer is
// allowed to (re)initiate a handshake at most once per 250ms, bursting up
// to 2 — enough to tolerate one lost ShookUE reply without opening a
// retry storm.
func NewServer(registry *session.Registry, users UserStore) *Server {
	return &Server{
		registry: registry,
		users:    users,
		pacers:   make(map[string]*rate.Limiter),
		newPace:  func() *rate.Limiter { return rate.NewLimiter(rate.Every(250*time.Millisecond), 2) },
	}
}

func (s *Server) pacerFor(addr *net.UDPAddr) *rate.Limiter {
	s.pacersMu.Lock()
	defer s.pacersMu.Unlock()
	key := addr.String()
	if l, ok := s.pacers[key]; ok {
		return l
	}
	l := s.newPace()
	s.pacers[key] = l
	return l
}

// HandleShakeUE admits a new peer or re-arms an existing one, generating a
// fresh ephemeral RSA keypair and returning the ShookUEPayload to send
// back. It returns ok=false when the peer is retrying faster than the
// pacer allows, in which case the caller should silently drop the
// datagram.
func (s *Server) HandleShakeUE(addr *net.UDPAddr) (ShookUEPayload, bool, error) {
	if !s.pacerFor(addr).Allow() {
		return ShookUEPayload{}, false, nil
	}
	kp, err := cryptoenv.GeneratePeerKeyPair()
	if err != nil {
		return ShookUEPayload{}, false, err
	}
	s.registry.Insert(addr, &session.Peer{
		Addr:       addr,
		ID:         uuid.New(),
		PrivateKey: kp.Private,
		LastPing:   time.Now(),
	})
	return ShookUEPayload{PubKey: kp.PublicPEM()}, true, nil
}

// HandleShakeAE authenticates a ShakeAE attempt and, on success, installs
// the session key and marks the peer connected. sealed is the RSA-OAEP
// envelope carried by the ShakeAE packet.
func (s *Server) HandleShakeAE(addr *net.UDPAddr, sealed []byte) (ClientStatePayload, error) {
	peer, ok := s.registry.Get(addr)
	if !ok || peer.PrivateKey == nil {
		return ClientStatePayload{}, PeerStateMissing
	}

	plaintext, err := cryptoenv.OpenOAEP(peer.PrivateKey, sealed)
	if err != nil {
		return ClientStatePayload{}, DecryptionFailed
	}

	var payload ShakeAEPayload
	if err := Unmarshal(plaintext, &payload); err != nil {
		return ClientStatePayload{}, DecryptionFailed
	}

	if s.users == nil {
		return ClientStatePayload{}, UserStoreUnavailable
	}
	if !s.users.Authenticate(payload.Username, payload.Pass) {
		// Unlike the original, which leaves the pending peer record in
		// place for a retry, a rejected ShakeAE here drops it: a peer that
		// fails authentication must restart from ShakeUE rather than being
		// allowed to keep guessing passwords against the same RSA keypair.
		s.registry.Remove(addr)
		return ClientStatePayload{}, InvalidCredentials
	}

	rawKey, err := base64.RawStdEncoding.DecodeString(payload.SymKey)
	if err != nil {
		return ClientStatePayload{}, DecryptionFailed
	}
	key, err := cryptoenv.KeyFromBytes(rawKey)
	if err != nil {
		return ClientStatePayload{}, DecryptionFailed
	}

	peer.SessionKey = key
	peer.Connected = true
	peer.PrivateKey = nil // no longer needed once the session key is installed
	return payload.ClientState, nil
}

var errNotConnected = errors.New("handshake: peer is not connected")

// SessionKey returns the installed session key for a connected peer.
func (s *Server) SessionKey(addr *net.UDPAddr) (cryptoenv.Key, error) {
	peer, ok := s.registry.Get(addr)
	if !ok || !peer.Connected {
		return cryptoenv.Key{}, errNotConnected
	}
	return peer.SessionKey, nil
}
