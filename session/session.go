// Package session tracks connected peers: per-peer handshake material,
// liveness, and the broadcast fan-out used to push frames to every live
// peer without holding a lock across a socket write.
package session

import (
	"crypto/rsa"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mahitmehta/mrial/cryptoenv"
	"github.com/mahitmehta/mrial/proto"
)

// Peer is one UDP peer's connection state, from the ShakeUE that creates it
// through to eviction. Every field is guarded by the owning Registry's
// mutex; callers must not mutate a Peer obtained via Snapshot.
type Peer struct {
	Addr *net.UDPAddr

	// ID identifies this connection attempt across address churn (a NAT
	// rebind or a client reconnecting from the same address gets a new
	// ID), independent of Addr. It's assigned once at ShakeUE and used
	// purely for logging/metrics correlation, never sent on the wire.
	ID uuid.UUID

	// PrivateKey is the ephemeral RSA keypair generated for this peer at
	// ShakeUE. It is set to nil once SessionKey is installed — see
	// handshake.Server.HandleShakeAE.
	PrivateKey *rsa.PrivateKey

	// SessionKey is installed once a ShakeAE carrying valid credentials is
	// received. A zero Connected means SessionKey is meaningless.
	SessionKey cryptoenv.Key
	Connected  bool
	Muted      bool

	LastPing time.Time
}

// IsAlive reports whether p has pinged within tolerance of now.
func (p *Peer) IsAlive(now time.Time, tolerance time.Duration) bool {
	return now.Sub(p.LastPing) < tolerance
}

// Seal implements proto.Sealer against this peer's installed session key.
// It is the adapter a Fragmenter uses when sending to a single peer
// directly (e.g. a ShookSE reply). Shared frames are sealed once, before
// fragmentation, and Registry.Broadcast only sends the already-sealed
// subpackets.
func (p *Peer) Seal(plaintext []byte) ([]byte, error) {
	return cryptoenv.Seal(p.SessionKey, plaintext)
}

var _ proto.Sealer = (*Peer)(nil)
