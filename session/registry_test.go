package session

import (
	"errors"
	"net"
	"testing"
	"time"
)

var errSendFailed = errors.New("simulated send failure")

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestRegistryInsertGetRemove(t *testing.T) {
	r := NewRegistry()
	a := addr(1)
	r.Insert(a, &Peer{Addr: a, LastPing: time.Now()})

	if _, ok := r.Get(a); !ok {
		t.Fatal("Get() should find the inserted peer")
	}
	r.Remove(a)
	if _, ok := r.Get(a); ok {
		t.Fatal("Get() should not find a removed peer")
	}
}

func TestRegistryEvictDead(t *testing.T) {
	r := NewRegistry()
	alive := addr(1)
	dead := addr(2)
	now := time.Now()

	r.Insert(alive, &Peer{Addr: alive, LastPing: now})
	r.Insert(dead, &Peer{Addr: dead, LastPing: now.Add(-10 * time.Second)})

	evicted := r.EvictDead(now, 6*time.Second)
	if len(evicted) != 1 || evicted[0].String() != dead.String() {
		t.Fatalf("EvictDead() = %v, want only %v", evicted, dead)
	}
	if _, ok := r.Get(alive); !ok {
		t.Fatal("a peer within tolerance should not be evicted")
	}
	if _, ok := r.Get(dead); ok {
		t.Fatal("an evicted peer should be removed from the registry")
	}
}

func TestRegistryEvictDeadToleranceBoundary(t *testing.T) {
	r := NewRegistry()
	a := addr(1)
	now := time.Now()
	r.Insert(a, &Peer{Addr: a, LastPing: now})

	if evicted := r.EvictDead(now.Add(5900*time.Millisecond), 6*time.Second); len(evicted) != 0 {
		t.Fatalf("EvictDead() at 5.9s = %v, want no eviction yet", evicted)
	}
	if _, ok := r.Get(a); !ok {
		t.Fatal("peer still within tolerance at 5.9s should remain present")
	}

	if evicted := r.EvictDead(now.Add(6100*time.Millisecond), 6*time.Second); len(evicted) != 1 {
		t.Fatalf("EvictDead() at 6.1s = %v, want the peer evicted", evicted)
	}
	if _, ok := r.Get(a); ok {
		t.Fatal("peer past tolerance at 6.1s should be absent")
	}
}

func TestRegistryAnySessionKeyRequiresConnected(t *testing.T) {
	r := NewRegistry()
	a := addr(1)
	r.Insert(a, &Peer{Addr: a, Connected: false})

	if _, ok := r.AnySessionKey(); ok {
		t.Fatal("AnySessionKey() should find nothing before any peer is connected")
	}

	r.Insert(a, &Peer{Addr: a, Connected: true, SessionKey: [32]byte{1, 2, 3}})
	key, ok := r.AnySessionKey()
	if !ok || key != ([32]byte{1, 2, 3}) {
		t.Fatalf("AnySessionKey() = %v, %v, want the connected peer's key", key, ok)
	}
}

func TestRegistrySnapshotDoesNotAliasLivePeer(t *testing.T) {
	r := NewRegistry()
	a := addr(1)
	r.Insert(a, &Peer{Addr: a, Muted: false, SessionKey: [32]byte{9}})

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d entries, want 1", len(snap))
	}

	// Mutate the live peer after taking the snapshot; the snapshot's value
	// must not observe it.
	r.SetMuted(a, true)

	if snap[0].Muted {
		t.Fatal("Snapshot()'s Muted field changed after a later SetMuted call — it aliases the live Peer")
	}
	peer, _ := r.Get(a)
	if !peer.Muted {
		t.Fatal("the live peer itself should reflect the later SetMuted call")
	}
}

func TestRegistryBroadcastEvictsFailingSends(t *testing.T) {
	r := NewRegistry()
	good := addr(1)
	bad := addr(2)
	r.Insert(good, &Peer{Addr: good})
	r.Insert(bad, &Peer{Addr: bad})

	r.Broadcast([]byte("frame"), func(a *net.UDPAddr, buf []byte) error {
		if a.Port == bad.Port {
			return errSendFailed
		}
		return nil
	})

	if _, ok := r.Get(good); !ok {
		t.Fatal("a peer whose send succeeded should remain registered")
	}
	if _, ok := r.Get(bad); ok {
		t.Fatal("a peer whose send failed should be evicted")
	}
}

func TestRegistryBroadcastAudioSkipsMuted(t *testing.T) {
	r := NewRegistry()
	muted := addr(1)
	unmuted := addr(2)
	r.Insert(muted, &Peer{Addr: muted, Muted: true})
	r.Insert(unmuted, &Peer{Addr: unmuted, Muted: false})

	var sentTo []int
	r.BroadcastAudio([]byte("frame"), func(a *net.UDPAddr, buf []byte) error {
		sentTo = append(sentTo, a.Port)
		return nil
	})

	if len(sentTo) != 1 || sentTo[0] != unmuted.Port {
		t.Fatalf("BroadcastAudio sent to ports %v, want only %d", sentTo, unmuted.Port)
	}
}
