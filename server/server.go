// Package server wires together the UDP receive loop, handshake state
// machine, session registry, and fragmenters/reassemblers into a running
// mrial server.
package server

import (
	"net"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/mahitmehta/mrial/config"
	"github.com/mahitmehta/mrial/cryptoenv"
	"github.com/mahitmehta/mrial/handshake"
	"github.com/mahitmehta/mrial/metrics"
	"github.com/mahitmehta/mrial/proto"
	"github.com/mahitmehta/mrial/session"
	"github.com/mahitmehta/mrial/userstore"
	"github.com/mahitmehta/mrial/websink"
)

// Server owns a UDP socket and every piece of protocol state that hangs
// off it: the peer registry, the handshake state machine, and one
// Reassembler per peer for each client-to-server stream.
type Server struct {
	cfg  config.Server
	conn *net.UDPConn
	log  *charmlog.Logger

	registry  *session.Registry
	handshake *handshake.Server
	users     *userstore.Store
	web       websink.Sink

	nal   *proto.Fragmenter
	audio *proto.Fragmenter
	state *proto.Fragmenter

	mu           sync.Mutex
	inputStreams map[string]*proto.Reassembler
	stateStreams map[string]*proto.Reassembler
}

// New binds a UDP socket on cfg.Port and returns a Server ready to Run.
func New(cfg config.Server, web websink.Sink) (*Server, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(cfg.Port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	users := userstore.New(cfg.UserStorePath)
	if err := users.Load(); err != nil {
		return nil, err
	}

	registry := session.NewRegistry()
	sealer := registrySealer{registry: registry}

	return &Server{
		cfg:          cfg,
		conn:         conn,
		log:          charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "server"}),
		registry:     registry,
		handshake:    handshake.NewServer(registry, users),
		users:        users,
		web:          web,
		nal:          proto.NewFragmenter(proto.NAL, cfg.XOREnabled, sealer),
		audio:        proto.NewFragmenter(proto.Audio, cfg.XOREnabled, sealer),
		state:        proto.NewFragmenter(proto.ServerState, false, sealer),
		inputStreams: make(map[string]*proto.Reassembler),
		stateStreams: make(map[string]*proto.Reassembler),
	}, nil
}

// registrySealer adapts a session.Registry's AnySessionKey lookup to
// proto.Sealer, used by the shared video/audio/server-state fragmenters.
type registrySealer struct{ registry *session.Registry }

func (s registrySealer) Seal(plaintext []byte) ([]byte, error) {
	key, ok := s.registry.AnySessionKey()
	if !ok {
		return nil, cryptoenv.ErrOpenFailed
	}
	return cryptoenv.Seal(key, plaintext)
}

// Addr returns the server's bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Run blocks, reading datagrams and dispatching them until the socket is
// closed or recvLoop returns an unrecoverable error.
func (s *Server) Run() error {
	go s.sweepLoop()
	return s.recvLoop()
}

// Close closes the underlying socket, unblocking Run.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) recvLoop() error {
	buf := make([]byte, proto.MTU)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		s.handlePacket(addr, buf[:n])
	}
}

func (s *Server) handlePacket(addr *net.UDPAddr, buf []byte) {
	h, err := proto.ParseHeader(buf)
	if err != nil {
		s.log.Debug("dropping malformed packet", "addr", addr, "err", err)
		metrics.ReassemblyFailures.WithLabelValues(proto.KindOf(err).String()).Inc()
		return
	}

	switch h.Type {
	case proto.ShakeUE:
		s.onShakeUE(addr)
	case proto.ShakeAE:
		s.onShakeAE(addr, buf)
	case proto.Ping:
		s.registry.Touch(addr, time.Now())
		s.sendAlive(addr)
	case proto.Disconnect:
		s.registry.Remove(addr)
	case proto.InputState:
		s.onStreamPacket(s.inputStreams, addr, buf, s.onInputFrame)
	case proto.ClientState:
		s.onStreamPacket(s.stateStreams, addr, buf, s.onClientStateFrame)
	default:
		s.log.Debug("unhandled packet type", "type", h.Type, "addr", addr)
	}
}

func (s *Server) onShakeUE(addr *net.UDPAddr) {
	payload, ok, err := s.handshake.HandleShakeUE(addr)
	if err != nil {
		s.log.Warn("ShakeUE failed", "addr", addr, "err", err)
		return
	}
	if !ok {
		return // paced out; ignore the retry
	}
	body, err := handshake.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal ShookUE", "err", err)
		return
	}
	s.sendFrame(proto.ShookUE, addr, body, nil)
}

func (s *Server) onShakeAE(addr *net.UDPAddr, buf []byte) {
	clientState, err := s.handshake.HandleShakeAE(addr, buf[proto.Header:])
	if err != nil {
		metrics.HandshakeOutcomes.WithLabelValues(classifyRejection(err)).Inc()
		s.log.Warn("ShakeAE rejected", "addr", addr, "err", err)
		return
	}
	metrics.HandshakeOutcomes.WithLabelValues("accepted").Inc()
	metrics.PeersConnected.Inc()

	reply := handshake.ShookSEPayload{
		ServerState: handshake.ServerStatePayload{
			Width:  clientState.Width,
			Height: clientState.Height,
		},
	}
	body, err := handshake.Marshal(reply)
	if err != nil {
		s.log.Warn("failed to marshal ShookSE", "err", err)
		return
	}

	peer, ok := s.registry.Get(addr)
	if !ok {
		return
	}
	sealed, err := peer.Seal(body)
	if err != nil {
		s.log.Warn("failed to seal ShookSE", "err", err)
		return
	}
	s.sendRaw(proto.ShookSE, addr, sealed)
	s.log.Info("peer connected", "addr", addr, "session", peer.ID)
}

func classifyRejection(err error) string {
	switch err {
	case handshake.InvalidCredentials:
		return "invalid_credentials"
	case handshake.DecryptionFailed:
		return "decryption_failed"
	case handshake.UserStoreUnavailable:
		return "user_store_unavailable"
	case handshake.PeerStateMissing:
		return "peer_state_missing"
	default:
		return "unknown"
	}
}

// onStreamPacket feeds buf through the Reassembler dedicated to addr in
// streams, decrypting and handing the completed frame to onFrame.
func (s *Server) onStreamPacket(streams map[string]*proto.Reassembler, addr *net.UDPAddr, buf []byte, onFrame func(addr *net.UDPAddr, frame []byte)) {
	r := s.streamFor(streams, addr)
	frame, kind, err := r.Push(buf)
	if err != nil {
		s.log.Debug("dropping short packet", "addr", addr, "err", err)
		metrics.ReassemblyFailures.WithLabelValues(kind.String()).Inc()
		return
	}
	if kind == proto.KindReassemblyDeficient {
		s.log.Debug("reassembly deficient, discarding frame", "addr", addr)
		metrics.ReassemblyFailures.WithLabelValues(kind.String()).Inc()
		return
	}
	if frame == nil {
		return // still waiting on more subpackets; routine, nothing to log
	}
	if kind == proto.KindReassemblySurplus {
		s.log.Debug("reassembly recovered after dropping surplus subpackets", "addr", addr)
		metrics.ReassemblyFailures.WithLabelValues(kind.String()).Inc()
	}

	peer, found := s.registry.Get(addr)
	if !found || !peer.Connected {
		return
	}
	plaintext, err := cryptoenv.Open(peer.SessionKey, frame)
	if err != nil {
		s.log.Debug("decrypt failed, discarding frame", "addr", addr)
		metrics.ReassemblyFailures.WithLabelValues(proto.KindDecryptFailed.String()).Inc()
		return
	}
	onFrame(addr, plaintext)
}

func (s *Server) streamFor(streams map[string]*proto.Reassembler, addr *net.UDPAddr) *proto.Reassembler {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addr.String()
	r, ok := streams[key]
	if !ok {
		r = proto.NewReassembler()
		streams[key] = r
	}
	return r
}

func (s *Server) onInputFrame(addr *net.UDPAddr, frame []byte) {
	if len(frame) < proto.InputPayloadSize {
		return
	}
	// Dispatch to an OS input-injection layer is out of scope here; the
	// decoded fields are available via proto's input codec for a caller
	// that wants them.
}

func (s *Server) onClientStateFrame(addr *net.UDPAddr, frame []byte) {
	var state handshake.ClientStatePayload
	if err := handshake.Unmarshal(frame, &state); err != nil {
		return
	}
	_ = state // display-resolution renegotiation is out of scope here
}

func (s *Server) sendAlive(addr *net.UDPAddr) {
	var buf [proto.Header]byte
	proto.WriteHeader(proto.Header{Type: proto.Alive, Size: proto.Header}, buf[:])
	s.conn.WriteToUDP(buf[:], addr)
}

// sendFrame fragments and sends a handshake control frame directly to
// addr. Handshake packets are exchanged at most once or twice per peer, so
// a fresh Fragmenter per call (rather than one long-lived Fragmenter per
// peer) costs nothing and sidesteps needing a per-peer sealer for the
// shared video/audio/server-state streams' single Fragmenter each.
func (s *Server) sendFrame(t proto.PacketType, addr *net.UDPAddr, body []byte, sealer proto.Sealer) {
	f := proto.NewFragmenter(t, false, sealer)
	f.Send(body, proto.BroadcasterFunc(func(sub []byte) {
		s.conn.WriteToUDP(sub, addr)
		metrics.SubpacketsSent.WithLabelValues(t.String()).Inc()
	}))
}

// sendRaw sends an already-sealed, already-whole payload to addr via a
// throwaway Fragmenter with no sealer (the envelope is already sealed).
func (s *Server) sendRaw(t proto.PacketType, addr *net.UDPAddr, sealed []byte) {
	s.sendFrame(t, addr, sealed, nil)
}

// BroadcastNAL seals and fragments a video frame out to every connected
// peer and, if present, the web sink.
func (s *Server) BroadcastNAL(frame []byte) error {
	return s.nal.Send(frame, proto.BroadcasterFunc(func(sub []byte) {
		s.registry.Broadcast(sub, s.sendTo)
		if s.web != nil {
			s.web.Broadcast(sub)
		}
		metrics.SubpacketsSent.WithLabelValues(proto.NAL.String()).Inc()
	}))
}

// BroadcastAudio seals and fragments an audio frame out to every
// non-muted connected peer.
func (s *Server) BroadcastAudio(frame []byte) error {
	return s.audio.Send(frame, proto.BroadcasterFunc(func(sub []byte) {
		s.registry.BroadcastAudio(sub, s.sendTo)
		metrics.SubpacketsSent.WithLabelValues(proto.Audio.String()).Inc()
	}))
}

// BroadcastServerState seals and fragments a display-capability update
// (new resolutions, a monitor going away) out to every connected peer.
func (s *Server) BroadcastServerState(frame []byte) error {
	return s.state.Send(frame, proto.BroadcasterFunc(func(sub []byte) {
		s.registry.Broadcast(sub, s.sendTo)
		metrics.SubpacketsSent.WithLabelValues(proto.ServerState.String()).Inc()
	}))
}

// sendTo writes buf to addr when addr belongs to a connected peer; peers
// still mid-handshake are skipped without error.
func (s *Server) sendTo(addr *net.UDPAddr, buf []byte) error {
	if p, ok := s.registry.Get(addr); !ok || !p.Connected {
		return nil
	}
	_, err := s.conn.WriteToUDP(buf, addr)
	return err
}

// sweepLoop periodically evicts peers that have stopped pinging.
func (s *Server) sweepLoop() {
	interval := time.Duration(s.cfg.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		evicted := s.registry.EvictDead(time.Now(), s.cfg.PingTolerance)
		for _, addr := range evicted {
			s.log.Debug("evicted dead peer", "addr", addr)
			metrics.PeersEvicted.Inc()
			metrics.PeersConnected.Dec()
		}
	}
}
