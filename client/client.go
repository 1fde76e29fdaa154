// Package client wires together the client side of the protocol: a
// receive loop that completes the handshake and reassembles NAL/Audio/
// ServerState frames, and an input sender that fragments InputState
// packets and pings the server on a fixed cadence.
package client

import (
	"net"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/mahitmehta/mrial/config"
	"github.com/mahitmehta/mrial/cryptoenv"
	"github.com/mahitmehta/mrial/handshake"
	"github.com/mahitmehta/mrial/proto"
)

// Frame is a reassembled, decrypted application frame delivered to the
// caller.
type Frame struct {
	Type PacketType
	Data []byte
}

// PacketType re-exports proto.PacketType so callers that only import
// package client to consume Frame don't also need package proto.
type PacketType = proto.PacketType

// Client drives one connection to a mrial server.
type Client struct {
	cfg  config.Client
	conn *net.UDPConn
	log  *charmlog.Logger

	hs *handshake.Client

	input *proto.Fragmenter

	nalStream   *proto.Reassembler
	audioStream *proto.Reassembler
	stateStream *proto.Reassembler

	Frames chan Frame
}

// Dial connects to cfg.ServerAddr and returns a Client with the UDP socket
// open but the handshake not yet started — call Connect to run it.
func Dial(cfg config.Client) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:         cfg,
		conn:        conn,
		log:         charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "client"}),
		hs:          handshake.NewClient(),
		nalStream:   proto.NewReassembler(),
		audioStream: proto.NewReassembler(),
		stateStream: proto.NewReassembler(),
		Frames:      make(chan Frame, 64),
	}, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

// Connect runs the ShakeUE/ShookUE/ShakeAE/ShookSE sequence, resending
// ShakeUE after every 1-second read timeout until a ShookUE reply arrives.
// Once ShookUE has arrived, a read timeout ends Connect with that error.
// It returns once the session key is installed.
func (c *Client) Connect(width, height uint16) error {
	defer c.conn.SetReadDeadline(time.Time{})

	if err := c.sendShakeUE(); err != nil {
		return err
	}
	c.hs.SentShakeUE()

	buf := make([]byte, proto.MTU)
	for c.hs.State() != handshake.ClientConnected {
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && c.hs.State() == handshake.ClientShakeUESent {
				if err := c.sendShakeUE(); err != nil {
					return err
				}
				continue
			}
			return err
		}
		h, err := proto.ParseHeader(buf[:n])
		if err != nil {
			continue
		}
		switch h.Type {
		case proto.ShookUE:
			var payload handshake.ShookUEPayload
			if err := handshake.Unmarshal(buf[proto.Header:n], &payload); err != nil {
				continue
			}
			if err := c.hs.ReceivedShookUE(payload); err != nil {
				continue
			}
			if err := c.sendShakeAE(width, height); err != nil {
				return err
			}
		case proto.ShookSE:
			if _, err := c.hs.ReceivedShookSE(buf[proto.Header:n]); err != nil {
				continue
			}
			c.input = proto.NewFragmenter(proto.InputState, false, c.hs)
		}
	}
	return nil
}

func (c *Client) sendShakeUE() error {
	var buf [proto.Header]byte
	proto.WriteHeader(proto.Header{Type: proto.ShakeUE, Size: proto.Header}, buf[:])
	_, err := c.conn.Write(buf[:])
	return err
}

func (c *Client) sendShakeAE(width, height uint16) error {
	key := cryptoenv.GenerateKey()
	sealed, err := c.hs.BuildShakeAE(c.cfg.Username, c.cfg.Password, key, handshake.ClientStatePayload{
		Width:  width,
		Height: height,
	})
	if err != nil {
		return err
	}
	f := proto.NewFragmenter(proto.ShakeAE, false, nil)
	return f.Send(sealed, proto.BroadcasterFunc(func(sub []byte) {
		c.conn.Write(sub)
	}))
}

// Run reads datagrams until the socket closes, reassembling and
// decrypting NAL/Audio/ServerState frames and delivering them on Frames.
func (c *Client) Run() error {
	buf := make([]byte, proto.MTU)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			close(c.Frames)
			return err
		}
		c.handlePacket(buf[:n])
	}
}

func (c *Client) handlePacket(buf []byte) {
	h, err := proto.ParseHeader(buf)
	if err != nil {
		c.log.Debug("dropping malformed packet", "err", err)
		return
	}

	var stream *proto.Reassembler
	switch h.Type {
	case proto.NAL:
		stream = c.nalStream
	case proto.Audio:
		stream = c.audioStream
	case proto.ServerState:
		stream = c.stateStream
	case proto.Alive:
		return
	default:
		return
	}

	frame, kind, err := stream.Push(buf)
	if err != nil {
		c.log.Debug("dropping short packet", "err", err)
		return
	}
	if kind == proto.KindReassemblyDeficient {
		c.log.Debug("reassembly deficient, discarding frame", "type", h.Type)
		return
	}
	if frame == nil {
		return // still waiting on more subpackets; routine, nothing to log
	}
	if kind == proto.KindReassemblySurplus {
		c.log.Debug("reassembly recovered after dropping surplus subpackets", "type", h.Type)
	}
	plaintext, err := cryptoenv.Open(c.hs.SessionKey(), frame)
	if err != nil {
		c.log.Debug("decrypt failed, discarding frame", "type", h.Type)
		return
	}
	c.Frames <- Frame{Type: h.Type, Data: plaintext}
}

// SendInput fragments and sends an encrypted InputState payload.
func (c *Client) SendInput(payload []byte) error {
	if c.input == nil {
		return handshake.ErrUnexpectedState
	}
	return c.input.Send(payload, proto.BroadcasterFunc(func(sub []byte) {
		c.conn.Write(sub)
	}))
}

// PingLoop sends a Ping every cfg.PingFrequency until stop is closed.
func (c *Client) PingLoop(stop <-chan struct{}) {
	interval := c.cfg.PingFrequency
	if interval <= 0 {
		interval = time.Duration(proto.ClientPingFrequency) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var buf [proto.Header]byte
	proto.WriteHeader(proto.Header{Type: proto.Ping, Size: proto.Header}, buf[:])

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := c.conn.Write(buf[:]); err != nil {
				c.log.Warn("ping failed", "err", err)
			}
		}
	}
}

// Disconnect tells the server to drop this peer.
func (c *Client) Disconnect() error {
	var buf [proto.Header]byte
	proto.WriteHeader(proto.Header{Type: proto.Disconnect, Size: proto.Header}, buf[:])
	_, err := c.conn.Write(buf[:])
	return err
}
