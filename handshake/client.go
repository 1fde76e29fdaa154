package handshake

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/mahitmehta/mrial/cryptoenv"
)

// ClientState enumerates the client side of the handshake.
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientShakeUESent
	ClientShookUEReceived
	ClientShakeAESent
	ClientConnected
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientShakeUESent:
		return "shake-ue-sent"
	case ClientShookUEReceived:
		return "shook-ue-received"
	case ClientShakeAESent:
		return "shake-ae-sent"
	case ClientConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrUnexpectedState is returned when a handshake packet arrives out
	// of sequence for the client's current state (e.g. a ShookSE before
	// ShakeAE was ever sent).
	ErrUnexpectedState = errors.New("handshake: packet received out of sequence")
)

// Client drives one outgoing handshake attempt against a server.
type Client struct {
	mu    sync.Mutex
	state ClientState

	serverKey  *rsa.PublicKey
	sessionKey cryptoenv.Key
}

// NewClient returns a Client in the idle state.
func NewClient() *Client {
	return &Client{state: ClientIdle}
}

// State returns the client's current handshake state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SentShakeUE transitions idle -> shake-ue-sent. Safe to call repeatedly
// while idle or already waiting, matching a client that retransmits
// ShakeUE until it sees a ShookUE reply.
func (c *Client) SentShakeUE() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientIdle {
		c.state = ClientShakeUESent
	}
}

// ReceivedShookUE parses the server's public key and advances the state
// machine, or returns ErrUnexpectedState if no ShakeUE was ever sent.
func (c *Client) ReceivedShookUE(payload ShookUEPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientShakeUESent {
		return ErrUnexpectedState
	}
	pub, err := cryptoenv.ParsePublicPEM(payload.PubKey)
	if err != nil {
		return err
	}
	c.serverKey = pub
	c.state = ClientShookUEReceived
	return nil
}

// BuildShakeAE seals username/pass/sessionKey and the client's requested
// display state under the server's public key, returning the ciphertext to
// send as the ShakeAE payload. sessionKey is generated by the caller
// (cryptoenv.GenerateKey) so it can be reused once ShookSE confirms the
// handshake.
func (c *Client) BuildShakeAE(username, pass string, sessionKey cryptoenv.Key, state ClientStatePayload) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientShookUEReceived {
		return nil, ErrUnexpectedState
	}

	payload := ShakeAEPayload{
		Username:    username,
		Pass:        pass,
		SymKey:      base64.RawStdEncoding.EncodeToString(sessionKey[:]),
		ClientState: state,
	}
	plaintext, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	sealed, err := cryptoenv.SealOAEP(c.serverKey, plaintext)
	if err != nil {
		return nil, err
	}
	c.sessionKey = sessionKey
	c.state = ClientShakeAESent
	return sealed, nil
}

// ReceivedShookSE completes the handshake, returning the decrypted
// ServerStatePayload.
func (c *Client) ReceivedShookSE(sealed []byte) (ServerStatePayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientShakeAESent {
		return ServerStatePayload{}, ErrUnexpectedState
	}
	plaintext, err := cryptoenv.Open(c.sessionKey, sealed)
	if err != nil {
		return ServerStatePayload{}, err
	}
	var payload ShookSEPayload
	if err := Unmarshal(plaintext, &payload); err != nil {
		return ServerStatePayload{}, err
	}
	c.state = ClientConnected
	return payload.ServerState, nil
}

// SessionKey returns the installed session key once connected.
func (c *Client) SessionKey() cryptoenv.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// Seal implements proto.Sealer against the client's installed session key.
func (c *Client) Seal(plaintext []byte) ([]byte, error) {
	return cryptoenv.Seal(c.SessionKey(), plaintext)
}
