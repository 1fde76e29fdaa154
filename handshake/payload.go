// Package handshake drives the ShakeUE/ShookUE/ShakeAE/ShookSE key-exchange
// sequence that takes a new UDP peer from unauthenticated to holding an
// installed session key, on both the server and client side.
package handshake

import "encoding/json"

// ShookUEPayload is the server's reply to ShakeUE: its ephemeral per-peer
// RSA public key, PEM-encoded.
type ShookUEPayload struct {
	PubKey string `json:"pub_key"`
}

// ShakeAEPayload is the client's credentials and chosen session key,
// encrypted under the server's ShookUE public key. SymKey is the raw
// ChaCha20-Poly1305 key, base64-encoded (unpadded standard alphabet,
// matching the original's STANDARD_NO_PAD).
type ShakeAEPayload struct {
	Username   string             `json:"username"`
	Pass       string             `json:"pass"`
	SymKey     string             `json:"sym_key"`
	ClientState ClientStatePayload `json:"client_state"`
}

// ClientStatePayload describes the viewer surface the client wants frames
// rendered for.
type ClientStatePayload struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// ServerStatePayload is the server's view of the available display
// surfaces, returned in ShookSE so the client can pick a resolution.
type ServerStatePayload struct {
	Widths  []uint16 `json:"widths"`
	Heights []uint16 `json:"heights"`
	Width   uint16   `json:"width"`
	Height  uint16   `json:"height"`
	Header  []byte   `json:"header,omitempty"`
}

// ShookSEPayload is the server's final handshake reply, sealed under the
// now-installed session key.
type ShookSEPayload struct {
	ServerState ServerStatePayload `json:"server_state"`
}

// The Marshal/Unmarshal helpers keep call sites free of the encoding
// package; every handshake payload is small enough that allocating a
// []byte per call carries no meaningful cost.

func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
