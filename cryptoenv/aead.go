// Package cryptoenv implements the symmetric and asymmetric envelopes that
// bind streaming payloads to an authenticated session: a ChaCha20-Poly1305
// AEAD envelope for frame payloads, and RSA-OAEP wrapping for the
// session-key bootstrap exchanged during the handshake.
package cryptoenv

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/frand"
)

// ErrOpenFailed is returned when AEAD decryption fails — a corrupted,
// truncated, or forged envelope. Callers treat this as a single-frame cost
// and never surface it to the user (see proto.KindDecryptFailed).
var ErrOpenFailed = errors.New("cryptoenv: AEAD open failed")

// Key is a ChaCha20-Poly1305 session key installed on a peer record after
// a successful ShakeAE/ShookSE exchange. It is a cheaply cloneable value:
// broadcasters copy it before sending rather than holding a registry lock
// across the encrypt call.
type Key [chacha20poly1305.KeySize]byte

// GenerateKey returns a fresh random session key, sourced from frand's
// CSPRNG rather than crypto/rand directly, matching the teacher's
// generateX25519KeyPair convention of reading key material through frand.
func GenerateKey() Key {
	var k Key
	frand.Read(k[:])
	return k
}

// KeyFromBytes validates and wraps b as a session Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != len(k) {
		return k, errors.New("cryptoenv: invalid key length")
	}
	copy(k[:], b)
	return k, nil
}

// Seal encrypts plaintext under k with a freshly generated 12-byte nonce
// and returns ciphertext || tag || nonce, with empty associated data. This
// is the wire layout of every encrypted frame (NAL, Audio, InputState,
// ClientState, ServerState, ShookSE).
func Seal(k Key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	frand.Read(nonce)

	out := make([]byte, 0, len(plaintext)+aead.Overhead()+len(nonce))
	out = aead.Seal(out, nonce, plaintext, nil)
	out = append(out, nonce...)
	return out, nil
}

// Open reads the trailing 12 bytes of sealed as the nonce and
// decrypts the prefix (ciphertext || tag) against k with empty associated
// data. It returns ErrOpenFailed on any authentication failure or
// malformed envelope, never exposing the underlying AEAD error to callers
// (crypto failures are never surfaced to the user).
func Open(k Key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return nil, ErrOpenFailed
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrOpenFailed
	}
	nonceOffset := len(sealed) - aead.NonceSize()
	nonce := sealed[nonceOffset:]
	ciphertext := sealed[:nonceOffset]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
