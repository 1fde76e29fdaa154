package cryptoenv

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"

	"golang.org/x/crypto/blake2b"
	"lukechampine.com/frand"
)

// ErrOAEPFailed is returned when RSA-OAEP unwrapping fails, e.g. a peer
// encrypted under a stale or mismatched public key.
var ErrOAEPFailed = errors.New("cryptoenv: RSA-OAEP open failed")

// PeerKeyPair is the short-lived RSA keypair a server generates for one
// peer at ShakeUE. It is discarded the moment the session key is
// installed at ShakeAE — see Fingerprint for a safe way to reference a
// key in logs without retaining it.
type PeerKeyPair struct {
	Private *rsa.PrivateKey
}

// GeneratePeerKeyPair creates a fresh per-peer RSA keypair, sourcing
// randomness from frand rather than crypto/rand directly (see
// cryptoenv.GenerateKey).
func GeneratePeerKeyPair() (*PeerKeyPair, error) {
	priv, err := rsa.GenerateKey(frand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &PeerKeyPair{Private: priv}, nil
}

// PublicPEM renders the PKCS#1 public key as PEM, the wire format the
// ShookUE payload carries.
func (kp *PeerKeyPair) PublicPEM() string {
	der := x509.MarshalPKCS1PublicKey(&kp.Private.PublicKey)
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// Fingerprint returns the first 16 bytes of the blake2b-256 digest of the
// public key's DER encoding, hex-encoded, safe to log in place of the full PEM when tracing a
// handshake's progress.
func (kp *PeerKeyPair) Fingerprint() string {
	der := x509.MarshalPKCS1PublicKey(&kp.Private.PublicKey)
	sum := blake2b.Sum256(der)
	return hex.EncodeToString(sum[:16])
}

// ParsePublicPEM parses a PKCS#1 PEM-encoded RSA public key, the client
// side of ShookUE.
func ParsePublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("cryptoenv: no PEM block found")
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// SealOAEP wraps plaintext under pub using RSA-OAEP(SHA-256), the
// ShakeAE payload's outer envelope.
func SealOAEP(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), frand.Reader, pub, plaintext, nil)
}

// OpenOAEP unwraps an RSA-OAEP(SHA-256) envelope using the server's
// per-peer private key. Any failure (bad padding, wrong key, truncated
// input) collapses to ErrOAEPFailed.
func OpenOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), frand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrOAEPFailed
	}
	return plaintext, nil
}
