package securechan

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const (
	labelPairKey = "ppe:chan:v1"

	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
)

// ErrDecrypt is returned on tamper or key mismatch. Callers map it to a
// session failure, never a retry.
var ErrDecrypt = errors.New("decrypt failed")

// PairKey derives the shared key for a peer pair by sorting the two ids
// lexicographically and hashing under a versioned label. Both sides derive
// the same key with no extra round trip; the key is computable by anyone
// who knows both ids, which is acceptable because ids are public poll data
// and the sealing only shields challenge text from third parties on a
// shared channel.
func PairKey(a, b string) []byte {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	buf := make([]byte, 0, len(labelPairKey)+len(lo)+1+len(hi))
	buf = append(buf, []byte(labelPairKey)...)
	buf = append(buf, []byte(lo)...)
	buf = append(buf, '|')
	buf = append(buf, []byte(hi)...)
	sum := sha3.Sum256(buf)
	return sum[:]
}

// Seal encrypts plaintext under key with a random XChaCha20-Poly1305 nonce
// and returns nonce||ciphertext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("bad key size")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Open reverses Seal. Any malformed or unauthenticated blob yields ErrDecrypt.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("bad key size")
	}
	if len(blob) < NonceSize {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// BuildAAD binds a sealed payload to its message type, endpoints, and
// session so a blob cannot be replayed into a different exchange.
func BuildAAD(msgType, from, target, sessionID string) []byte {
	parts := []string{msgType, from, target, sessionID}
	size := 0
	for _, p := range parts {
		size += 2 + len(p)
	}
	buf := make([]byte, 0, size)
	var tmp [2]byte
	for _, p := range parts {
		binary.BigEndian.PutUint16(tmp[:], uint16(len(p)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, []byte(p)...)
	}
	return buf
}
