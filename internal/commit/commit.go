package commit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	labelCommit = "ppe:commit:v1"
	NonceBytes  = 16
)

// Commitment binds a peer to a solution before disclosure. The digest is
// published first; the solution and nonce follow in the reveal step.
type Commitment struct {
	Digest string
}

// NewNonce returns a fresh per-session nonce. Low-entropy solutions make a
// bare hash susceptible to table lookup, so the nonce is part of the
// committed input and stays private until reveal.
func NewNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Commit hashes the normalized solution together with the nonce.
func Commit(solution, nonce string) Commitment {
	buf := make([]byte, 0, len(labelCommit)+len(solution)+1+len(nonce))
	buf = append(buf, []byte(labelCommit)...)
	buf = append(buf, []byte(Normalize(solution))...)
	buf = append(buf, '|')
	buf = append(buf, []byte(nonce)...)
	sum := sha3.Sum256(buf)
	return Commitment{Digest: hex.EncodeToString(sum[:])}
}

// Open recomputes the commitment and compares digests. A mismatch is a
// protocol failure, reported as false rather than an error.
func Open(solution, nonce string, c Commitment) bool {
	want, err := hex.DecodeString(c.Digest)
	if err != nil || len(want) != 32 {
		return false
	}
	got, err := hex.DecodeString(Commit(solution, nonce).Digest)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// ParseDigest validates a hex digest received off the wire.
func ParseDigest(s string) (Commitment, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return Commitment{}, errors.New("bad commitment digest")
	}
	return Commitment{Digest: strings.ToLower(s)}, nil
}

// Normalize lower-cases, trims, and strips interior whitespace so that
// commitment and verification agree on the same canonical answer.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
