package challenge

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Alphabet excludes visually ambiguous characters (0/O, 1/I/L).
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	DefaultLength = 6
	MaxLength     = 64

	labelDerive = "ppe:challenge:v1"
)

// Challenge pairs a displayable puzzle text with its canonical solution.
// The solution never leaves the generating side before reveal; only the
// text is transmitted, sealed.
type Challenge struct {
	Text     string
	Solution string
}

// Generate produces a challenge with a solution of length characters drawn
// from Alphabet using crypto/rand.
func Generate(length int) (Challenge, error) {
	if length <= 0 {
		length = DefaultLength
	}
	if length > MaxLength {
		return Challenge{}, errors.New("challenge length too large")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, err
	}
	sol := make([]byte, length)
	for i, b := range buf {
		sol[i] = Alphabet[int(b)%len(Alphabet)]
	}
	solution := string(sol)
	return Challenge{Text: Render(solution), Solution: solution}, nil
}

// Derive regenerates a challenge byte-for-byte from (secret, sessionID).
// Used by the one-sided registration flow where the issuer must be able to
// reproduce the solution later without storing it.
func Derive(secret, sessionID string, length int) (Challenge, error) {
	if secret == "" || sessionID == "" {
		return Challenge{}, errors.New("empty derive material")
	}
	if length <= 0 {
		length = DefaultLength
	}
	if length > MaxLength {
		return Challenge{}, errors.New("challenge length too large")
	}
	sol := make([]byte, 0, length)
	for block := uint64(0); len(sol) < length; block++ {
		sum := deriveBlock(secret, sessionID, block)
		for _, b := range sum {
			if len(sol) == length {
				break
			}
			sol = append(sol, Alphabet[int(b)%len(Alphabet)])
		}
	}
	solution := string(sol)
	return Challenge{Text: Render(solution), Solution: solution}, nil
}

func deriveBlock(secret, sessionID string, block uint64) []byte {
	buf := make([]byte, 0, len(labelDerive)+len(secret)+1+len(sessionID)+8)
	buf = append(buf, []byte(labelDerive)...)
	buf = append(buf, []byte(secret)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(sessionID)...)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], block)
	buf = append(buf, tmp[:]...)
	sum := sha3.Sum256(buf)
	return sum[:]
}

// Render derives the display text from a solution by inserting single
// spaces between characters. The transform is public and invertible so a
// verifier can recompute the expected answer from the text alone.
func Render(solution string) string {
	if solution == "" {
		return ""
	}
	parts := make([]string, len(solution))
	for i := 0; i < len(solution); i++ {
		parts[i] = string(solution[i])
	}
	return strings.Join(parts, " ")
}

// SolutionFromText inverts Render.
func SolutionFromText(text string) string {
	return stripSpace(text)
}

// VerifySolution reports whether solution matches the canonical solution
// embedded in text. Comparison is case- and whitespace-insensitive.
func VerifySolution(text, solution string) bool {
	expected := strings.ToLower(stripSpace(text))
	provided := strings.ToLower(stripSpace(solution))
	if expected == "" || provided == "" {
		return false
	}
	return expected == provided
}

func stripSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
