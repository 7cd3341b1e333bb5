package assign

import (
	"encoding/binary"
	"errors"
	"sort"

	"golang.org/x/crypto/sha3"
)

const labelEdge = "ppe:edge:v1"

// Neighbor assignment for the certification graph. An edge (i, j) exists
// iff H(sid, min, max) < p with p = d/m, so every participant computes
// the same symmetric neighborhood from public data and no coordinator is
// needed. The poll session id keys the hash to prevent cross-poll reuse
// of a favorable graph.

type Params struct {
	// PollSession is the unique poll session id (sid).
	PollSession string
	// ExpectedDegree is d, the target number of neighbors per node.
	ExpectedDegree int
}

// EdgeProbability returns p = d/m clamped to [0, 1].
func EdgeProbability(expectedDegree, total int) float64 {
	if total <= 0 || expectedDegree <= 0 {
		return 0
	}
	p := float64(expectedDegree) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

// HasEdge reports whether the (a, b) edge exists. Symmetric in a and b.
func HasEdge(pollSession, a, b string, p float64) bool {
	if a == b || a == "" || b == "" {
		return false
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	buf := make([]byte, 0, len(labelEdge)+len(pollSession)+len(lo)+len(hi)+3)
	buf = append(buf, []byte(labelEdge)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(pollSession)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(lo)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(hi)...)
	sum := sha3.Sum256(buf)
	// First 8 bytes as a binary fraction in [0, 1).
	frac := float64(binary.BigEndian.Uint64(sum[:8])) / float64(1<<63) / 2
	return frac < p
}

// Neighbors computes the neighborhood of self among all participants.
func Neighbors(params Params, self string, all []string) ([]string, error) {
	if self == "" {
		return nil, errors.New("empty self id")
	}
	if params.PollSession == "" {
		return nil, errors.New("empty poll session")
	}
	p := EdgeProbability(params.ExpectedDegree, len(all))
	var out []string
	for _, id := range all {
		if id == self {
			continue
		}
		if HasEdge(params.PollSession, self, id, p) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
