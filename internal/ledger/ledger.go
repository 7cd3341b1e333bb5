package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Ledger is the append-only set of peers this actor has certified, plus
// failure bookkeeping for the exclusion threshold. Entries are never
// removed: a certified edge is not revoked by later runs. Only the owning
// actor writes it, on the terminal certified transition, never directly
// from network input.
type Ledger struct {
	mu       sync.Mutex
	path     string
	entries  map[string]time.Time
	failures map[string]int
}

type record struct {
	Kind        string    `json:"kind"` // "certified" or "failure"
	PeerID      string    `json:"peer_id"`
	CertifiedAt time.Time `json:"certified_at,omitempty"`
}

// New returns an in-memory ledger. Path may be empty; otherwise entries
// are persisted as JSONL and reloaded on construction.
func New(path string) (*Ledger, error) {
	l := &Ledger{
		path:     path,
		entries:  make(map[string]time.Time),
		failures: make(map[string]int),
	}
	if path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 16*1024), 1<<20)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Kind {
		case "certified":
			if r.PeerID != "" {
				l.entries[r.PeerID] = r.CertifiedAt
			}
		case "failure":
			if r.PeerID != "" {
				l.failures[r.PeerID]++
			}
		}
	}
	return sc.Err()
}

func (l *Ledger) appendRecord(r record) error {
	if l.path == "" {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(r); err != nil {
		return err
	}
	return f.Sync()
}

// Add records a certified edge. Idempotent: re-adding an existing peer is
// a no-op and reports false.
func (l *Ledger) Add(peerID string) (bool, error) {
	if peerID == "" {
		return false, errors.New("empty peer id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[peerID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	if err := l.appendRecord(record{Kind: "certified", PeerID: peerID, CertifiedAt: now}); err != nil {
		return false, err
	}
	l.entries[peerID] = now
	return true, nil
}

func (l *Ledger) Contains(peerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[peerID]
	return ok
}

// All returns the certified peers, sorted for stable output.
func (l *Ledger) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for id := range l.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RecordFailure counts a failed exchange with a peer. Failures feed the
// poll's exclusion threshold; they never remove certified entries.
func (l *Ledger) RecordFailure(peerID string) (int, error) {
	if peerID == "" {
		return 0, errors.New("empty peer id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendRecord(record{Kind: "failure", PeerID: peerID}); err != nil {
		return 0, err
	}
	l.failures[peerID]++
	return l.failures[peerID], nil
}

func (l *Ledger) Failures(peerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[peerID]
}

func (l *Ledger) TotalFailures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.failures {
		total += n
	}
	return total
}

// Eligible reports whether the local actor may vote: every assigned
// neighbor is certified and the poll's minimum count is met. The
// threshold policy itself is poll configuration, not ledger state.
func (l *Ledger) Eligible(neighbors []string, minCount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) < minCount {
		return false
	}
	for _, n := range neighbors {
		if _, ok := l.entries[n]; !ok {
			return false
		}
	}
	return true
}
