package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SessionOutcome is one finished certification attempt, kept in a small
// ring for the snapshot.
type SessionOutcome struct {
	Peer      string    `json:"peer"`
	SessionID string    `json:"session_id"`
	Certified bool      `json:"certified"`
	Reason    string    `json:"reason,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Sessions    SessionMetrics   `json:"sessions"`
	Transport   TransportMetrics `json:"transport"`
	Recent      []SessionOutcome `json:"recent"`
}

type SessionMetrics struct {
	Started      uint64 `json:"started"`
	Certified    uint64 `json:"certified"`
	Failed       uint64 `json:"failed"`
	Timeouts     uint64 `json:"timeouts"`
	BusyRejects  uint64 `json:"busy_rejects"`
	DecryptFails uint64 `json:"decrypt_fails"`
}

type TransportMetrics struct {
	Sent          uint64 `json:"sent"`
	Received      uint64 `json:"received"`
	DropMalformed uint64 `json:"drop_malformed"`
	DropOversize  uint64 `json:"drop_oversize"`
	DropMistarget uint64 `json:"drop_mistarget"`
	SendErrors    uint64 `json:"send_errors"`
}

type Metrics struct {
	sessionStarted   atomic.Uint64
	sessionCertified atomic.Uint64
	sessionFailed    atomic.Uint64
	sessionTimeouts  atomic.Uint64
	busyRejects      atomic.Uint64
	decryptFails     atomic.Uint64
	sent             atomic.Uint64
	received         atomic.Uint64
	dropMalformed    atomic.Uint64
	dropOversize     atomic.Uint64
	dropMistarget    atomic.Uint64
	sendErrors       atomic.Uint64
	recent           *RecentOutcomes
}

func New() *Metrics {
	return &Metrics{recent: NewRecentOutcomes(64)}
}

func (m *Metrics) Recent() *RecentOutcomes {
	return m.recent
}

func (m *Metrics) IncSessionStarted() {
	m.sessionStarted.Add(1)
}

func (m *Metrics) IncSessionCertified() {
	m.sessionCertified.Add(1)
}

func (m *Metrics) IncSessionFailed() {
	m.sessionFailed.Add(1)
}

func (m *Metrics) IncSessionTimeout() {
	m.sessionTimeouts.Add(1)
}

func (m *Metrics) IncBusyReject() {
	m.busyRejects.Add(1)
}

func (m *Metrics) IncDecryptFail() {
	m.decryptFails.Add(1)
}

func (m *Metrics) IncSent() {
	m.sent.Add(1)
}

func (m *Metrics) IncReceived() {
	m.received.Add(1)
}

func (m *Metrics) IncDropMalformed() {
	m.dropMalformed.Add(1)
}

func (m *Metrics) IncDropOversize() {
	m.dropOversize.Add(1)
}

func (m *Metrics) IncDropMistarget() {
	m.dropMistarget.Add(1)
}

func (m *Metrics) IncSendError() {
	m.sendErrors.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []SessionOutcome{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Sessions: SessionMetrics{
			Started:      m.sessionStarted.Load(),
			Certified:    m.sessionCertified.Load(),
			Failed:       m.sessionFailed.Load(),
			Timeouts:     m.sessionTimeouts.Load(),
			BusyRejects:  m.busyRejects.Load(),
			DecryptFails: m.decryptFails.Load(),
		},
		Transport: TransportMetrics{
			Sent:          m.sent.Load(),
			Received:      m.received.Load(),
			DropMalformed: m.dropMalformed.Load(),
			DropOversize:  m.dropOversize.Load(),
			DropMistarget: m.dropMistarget.Load(),
			SendErrors:    m.sendErrors.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type RecentOutcomes struct {
	mu   sync.Mutex
	cap  int
	list []SessionOutcome
}

func NewRecentOutcomes(capacity int) *RecentOutcomes {
	if capacity <= 0 {
		capacity = 64
	}
	return &RecentOutcomes{cap: capacity}
}

func (r *RecentOutcomes) Add(o SessionOutcome) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = o
		return
	}
	r.list = append(r.list, o)
}

func (r *RecentOutcomes) List() []SessionOutcome {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionOutcome, len(r.list))
	copy(out, r.list)
	return out
}
