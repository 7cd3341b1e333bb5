package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"peercert/internal/challenge"
	"peercert/internal/commit"
	"peercert/internal/securechan"
)

const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultSolveTimeout    = 30 * time.Second
	DefaultChallengeLength = 6
)

type Config struct {
	RequestTimeout  time.Duration
	SolveTimeout    time.Duration
	ChallengeLength int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SolveTimeout <= 0 {
		c.SolveTimeout = DefaultSolveTimeout
	}
	if c.ChallengeLength <= 0 {
		c.ChallengeLength = DefaultChallengeLength
	}
	return c
}

// Machine drives the full request → challenge → commit → reveal lifecycle
// for one local actor. One live session at a time: a second request gets a
// busy reject and leaves the active session untouched. All state is
// mutated only inside Handle, behind one mutex, so the machine behaves as
// a single sequential event processor no matter how many goroutines feed
// it.
type Machine struct {
	mu   sync.Mutex
	self string
	cfg  Config
	now  func() time.Time

	state     State
	peer      string
	sessionID string
	startedAt time.Time

	// epoch bumps whenever a session or pending prompt opens or resets;
	// timer events from an older epoch are no-ops.
	epoch uint64

	myChallenge        challenge.Challenge
	peerChallengeText  string
	mySolution         string
	myNonce            string
	committed          bool
	revealSent         bool
	peerCommitment     commit.Commitment
	havePeerCommitment bool

	// Inbound request waiting on the local accept/reject decision. No
	// session exists yet, but the node counts as busy.
	pendingPeer    string
	pendingSession string
}

func NewMachine(self string, cfg Config) *Machine {
	return &Machine{
		self:  self,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateIdle,
	}
}

func (m *Machine) Self() string { return m.self }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Peer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

func (m *Machine) PendingPeer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingPeer
}

func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Machine) StartedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	busy := m.state != StateIdle || m.pendingPeer != ""
	return m.startedAt, busy
}

// Busy reports whether a new exchange may not start right now.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle || m.pendingPeer != ""
}

// Handle applies one event and returns the side effects the owner must
// execute. Events that do not fit the current (state, peer, session) are
// dropped as reordering noise and return no effects.
func (m *Machine) Handle(ev Event) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e := ev.(type) {
	case Initiate:
		return m.onInitiate(e)
	case Decide:
		return m.onDecide(e)
	case Submit:
		return m.onSubmit(e)
	case Cancel:
		return m.onCancel()
	case Timeout:
		return m.onTimeout(e)
	case RecvRequest:
		return m.onRequest(e)
	case RecvAccept:
		return m.onAccept(e)
	case RecvReject:
		return m.onReject(e)
	case RecvChallenge:
		return m.onChallenge(e)
	case RecvCommitment:
		return m.onCommitment(e)
	case RecvReveal:
		return m.onReveal(e)
	case ChannelError:
		return m.onChannelError(e)
	default:
		return nil
	}
}

func (m *Machine) onInitiate(e Initiate) []Effect {
	if m.state != StateIdle || m.pendingPeer != "" {
		return nil
	}
	if e.Target == "" || e.Target == m.self {
		return nil
	}
	m.openSession(e.Target, uuid.NewString(), StateRequesting)
	return []Effect{
		SendRequest{To: m.peer, SessionID: m.sessionID},
		m.startTimers(),
	}
}

func (m *Machine) onRequest(e RecvRequest) []Effect {
	if e.From == "" || e.From == m.self || e.SessionID == "" {
		return nil
	}
	if m.state != StateIdle {
		if e.From == m.peer && e.SessionID == m.sessionID {
			// Retry of the request that opened this session.
			return nil
		}
		return []Effect{SendReject{To: e.From, SessionID: e.SessionID, Reason: "busy"}}
	}
	if m.pendingPeer != "" {
		if e.From == m.pendingPeer && e.SessionID == m.pendingSession {
			return nil
		}
		return []Effect{SendReject{To: e.From, SessionID: e.SessionID, Reason: "busy"}}
	}
	m.pendingPeer = e.From
	m.pendingSession = e.SessionID
	m.startedAt = m.now()
	m.epoch++
	return []Effect{
		PromptAccept{From: e.From},
		StartTimers{Epoch: m.epoch, RequestTimeout: m.cfg.RequestTimeout, SolveTimeout: m.cfg.SolveTimeout},
	}
}

func (m *Machine) onDecide(e Decide) []Effect {
	if m.pendingPeer == "" || e.Peer != m.pendingPeer {
		return nil
	}
	peer := m.pendingPeer
	sid := m.pendingSession
	if !e.Accept {
		m.resetLocked()
		return []Effect{SendReject{To: peer, SessionID: sid, Reason: "declined"}}
	}
	m.openSession(peer, sid, StateWaitingForChallenge)
	sendCh, err := m.buildChallenge()
	if err != nil {
		m.resetLocked()
		return []Effect{Failed{Peer: peer, Reason: ReasonInternal}}
	}
	return []Effect{
		SendAccept{To: peer, SessionID: sid},
		sendCh,
		m.startTimers(),
	}
}

func (m *Machine) onAccept(e RecvAccept) []Effect {
	if m.state != StateRequesting || e.From != m.peer || e.SessionID != m.sessionID {
		return nil
	}
	sendCh, err := m.buildChallenge()
	if err != nil {
		return m.failLocked(ReasonInternal)
	}
	m.state = StateChallenging
	return []Effect{sendCh}
}

func (m *Machine) onReject(e RecvReject) []Effect {
	if m.state == StateIdle || e.From != m.peer {
		return nil
	}
	if e.SessionID != "" && e.SessionID != m.sessionID {
		return nil
	}
	reason := ReasonRejected
	if e.Reason == "busy" {
		reason = ReasonPeerBusy
	}
	return m.failLocked(reason)
}

func (m *Machine) onChallenge(e RecvChallenge) []Effect {
	if m.state != StateChallenging && m.state != StateWaitingForChallenge {
		return nil
	}
	if e.From != m.peer || e.SessionID != m.sessionID {
		return nil
	}
	key := securechan.PairKey(m.self, m.peer)
	aad := securechan.BuildAAD("challenge", m.peer, m.self, m.sessionID)
	plain, err := securechan.Open(key, e.Sealed, aad)
	if err != nil {
		return m.failLocked(ReasonDecryptionFailure)
	}
	m.peerChallengeText = string(plain)
	m.state = StateSolving
	return []Effect{PresentChallenge{From: m.peer, Text: m.peerChallengeText}}
}

func (m *Machine) onSubmit(e Submit) []Effect {
	if m.state != StateSolving || e.Solution == "" {
		return nil
	}
	nonce, err := commit.NewNonce()
	if err != nil {
		return m.failLocked(ReasonInternal)
	}
	m.mySolution = e.Solution
	m.myNonce = nonce
	m.committed = true
	m.state = StateRevealing
	effects := []Effect{
		SendCommitment{To: m.peer, SessionID: m.sessionID, Digest: commit.Commit(e.Solution, nonce).Digest},
	}
	// Commit-before-see: the reveal goes out only once both our solution
	// and the peer's commitment exist, whichever arrived last.
	if m.havePeerCommitment && !m.revealSent {
		m.revealSent = true
		effects = append(effects, SendReveal{To: m.peer, SessionID: m.sessionID, Solution: m.mySolution, Nonce: m.myNonce})
	}
	return effects
}

func (m *Machine) onCommitment(e RecvCommitment) []Effect {
	if m.state == StateIdle || e.From != m.peer || e.SessionID != m.sessionID {
		return nil
	}
	parsed, err := commit.ParseDigest(e.Digest)
	if err != nil {
		// Malformed digest: out-of-protocol noise, not a session failure.
		return nil
	}
	if m.havePeerCommitment {
		return nil
	}
	m.peerCommitment = parsed
	m.havePeerCommitment = true
	if m.committed && !m.revealSent {
		m.revealSent = true
		return []Effect{SendReveal{To: m.peer, SessionID: m.sessionID, Solution: m.mySolution, Nonce: m.myNonce}}
	}
	return nil
}

func (m *Machine) onReveal(e RecvReveal) []Effect {
	if m.state != StateRevealing || e.From != m.peer || e.SessionID != m.sessionID {
		return nil
	}
	if !m.havePeerCommitment {
		return nil
	}
	if !commit.Open(e.Solution, e.Nonce, m.peerCommitment) {
		return m.failLocked(ReasonCommitmentMismatch)
	}
	// The commitment alone is not enough: the revealed answer must solve
	// the challenge this actor issued, or any replayed pair would pass.
	if !challenge.VerifySolution(m.myChallenge.Text, e.Solution) {
		return m.failLocked(ReasonSelfCheckMismatch)
	}
	peer := m.peer
	epoch := m.epoch
	m.resetLocked()
	return []Effect{
		Certified{Peer: peer},
		CancelTimers{Epoch: epoch},
	}
}

func (m *Machine) onTimeout(e Timeout) []Effect {
	if e.Epoch != m.epoch {
		return nil
	}
	if m.pendingPeer != "" {
		peer := m.pendingPeer
		m.resetLocked()
		return []Effect{Failed{Peer: peer, Reason: ReasonTimeout}}
	}
	if m.state == StateIdle {
		return nil
	}
	if e.Kind == TimerRequest {
		switch m.state {
		case StateRequesting, StateWaitingForChallenge, StateChallenging:
		default:
			// The exchange is under way; only the solve bound applies.
			return nil
		}
	}
	return m.failLocked(ReasonTimeout)
}

func (m *Machine) onCancel() []Effect {
	if m.pendingPeer != "" {
		peer := m.pendingPeer
		sid := m.pendingSession
		epoch := m.epoch
		m.resetLocked()
		return []Effect{
			SendReject{To: peer, SessionID: sid, Reason: "declined"},
			Failed{Peer: peer, Reason: ReasonCancelled},
			CancelTimers{Epoch: epoch},
		}
	}
	if m.state == StateIdle {
		return nil
	}
	peer := m.peer
	sid := m.sessionID
	epoch := m.epoch
	m.resetLocked()
	return []Effect{
		SendReject{To: peer, SessionID: sid, Reason: "declined"},
		Failed{Peer: peer, Reason: ReasonCancelled},
		CancelTimers{Epoch: epoch},
	}
}

func (m *Machine) onChannelError(e ChannelError) []Effect {
	if m.state == StateIdle || e.Target != m.peer {
		return nil
	}
	return m.failLocked(ReasonChannelUnavailable)
}

func (m *Machine) openSession(peer, sessionID string, st State) {
	m.clearSessionData()
	m.state = st
	m.peer = peer
	m.sessionID = sessionID
	m.startedAt = m.now()
	m.epoch++
}

func (m *Machine) buildChallenge() (Effect, error) {
	ch, err := challenge.Generate(m.cfg.ChallengeLength)
	if err != nil {
		return nil, err
	}
	m.myChallenge = ch
	key := securechan.PairKey(m.self, m.peer)
	aad := securechan.BuildAAD("challenge", m.self, m.peer, m.sessionID)
	sealed, err := securechan.Seal(key, []byte(ch.Text), aad)
	if err != nil {
		return nil, err
	}
	return SendChallenge{To: m.peer, SessionID: m.sessionID, Sealed: sealed}, nil
}

func (m *Machine) startTimers() Effect {
	return StartTimers{
		Epoch:          m.epoch,
		RequestTimeout: m.cfg.RequestTimeout,
		SolveTimeout:   m.cfg.SolveTimeout,
	}
}

func (m *Machine) failLocked(reason FailureReason) []Effect {
	peer := m.peer
	epoch := m.epoch
	m.resetLocked()
	return []Effect{
		Failed{Peer: peer, Reason: reason},
		CancelTimers{Epoch: epoch},
	}
}

// resetLocked clears everything back to idle. Epoch bumps so that timers
// armed for the finished session can never fire into the next one.
func (m *Machine) resetLocked() {
	m.clearSessionData()
	m.state = StateIdle
	m.epoch++
}

func (m *Machine) clearSessionData() {
	m.peer = ""
	m.sessionID = ""
	m.startedAt = time.Time{}
	m.myChallenge = challenge.Challenge{}
	m.peerChallengeText = ""
	m.mySolution = ""
	m.myNonce = ""
	m.committed = false
	m.revealSent = false
	m.peerCommitment = commit.Commitment{}
	m.havePeerCommitment = false
	m.pendingPeer = ""
	m.pendingSession = ""
}
