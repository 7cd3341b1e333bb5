package session

import "time"

// State of the local half of a certification exchange. The remote peer
// runs the mirror-image machine.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateWaitingForChallenge
	StateChallenging
	StateSolving
	StateRevealing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateWaitingForChallenge:
		return "waiting_for_challenge"
	case StateChallenging:
		return "challenging"
	case StateSolving:
		return "solving"
	case StateRevealing:
		return "revealing"
	default:
		return "unknown"
	}
}

type TimerKind int

const (
	// TimerRequest bounds the wait for the exchange to get going: accept
	// and the peer's challenge. TimerSolve bounds the whole exchange.
	// Both are armed at session entry and cancelled on terminal reset.
	TimerRequest TimerKind = iota
	TimerSolve
)

func (k TimerKind) String() string {
	if k == TimerRequest {
		return "request"
	}
	return "solve"
}

// FailureReason is surfaced to the external notifier when a session ends
// without certification. No reason is fatal to the node; every failure
// permits a fresh attempt.
type FailureReason string

const (
	ReasonRejected           FailureReason = "rejected"
	ReasonPeerBusy           FailureReason = "peer_busy"
	ReasonDecryptionFailure  FailureReason = "decryption_failure"
	ReasonCommitmentMismatch FailureReason = "commitment_mismatch"
	ReasonSelfCheckMismatch  FailureReason = "self_check_mismatch"
	ReasonTimeout            FailureReason = "timeout"
	ReasonChannelUnavailable FailureReason = "channel_unavailable"
	ReasonCancelled          FailureReason = "cancelled"
	ReasonInternal           FailureReason = "internal"
)

// Event is the tagged union fed to Machine.Handle. Everything that can
// move a session (local actions, inbound messages, timers) is an Event,
// so transitions live in one exhaustive switch.
type Event interface{ isEvent() }

// Local actor decides to certify with Target.
type Initiate struct{ Target string }

// Local answer to a PromptAccept effect.
type Decide struct {
	Peer   string
	Accept bool
}

// Local solver submits an answer to the presented puzzle.
type Submit struct{ Solution string }

// Explicit local cancellation. Idempotent; a no-op when idle.
type Cancel struct{}

// A timer armed by a StartTimers effect fired. Stale epochs are ignored.
type Timeout struct {
	Kind  TimerKind
	Epoch uint64
}

type RecvRequest struct{ From, SessionID string }

type RecvAccept struct{ From, SessionID string }

type RecvReject struct{ From, SessionID, Reason string }

type RecvChallenge struct {
	From, SessionID string
	Sealed          []byte
}

type RecvCommitment struct{ From, SessionID, Digest string }

type RecvReveal struct{ From, SessionID, Solution, Nonce string }

// ChannelError is the transport's error signal (e.g. target_offline).
type ChannelError struct{ Target, Reason string }

func (Initiate) isEvent()       {}
func (Decide) isEvent()         {}
func (Submit) isEvent()         {}
func (Cancel) isEvent()         {}
func (Timeout) isEvent()        {}
func (RecvRequest) isEvent()    {}
func (RecvAccept) isEvent()     {}
func (RecvReject) isEvent()     {}
func (RecvChallenge) isEvent()  {}
func (RecvCommitment) isEvent() {}
func (RecvReveal) isEvent()     {}
func (ChannelError) isEvent()   {}

// Effect is a side effect requested by a transition. The machine never
// touches the network, timers, or the ledger directly; the daemon executes
// effects, which keeps transitions deterministic under test.
type Effect interface{ isEffect() }

type SendRequest struct{ To, SessionID string }

type SendAccept struct{ To, SessionID string }

type SendReject struct{ To, SessionID, Reason string }

type SendChallenge struct {
	To, SessionID string
	Sealed        []byte
}

type SendCommitment struct{ To, SessionID, Digest string }

type SendReveal struct{ To, SessionID, Solution, Nonce string }

// StartTimers arms the request and solve timers for the current epoch.
type StartTimers struct {
	Epoch          uint64
	RequestTimeout time.Duration
	SolveTimeout   time.Duration
}

// CancelTimers releases timers for an epoch that reached a terminal state.
// Firing a cancelled timer is harmless; the epoch guard drops it.
type CancelTimers struct{ Epoch uint64 }

// PromptAccept asks the external collaborator (UI, REPL) whether to accept
// an inbound certification request. Answered with a Decide event.
type PromptAccept struct{ From string }

// PresentChallenge hands the decrypted puzzle text to the local solver.
// Answered with a Submit event.
type PresentChallenge struct{ From, Text string }

// Certified reports a successful exchange; the owner appends to the
// ledger. Network input never mutates the ledger directly.
type Certified struct{ Peer string }

// Failed reports a terminal failure with a reason from the taxonomy.
type Failed struct {
	Peer   string
	Reason FailureReason
}

func (SendRequest) isEffect()      {}
func (SendAccept) isEffect()       {}
func (SendReject) isEffect()       {}
func (SendChallenge) isEffect()    {}
func (SendCommitment) isEffect()   {}
func (SendReveal) isEffect()       {}
func (StartTimers) isEffect()      {}
func (CancelTimers) isEffect()     {}
func (PromptAccept) isEffect()     {}
func (PresentChallenge) isEffect() {}
func (Certified) isEffect()        {}
func (Failed) isEffect()           {}
