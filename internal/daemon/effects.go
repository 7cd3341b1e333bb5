package daemon

import (
	"errors"
	"time"

	"peercert/internal/debuglog"
	"peercert/internal/metrics"
	"peercert/internal/peerdir"
	"peercert/internal/proto"
	"peercert/internal/session"
)

func (r *Runner) execute(effects []session.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case session.SendRequest:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeRequestMsg(proto.RequestMsg{
					Type: proto.MsgTypeRequest, From: r.Self, Target: e.To, SessionID: e.SessionID,
				})
			})
		case session.SendAccept:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeAcceptMsg(proto.AcceptMsg{
					Type: proto.MsgTypeAccept, From: r.Self, Target: e.To, SessionID: e.SessionID,
				})
			})
		case session.SendReject:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeRejectMsg(proto.RejectMsg{
					Type: proto.MsgTypeReject, From: r.Self, Target: e.To, SessionID: e.SessionID, Reason: e.Reason,
				})
			})
		case session.SendChallenge:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeChallengeMsg(proto.ChallengeMsg{
					Type: proto.MsgTypeChallenge, From: r.Self, Target: e.To, SessionID: e.SessionID,
					Challenge: proto.EncodeSealedPayload(e.Sealed),
				})
			})
		case session.SendCommitment:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeCommitmentMsg(proto.CommitmentMsg{
					Type: proto.MsgTypeCommitment, From: r.Self, Target: e.To, SessionID: e.SessionID,
					Commitment: e.Digest,
				})
			})
		case session.SendReveal:
			r.sendTo(e.To, e.SessionID, func() ([]byte, error) {
				return proto.EncodeRevealMsg(proto.RevealMsg{
					Type: proto.MsgTypeReveal, From: r.Self, Target: e.To, SessionID: e.SessionID,
					Solution: e.Solution, Nonce: e.Nonce,
				})
			})
		case session.StartTimers:
			r.armTimers(e)
		case session.CancelTimers:
			r.cancelTimers(e.Epoch)
		case session.PromptAccept:
			if r.notify != nil {
				r.notify.PromptAccept(e.From)
			}
		case session.PresentChallenge:
			if r.notify != nil {
				r.notify.PresentChallenge(e.From, e.Text)
			}
		case session.Certified:
			r.onCertified(e.Peer)
		case session.Failed:
			r.onFailed(e.Peer, e.Reason)
		}
	}
}

// sendTo resolves the peer's address and ships one encoded message. A
// missing directory entry or a dead transport both surface to the
// machine as a channel error, which resets the session.
func (r *Runner) sendTo(to, sessionID string, encode func() ([]byte, error)) {
	data, err := encode()
	if err != nil {
		debuglog.Logf("encode failed for %s: %v", to, err)
		r.Dispatch(session.ChannelError{Target: to, Reason: proto.ErrTargetOffline})
		return
	}
	peer, err := r.Peers.Lookup(to)
	if err != nil {
		if errors.Is(err, peerdir.ErrUnknownPeer) {
			debuglog.Sessionf(sessionID, "no address for %s", to)
		}
		r.Metrics.IncSendError()
		r.Dispatch(session.ChannelError{Target: to, Reason: proto.ErrTargetOffline})
		return
	}
	if err := r.sendFn(peer.Addr, data); err != nil {
		debuglog.Sessionf(sessionID, "send to %s (%s) failed: %v", to, peer.Addr, err)
		r.Metrics.IncSendError()
		r.Dispatch(session.ChannelError{Target: to, Reason: proto.ErrTargetOffline})
		return
	}
	r.Metrics.IncSent()
}

func (r *Runner) armTimers(e session.StartTimers) {
	epoch := e.Epoch
	request := time.AfterFunc(e.RequestTimeout, func() {
		r.Dispatch(session.Timeout{Kind: session.TimerRequest, Epoch: epoch})
	})
	// The solve timer outlives the request timer, so its callback also
	// drops the epoch's handles from the map.
	solve := time.AfterFunc(e.SolveTimeout, func() {
		r.Dispatch(session.Timeout{Kind: session.TimerSolve, Epoch: epoch})
		r.timerMu.Lock()
		delete(r.timers, epoch)
		r.timerMu.Unlock()
	})
	r.timerMu.Lock()
	r.timers[epoch] = append(r.timers[epoch], request, solve)
	r.timerMu.Unlock()
}

func (r *Runner) cancelTimers(epoch uint64) {
	r.timerMu.Lock()
	ts := r.timers[epoch]
	delete(r.timers, epoch)
	r.timerMu.Unlock()
	for _, t := range ts {
		t.Stop()
	}
}

func (r *Runner) onCertified(peer string) {
	added, err := r.Ledger.Add(peer)
	if err != nil {
		debuglog.Logf("ledger append failed for %s: %v", peer, err)
	}
	if added {
		debuglog.Logf("certified %s", peer)
	}
	r.Metrics.IncSessionCertified()
	r.Metrics.Recent().Add(metrics.SessionOutcome{
		Peer: peer, SessionID: "", Certified: true, EndedAt: time.Now().UTC(),
	})
	if r.notify != nil {
		r.notify.Certified(peer)
	}
}

func (r *Runner) onFailed(peer string, reason session.FailureReason) {
	if peer != "" {
		if _, err := r.Ledger.RecordFailure(peer); err != nil {
			debuglog.Debugf("failure record for %s: %v", peer, err)
		}
	}
	r.Metrics.IncSessionFailed()
	switch reason {
	case session.ReasonTimeout:
		r.Metrics.IncSessionTimeout()
	case session.ReasonDecryptionFailure:
		r.Metrics.IncDecryptFail()
	}
	r.Metrics.Recent().Add(metrics.SessionOutcome{
		Peer: peer, Certified: false, Reason: string(reason), EndedAt: time.Now().UTC(),
	})
	if r.notify != nil {
		r.notify.Failed(peer, reason)
	}
}
