package daemon

import (
	"encoding/json"
	"time"

	"peercert/internal/debuglog"
	"peercert/internal/proto"
	"peercert/internal/session"
)

// HandleRaw demultiplexes one inbound payload into a session event.
// Anything that fails to decode is counted and dropped; the machine only
// ever sees well-formed events addressed to this node.
func (r *Runner) HandleRaw(data []byte) {
	r.Metrics.IncReceived()
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil || !proto.KnownType(hdr.Type) {
		r.Metrics.IncDropMalformed()
		debuglog.RateLimitedf("drop-malformed", 5*time.Second, "dropping malformed message")
		return
	}
	if max := proto.MaxSizeForType(hdr.Type); len(data) > max {
		r.Metrics.IncDropOversize()
		return
	}
	switch hdr.Type {
	case proto.MsgTypeRequest:
		m, err := proto.DecodeRequestMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		debuglog.Sessionf(m.SessionID, "recv request from %s", m.From)
		r.Dispatch(session.RecvRequest{From: m.From, SessionID: m.SessionID})
	case proto.MsgTypeAccept:
		m, err := proto.DecodeAcceptMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		debuglog.Sessionf(m.SessionID, "recv accept from %s", m.From)
		r.Dispatch(session.RecvAccept{From: m.From, SessionID: m.SessionID})
	case proto.MsgTypeReject:
		m, err := proto.DecodeRejectMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		if m.Reason == proto.RejectReasonBusy {
			r.Metrics.IncBusyReject()
		}
		debuglog.Sessionf(m.SessionID, "recv reject from %s reason=%s", m.From, m.Reason)
		r.Dispatch(session.RecvReject{From: m.From, SessionID: m.SessionID, Reason: m.Reason})
	case proto.MsgTypeChallenge:
		m, err := proto.DecodeChallengeMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		sealed, err := proto.DecodeSealedPayload(m.Challenge)
		if err != nil {
			r.Metrics.IncDropMalformed()
			return
		}
		debuglog.Sessionf(m.SessionID, "recv challenge from %s (%d sealed bytes)", m.From, len(sealed))
		r.Dispatch(session.RecvChallenge{From: m.From, SessionID: m.SessionID, Sealed: sealed})
	case proto.MsgTypeCommitment:
		m, err := proto.DecodeCommitmentMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		debuglog.Sessionf(m.SessionID, "recv commitment from %s", m.From)
		r.Dispatch(session.RecvCommitment{From: m.From, SessionID: m.SessionID, Digest: m.Commitment})
	case proto.MsgTypeReveal:
		m, err := proto.DecodeRevealMsg(data)
		if err != nil || !r.addressedToMe(m.Target) {
			r.dropDecode(err)
			return
		}
		debuglog.Sessionf(m.SessionID, "recv reveal from %s", m.From)
		r.Dispatch(session.RecvReveal{From: m.From, SessionID: m.SessionID, Solution: m.Solution, Nonce: m.Nonce})
	case proto.MsgTypeError:
		m, err := proto.DecodeErrorMsg(data)
		if err != nil {
			r.dropDecode(err)
			return
		}
		debuglog.Debugf("recv channel error target=%s err=%s", m.Target, m.Error)
		r.Dispatch(session.ChannelError{Target: m.Target, Reason: m.Error})
	}
}

func (r *Runner) addressedToMe(target string) bool {
	if target == r.Self {
		return true
	}
	r.Metrics.IncDropMistarget()
	return false
}

func (r *Runner) dropDecode(err error) {
	if err != nil {
		r.Metrics.IncDropMalformed()
	}
}
