package proto

const (
	MsgTypeRequest    = "request_ppe"
	MsgTypeAccept     = "accept_ppe"
	MsgTypeReject     = "reject_ppe"
	MsgTypeChallenge  = "challenge"
	MsgTypeCommitment = "commitment"
	MsgTypeReveal     = "reveal"
	MsgTypeError      = "error"
)

const (
	RejectReasonBusy     = "busy"
	RejectReasonDeclined = "declined"

	ErrTargetOffline = "target_offline"
)

const (
	MaxControlSize   = 4 << 10
	MaxChallengeSize = 16 << 10
)

// MaxSizeForType caps inbound payloads per message type before full decode.
func MaxSizeForType(t string) int {
	switch t {
	case MsgTypeChallenge:
		return MaxChallengeSize
	case MsgTypeRequest, MsgTypeAccept, MsgTypeReject, MsgTypeCommitment, MsgTypeReveal, MsgTypeError:
		return MaxControlSize
	default:
		return 0
	}
}

// KnownType reports whether t is one of the protocol message types.
func KnownType(t string) bool {
	return MaxSizeForType(t) > 0
}
