package proto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Every message carries from/target peer ids and the initiator-minted
// session id. The channel authenticates from; target lets a node discard
// misrouted traffic without touching session state.

type RequestMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	SessionID string `json:"session_id"`
}

type AcceptMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	SessionID string `json:"session_id"`
}

type RejectMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// ChallengeMsg.Challenge is the sealed puzzle text, base64 of
// nonce||ciphertext from the secure channel adapter.
type ChallengeMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
}

// CommitmentMsg.Commitment is the hex digest. The nonce stays private
// until reveal.
type CommitmentMsg struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	Target     string `json:"target"`
	SessionID  string `json:"session_id"`
	Commitment string `json:"commitment"`
}

type RevealMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	SessionID string `json:"session_id"`
	Solution  string `json:"solution"`
	Nonce     string `json:"nonce"`
}

// ErrorMsg is emitted by the channel layer, e.g. when the target is
// offline. It drives the local session back to idle with a surfaced
// reason.
type ErrorMsg struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
}

func EncodeRequestMsg(m RequestMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeRequest
	}
	return json.Marshal(m)
}

func DecodeRequestMsg(data []byte) (RequestMsg, error) {
	var m RequestMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return RequestMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeRequest {
		return RequestMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeAcceptMsg(m AcceptMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeAccept
	}
	return json.Marshal(m)
}

func DecodeAcceptMsg(data []byte) (AcceptMsg, error) {
	var m AcceptMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return AcceptMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeAccept {
		return AcceptMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeRejectMsg(m RejectMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeReject
	}
	return json.Marshal(m)
}

func DecodeRejectMsg(data []byte) (RejectMsg, error) {
	var m RejectMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return RejectMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeReject {
		return RejectMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeChallengeMsg(m ChallengeMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeChallenge
	}
	return json.Marshal(m)
}

func DecodeChallengeMsg(data []byte) (ChallengeMsg, error) {
	var m ChallengeMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return ChallengeMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeChallenge {
		return ChallengeMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeCommitmentMsg(m CommitmentMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeCommitment
	}
	return json.Marshal(m)
}

func DecodeCommitmentMsg(data []byte) (CommitmentMsg, error) {
	var m CommitmentMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return CommitmentMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeCommitment {
		return CommitmentMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeRevealMsg(m RevealMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeReveal
	}
	return json.Marshal(m)
}

func DecodeRevealMsg(data []byte) (RevealMsg, error) {
	var m RevealMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return RevealMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeReveal {
		return RevealMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeErrorMsg(m ErrorMsg) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeError
	}
	return json.Marshal(m)
}

func DecodeErrorMsg(data []byte) (ErrorMsg, error) {
	var m ErrorMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return ErrorMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeError {
		return ErrorMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

func EncodeSealedPayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func DecodeSealedPayload(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
