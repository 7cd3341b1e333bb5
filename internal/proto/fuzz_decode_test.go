package proto

import (
	"bytes"
	"testing"

	"peercert/internal/testutil"
)

func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, '{'})
	f.Add([]byte{0, 0, 0, 5, '{', '"', 't', '"', '}'})
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.CapBytes(data, testutil.MaxFuzzBytes)
		testutil.WithTimeout(t, testutil.FuzzTimeout, func() {
			r := bytes.NewReader(data)
			_, _ = ReadFrameWithTypeCap(r, MaxControlSize, MaxSizeForType)
		})
	})
}

func FuzzDecodeChallenge(f *testing.F) {
	f.Add([]byte(`{"type":"challenge","from":"a","target":"b","session_id":"s","challenge":"AAECAw=="}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.CapBytes(data, testutil.MaxFuzzBytes)
		testutil.WithTimeout(t, testutil.FuzzTimeout, func() {
			m, err := DecodeChallengeMsg(data)
			if err == nil {
				_, _ = DecodeSealedPayload(m.Challenge)
				_, _ = EncodeChallengeMsg(m)
			}
		})
	})
}

func FuzzDecodeReveal(f *testing.F) {
	f.Add([]byte(`{"type":"reveal","from":"a","target":"b","session_id":"s","solution":"K3P9R2","nonce":"00ff"}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.CapBytes(data, testutil.MaxFuzzBytes)
		testutil.WithTimeout(t, testutil.FuzzTimeout, func() {
			m, err := DecodeRevealMsg(data)
			if err == nil {
				_, _ = EncodeRevealMsg(m)
			}
		})
	})
}
