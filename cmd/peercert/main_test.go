package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--help"}, nil, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "peercert") {
		t.Fatalf("expected help output to mention peercert")
	}
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"frobnicate"}, nil, &out, &out)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("expected unknown command message, got %q", out.String())
	}
}

func TestKeygenAndID(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	code := run([]string{"keygen", "--root", root}, nil, &out, &out)
	if code != 0 {
		t.Fatalf("keygen exit code = %d: %s", code, out.String())
	}
	if !strings.Contains(out.String(), "peer_id=") {
		t.Fatalf("keygen output missing peer id: %q", out.String())
	}

	var again bytes.Buffer
	if code := run([]string{"keygen", "--root", root}, nil, &again, &again); code != 1 {
		t.Fatalf("second keygen should fail, got %d", code)
	}

	var idOut bytes.Buffer
	if code := run([]string{"id", "--root", root}, nil, &idOut, &idOut); code != 0 {
		t.Fatalf("id exit code = %d: %s", code, idOut.String())
	}
	id := strings.TrimSpace(idOut.String())
	if !strings.Contains(out.String(), id) {
		t.Fatalf("id %q does not match keygen output %q", id, out.String())
	}
}

func TestPeerAddAndList(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	code := run([]string{"peer-add", "--root", root, "--id", "peer-1", "--addr", "127.0.0.1:9101"}, nil, &out, &out)
	if code != 0 {
		t.Fatalf("peer-add exit code = %d: %s", code, out.String())
	}

	var list bytes.Buffer
	if code := run([]string{"peers", "--root", root}, nil, &list, &list); code != 0 {
		t.Fatalf("peers exit code = %d: %s", code, list.String())
	}
	if !strings.Contains(list.String(), "peer-1 addr=127.0.0.1:9101") {
		t.Fatalf("peers output missing entry: %q", list.String())
	}
}

func TestPeerAddRequiresFlags(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"peer-add", "--id", "x"}, nil, &out, &out); code != 1 {
		t.Fatalf("peer-add without --addr should fail")
	}
}

func TestCaptchaRoundTrip(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"captcha", "new", "--secret", "hunter2"}, nil, &out, &out)
	if code != 0 {
		t.Fatalf("captcha new exit code = %d: %s", code, out.String())
	}
	var sid, puzzle string
	for _, line := range strings.Split(out.String(), "\n") {
		if rest, ok := strings.CutPrefix(line, "session="); ok {
			sid = rest
		}
		if rest, ok := strings.CutPrefix(line, "puzzle="); ok {
			puzzle = rest
		}
	}
	if sid == "" || puzzle == "" {
		t.Fatalf("captcha new output incomplete: %q", out.String())
	}
	answer := strings.ReplaceAll(puzzle, " ", "")

	var verify bytes.Buffer
	code = run([]string{"captcha", "verify", "--secret", "hunter2", "--session", sid, "--answer", answer}, nil, &verify, &verify)
	if code != 0 || !strings.Contains(verify.String(), "ok") {
		t.Fatalf("captcha verify failed: code=%d out=%q", code, verify.String())
	}

	var wrong bytes.Buffer
	code = run([]string{"captcha", "verify", "--secret", "hunter2", "--session", sid, "--answer", "XXXXXX"}, nil, &wrong, &wrong)
	if code != 1 || !strings.Contains(wrong.String(), "mismatch") {
		t.Fatalf("captcha verify should reject wrong answer: code=%d out=%q", code, wrong.String())
	}

	var wrongSecret bytes.Buffer
	code = run([]string{"captcha", "verify", "--secret", "other", "--session", sid, "--answer", answer}, nil, &wrongSecret, &wrongSecret)
	if code != 1 {
		t.Fatalf("captcha verify with wrong secret should fail")
	}
}

func TestCaptchaDeterministicPerSession(t *testing.T) {
	var a, b bytes.Buffer
	if code := run([]string{"captcha", "new", "--secret", "s", "--session", "sid-1"}, nil, &a, &a); code != 0 {
		t.Fatalf("captcha new failed: %s", a.String())
	}
	if code := run([]string{"captcha", "new", "--secret", "s", "--session", "sid-1"}, nil, &b, &b); code != 0 {
		t.Fatalf("captcha new failed: %s", b.String())
	}
	if a.String() != b.String() {
		t.Fatalf("same secret and session should derive the same puzzle")
	}
}

func TestVoteSignVerify(t *testing.T) {
	root := t.TempDir()
	var keygen bytes.Buffer
	if code := run([]string{"keygen", "--root", root}, nil, &keygen, &keygen); code != 0 {
		t.Fatalf("keygen failed: %s", keygen.String())
	}

	var signed bytes.Buffer
	code := run([]string{"vote-sign", "--root", root, "--msg", "poll-7:option-2"}, nil, &signed, &signed)
	if code != 0 {
		t.Fatalf("vote-sign exit code = %d: %s", code, signed.String())
	}
	var pub, sig string
	for _, line := range strings.Split(signed.String(), "\n") {
		if rest, ok := strings.CutPrefix(line, "pub="); ok {
			pub = rest
		}
		if rest, ok := strings.CutPrefix(line, "sig="); ok {
			sig = rest
		}
	}
	if pub == "" || sig == "" {
		t.Fatalf("vote-sign output incomplete: %q", signed.String())
	}

	var verify bytes.Buffer
	code = run([]string{"vote-verify", "--msg", "poll-7:option-2", "--sig", sig, "--pub", pub}, nil, &verify, &verify)
	if code != 0 || !strings.Contains(verify.String(), "ok") {
		t.Fatalf("vote-verify failed: code=%d out=%q", code, verify.String())
	}

	var tampered bytes.Buffer
	code = run([]string{"vote-verify", "--msg", "poll-7:option-3", "--sig", sig, "--pub", pub}, nil, &tampered, &tampered)
	if code != 1 || !strings.Contains(tampered.String(), "invalid") {
		t.Fatalf("vote-verify should reject tampered message: code=%d out=%q", code, tampered.String())
	}
}

func TestNeighborsRequiresIdentity(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	if code := run([]string{"neighbors", "--root", root, "--poll", "p1", "--degree", "2"}, nil, &out, &out); code != 1 {
		t.Fatalf("neighbors without identity should fail")
	}
}

func TestNeighborsAndEligible(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	if code := run([]string{"keygen", "--root", root}, nil, &out, &out); code != 0 {
		t.Fatalf("keygen failed: %s", out.String())
	}
	for _, p := range []string{"peer-1", "peer-2", "peer-3", "peer-4"} {
		var add bytes.Buffer
		if code := run([]string{"peer-add", "--root", root, "--id", p, "--addr", "127.0.0.1:9101"}, nil, &add, &add); code != 0 {
			t.Fatalf("peer-add failed: %s", add.String())
		}
	}

	var neighbors bytes.Buffer
	if code := run([]string{"neighbors", "--root", root, "--poll", "poll-1", "--degree", "4"}, nil, &neighbors, &neighbors); code != 0 {
		t.Fatalf("neighbors exit code != 0: %s", neighbors.String())
	}

	// No certifications yet, so any neighbor requirement fails.
	var eligible bytes.Buffer
	if code := run([]string{"eligible", "--root", root, "--poll", "poll-1", "--degree", "4", "--min", "1"}, nil, &eligible, &eligible); code != 1 {
		t.Fatalf("eligible should be false with an empty ledger: %s", eligible.String())
	}
}
