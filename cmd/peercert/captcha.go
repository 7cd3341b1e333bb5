package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"peercert/internal/challenge"
	"peercert/internal/identity"
)

// The captcha commands run the one-sided registration flow: the issuer
// derives the puzzle from a private secret and the session id, so a
// later verify needs only those two inputs and never stores the answer.

func runCaptcha(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		fmt.Fprintln(stdout, "usage: peercert captcha new|verify ...")
		fmt.Fprintln(stdout, "  new    --secret <s> [--len n] [--session id]")
		fmt.Fprintln(stdout, "  verify --secret <s> --session <id> --answer <text> [--len n]")
		return 0
	}
	switch args[0] {
	case "new":
		return runCaptchaNew(args[1:], stdout, stderr)
	case "verify":
		return runCaptchaVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown captcha subcommand: %s\n", args[0])
		return 1
	}
}

func runCaptchaNew(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("captcha new", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", "", "issuer secret")
	length := fs.Int("len", challenge.DefaultLength, "solution length")
	sessionID := fs.String("session", "", "session id (minted when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *secret == "" {
		fmt.Fprintln(stderr, "missing --secret")
		return 1
	}
	sid := *sessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	ch, err := challenge.Derive(*secret, sid, *length)
	if err != nil {
		fmt.Fprintf(stderr, "derive failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "session=%s\n", sid)
	fmt.Fprintf(stdout, "puzzle=%s\n", ch.Text)
	return 0
}

func runCaptchaVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("captcha verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", "", "issuer secret")
	sessionID := fs.String("session", "", "session id from captcha new")
	answer := fs.String("answer", "", "submitted answer")
	length := fs.Int("len", challenge.DefaultLength, "solution length")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *secret == "" || *sessionID == "" || *answer == "" {
		fmt.Fprintln(stderr, "missing --secret, --session or --answer")
		return 1
	}
	ch, err := challenge.Derive(*secret, *sessionID, *length)
	if err != nil {
		fmt.Fprintf(stderr, "derive failed: %v\n", err)
		return 1
	}
	if challenge.VerifySolution(ch.Text, *answer) {
		fmt.Fprintln(stdout, "ok")
		return 0
	}
	fmt.Fprintln(stdout, "mismatch")
	return 1
}

func runVoteSign(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vote-sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	msg := fs.String("msg", "", "message to sign")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *msg == "" {
		fmt.Fprintln(stderr, "missing --msg")
		return 1
	}
	pub, priv, err := identity.Load(*root)
	if err != nil {
		fmt.Fprintf(stderr, "no identity: %v\n", err)
		return 1
	}
	sig, err := identity.Sign(priv, []byte(*msg))
	if err != nil {
		fmt.Fprintf(stderr, "sign failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "peer_id=%s\n", identity.PeerID(pub))
	fmt.Fprintf(stdout, "pub=%s\n", hex.EncodeToString(pub))
	fmt.Fprintf(stdout, "sig=%s\n", hex.EncodeToString(sig))
	return 0
}

func runVoteVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vote-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	msg := fs.String("msg", "", "signed message")
	sigHex := fs.String("sig", "", "signature (hex)")
	pubHex := fs.String("pub", "", "signer public key (hex)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *msg == "" || *sigHex == "" || *pubHex == "" {
		fmt.Fprintln(stderr, "missing --msg, --sig or --pub")
		return 1
	}
	sig, err := hex.DecodeString(*sigHex)
	if err != nil {
		fmt.Fprintln(stderr, "bad --sig")
		return 1
	}
	pub, err := hex.DecodeString(*pubHex)
	if err != nil {
		fmt.Fprintln(stderr, "bad --pub")
		return 1
	}
	if identity.Verify(pub, []byte(*msg), sig) {
		fmt.Fprintln(stdout, "ok")
		return 0
	}
	fmt.Fprintln(stdout, "invalid")
	return 1
}
