package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"peercert/internal/challenge"
	"peercert/internal/daemon"
	"peercert/internal/peerdir"
	"peercert/internal/pprofutil"
	"peercert/internal/session"
)

// replNotifier prints session callbacks and remembers who is waiting on
// an answer so bare "accept"/"reject" work without retyping peer ids.
type replNotifier struct {
	mu      sync.Mutex
	out     io.Writer
	pending string
}

func (n *replNotifier) PromptAccept(from string) {
	n.mu.Lock()
	n.pending = from
	n.mu.Unlock()
	fmt.Fprintf(n.out, "\ncertification request from %s\n", from)
	fmt.Fprintf(n.out, "type 'accept' or 'reject'\n> ")
}

func (n *replNotifier) PresentChallenge(from, text string) {
	fmt.Fprintf(n.out, "\npuzzle from %s:\n  %s\n", from, text)
	fmt.Fprintf(n.out, "type 'solve <answer>'\n> ")
}

func (n *replNotifier) Certified(peer string) {
	fmt.Fprintf(n.out, "\nCERTIFIED %s\n> ", peer)
}

func (n *replNotifier) Failed(peer string, reason session.FailureReason) {
	fmt.Fprintf(n.out, "\nFAILED peer=%s reason=%s\n> ", peer, reason)
}

func (n *replNotifier) takePending() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.pending
	n.pending = ""
	return p
}

func runNode(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	addr := fs.String("addr", "", "listen addr (host:port)")
	insecure := fs.Bool("insecure", false, "skip TLS verification when dialing peers")
	caPath := fs.String("ca", "", "PEM file with the peer CA to pin")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	if *debug {
		_ = os.Setenv("PEERCERT_DEBUG", "1")
	}
	if err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof disabled: %v\n", err)
	}
	notify := &replNotifier{out: stdout}
	runner, err := daemon.NewRunner(*root, daemon.Options{
		Notify:   notify,
		Insecure: *insecure,
		CAPath:   *caPath,
	})
	if err != nil {
		fmt.Fprintf(stderr, "load node failed: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.RunWithContext(ctx, *addr, ready)
	}()
	select {
	case <-ready:
	case err := <-errCh:
		fmt.Fprintf(stderr, "listen failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "READY addr=%s peer_id=%s\n", *addr, runner.Self)
	repl(runner, notify, stdin, stdout)
	cancel()
	runner.Stop()
	return 0
}

func repl(r *daemon.Runner, notify *replNotifier, stdin io.Reader, stdout io.Writer) {
	fmt.Fprint(stdout, "> ")
	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			fmt.Fprint(stdout, "> ")
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			replUsage(stdout)
		case "certify":
			if len(fields) != 2 {
				fmt.Fprintln(stdout, "usage: certify <peer-id>")
				break
			}
			if err := r.Certify(fields[1]); err != nil {
				fmt.Fprintf(stdout, "certify failed: %v\n", err)
			}
		case "accept":
			if peer := notify.takePending(); peer != "" {
				r.Decide(peer, true)
			} else {
				fmt.Fprintln(stdout, "no pending request")
			}
		case "reject":
			if peer := notify.takePending(); peer != "" {
				r.Decide(peer, false)
			} else {
				fmt.Fprintln(stdout, "no pending request")
			}
		case "solve":
			if len(fields) < 2 {
				fmt.Fprintln(stdout, "usage: solve <answer>")
				break
			}
			r.Solve(challenge.SolutionFromText(strings.Join(fields[1:], " ")))
		case "cancel":
			r.Cancel()
		case "ledger":
			for _, id := range r.Ledger.All() {
				fmt.Fprintf(stdout, "%s certified\n", id)
			}
			fmt.Fprintf(stdout, "total=%d\n", r.Ledger.Count())
		case "peers":
			for _, p := range r.Peers.List() {
				fmt.Fprintf(stdout, "%s addr=%s\n", p.ID, p.Addr)
			}
		case "peer":
			if len(fields) != 4 || fields[1] != "add" {
				fmt.Fprintln(stdout, "usage: peer add <peer-id> <host:port>")
				break
			}
			if err := r.Peers.Upsert(peerdir.Peer{ID: fields[2], Addr: fields[3]}, true); err != nil {
				fmt.Fprintf(stdout, "peer add failed: %v\n", err)
			}
		case "state":
			fmt.Fprintf(stdout, "state=%s peer=%s\n", r.Machine.State(), r.Machine.Peer())
		default:
			fmt.Fprintf(stdout, "unknown command: %s\n", fields[0])
			replUsage(stdout)
		}
		fmt.Fprint(stdout, "> ")
	}
}

func replUsage(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  certify <peer-id>          start an exchange")
	fmt.Fprintln(w, "  accept | reject            answer a pending request")
	fmt.Fprintln(w, "  solve <answer>             answer the presented puzzle")
	fmt.Fprintln(w, "  cancel                     abort the live exchange")
	fmt.Fprintln(w, "  peer add <id> <host:port>  register a peer address")
	fmt.Fprintln(w, "  peers | ledger | state     inspect local state")
	fmt.Fprintln(w, "  quit")
}
