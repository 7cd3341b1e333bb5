package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"peercert/internal/assign"
	"peercert/internal/identity"
	"peercert/internal/ledger"
	"peercert/internal/metrics"
	"peercert/internal/peerdir"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "id":
		return runID(args[1:], stdout, stderr)
	case "run":
		return runNode(args[1:], stdin, stdout, stderr)
	case "ledger":
		return runLedger(args[1:], stdout, stderr)
	case "peers":
		return runPeers(args[1:], stdout, stderr)
	case "peer-add":
		return runPeerAdd(args[1:], stdout, stderr)
	case "neighbors":
		return runNeighbors(args[1:], stdout, stderr)
	case "eligible":
		return runEligible(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "captcha":
		return runCaptcha(args[1:], stdout, stderr)
	case "vote-sign":
		return runVoteSign(args[1:], stdout, stderr)
	case "vote-verify":
		return runVoteVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: peercert <command> [args]")
	fmt.Fprintln(w, "  keygen      [--root dir]")
	fmt.Fprintln(w, "  id          [--root dir]")
	fmt.Fprintln(w, "  run         --addr <ip:port> [--root dir] [--insecure] [--ca pem] [--debug]")
	fmt.Fprintln(w, "  ledger      [--root dir]")
	fmt.Fprintln(w, "  peers       [--root dir]")
	fmt.Fprintln(w, "  peer-add    --id <peer-id> --addr <ip:port> [--root dir]")
	fmt.Fprintln(w, "  neighbors   --poll <session> --degree <d> [--root dir]")
	fmt.Fprintln(w, "  eligible    --poll <session> --degree <d> [--min n] [--root dir]")
	fmt.Fprintln(w, "  status      [--root dir]")
	fmt.Fprintln(w, "  captcha     new|verify ...")
	fmt.Fprintln(w, "  vote-sign   --msg <text> [--root dir]")
	fmt.Fprintln(w, "  vote-verify --msg <text> --sig <hex> --pub <hex>")
}

func defaultRoot() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".peercert")
}

func rootFlag(fs *flag.FlagSet) *string {
	return fs.String("root", defaultRoot(), "data directory")
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, _, err := identity.Load(*root); err == nil {
		fmt.Fprintln(stderr, "keypair already exists")
		return 1
	}
	pub, _, err := identity.Ensure(*root)
	if err != nil {
		fmt.Fprintf(stderr, "keygen failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "peer_id=%s\n", identity.PeerID(pub))
	return 0
}

func runID(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("id", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pub, _, err := identity.Load(*root)
	if err != nil {
		fmt.Fprintf(stderr, "no identity: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, identity.PeerID(pub))
	return 0
}

func runLedger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	led, err := ledger.New(filepath.Join(*root, "ledger.jsonl"))
	if err != nil {
		fmt.Fprintf(stderr, "ledger unavailable: %v\n", err)
		return 1
	}
	for _, id := range led.All() {
		fmt.Fprintf(stdout, "%s certified\n", id)
	}
	fmt.Fprintf(stdout, "total=%d failures=%d\n", led.Count(), led.TotalFailures())
	return 0
}

func runPeers(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	dir, err := peerdir.New(filepath.Join(*root, "peers.jsonl"), peerdir.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "peers unavailable: %v\n", err)
		return 1
	}
	for _, p := range dir.List() {
		fmt.Fprintf(stdout, "%s addr=%s\n", p.ID, p.Addr)
	}
	return 0
}

func runPeerAdd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("peer-add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	id := fs.String("id", "", "peer id")
	addr := fs.String("addr", "", "peer address (host:port)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" || *addr == "" {
		fmt.Fprintln(stderr, "missing --id or --addr")
		return 1
	}
	dir, err := peerdir.New(filepath.Join(*root, "peers.jsonl"), peerdir.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "peers unavailable: %v\n", err)
		return 1
	}
	if err := dir.Upsert(peerdir.Peer{ID: *id, Addr: *addr}, true); err != nil {
		fmt.Fprintf(stderr, "peer add failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "added %s addr=%s\n", *id, *addr)
	return 0
}

func runNeighbors(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("neighbors", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	poll := fs.String("poll", "", "poll session id")
	degree := fs.Int("degree", 0, "expected degree")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *poll == "" || *degree <= 0 {
		fmt.Fprintln(stderr, "missing --poll or --degree")
		return 1
	}
	self, all, err := loadAssignmentInput(*root)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	neighbors, err := assign.Neighbors(assign.Params{PollSession: *poll, ExpectedDegree: *degree}, self, all)
	if err != nil {
		fmt.Fprintf(stderr, "assignment failed: %v\n", err)
		return 1
	}
	for _, id := range neighbors {
		fmt.Fprintln(stdout, id)
	}
	return 0
}

func runEligible(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eligible", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	poll := fs.String("poll", "", "poll session id")
	degree := fs.Int("degree", 0, "expected degree")
	minCount := fs.Int("min", 1, "required certified neighbors")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *poll == "" || *degree <= 0 {
		fmt.Fprintln(stderr, "missing --poll or --degree")
		return 1
	}
	self, all, err := loadAssignmentInput(*root)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	neighbors, err := assign.Neighbors(assign.Params{PollSession: *poll, ExpectedDegree: *degree}, self, all)
	if err != nil {
		fmt.Fprintf(stderr, "assignment failed: %v\n", err)
		return 1
	}
	led, err := ledger.New(filepath.Join(*root, "ledger.jsonl"))
	if err != nil {
		fmt.Fprintf(stderr, "ledger unavailable: %v\n", err)
		return 1
	}
	if led.Eligible(neighbors, *minCount) {
		fmt.Fprintln(stdout, "eligible")
		return 0
	}
	fmt.Fprintln(stdout, "not eligible")
	return 1
}

// loadAssignmentInput builds the participant set for neighbor
// assignment: the local node plus every peer in the directory.
func loadAssignmentInput(root string) (string, []string, error) {
	pub, _, err := identity.Load(root)
	if err != nil {
		return "", nil, fmt.Errorf("no identity: %w", err)
	}
	self := identity.PeerID(pub)
	dir, err := peerdir.New(filepath.Join(root, "peers.jsonl"), peerdir.Options{})
	if err != nil {
		return "", nil, fmt.Errorf("peers unavailable: %w", err)
	}
	all := append(dir.IDs(), self)
	return self, all, nil
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	snap := readMetricsSnapshot(filepath.Join(*root, "metrics.json"))
	fmt.Fprintln(stdout, "Local node summary:")
	fmt.Fprintf(stdout, "  sessions: started=%d certified=%d failed=%d\n",
		snap.Sessions.Started, snap.Sessions.Certified, snap.Sessions.Failed)
	fmt.Fprintf(stdout, "  timeouts=%d busy_rejects=%d decrypt_fails=%d\n",
		snap.Sessions.Timeouts, snap.Sessions.BusyRejects, snap.Sessions.DecryptFails)
	fmt.Fprintf(stdout, "  transport: sent=%d received=%d send_errors=%d\n",
		snap.Transport.Sent, snap.Transport.Received, snap.Transport.SendErrors)
	fmt.Fprintf(stdout, "  dropped: malformed=%d oversize=%d mistargeted=%d\n",
		snap.Transport.DropMalformed, snap.Transport.DropOversize, snap.Transport.DropMistarget)
	for _, o := range snap.Recent {
		if o.Certified {
			fmt.Fprintf(stdout, "  %s certified peer=%s\n", o.EndedAt.Format("15:04:05"), o.Peer)
			continue
		}
		fmt.Fprintf(stdout, "  %s failed peer=%s reason=%s\n", o.EndedAt.Format("15:04:05"), o.Peer, o.Reason)
	}
	return 0
}

func readMetricsSnapshot(path string) metrics.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return metrics.Snapshot{}
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return metrics.Snapshot{}
	}
	return snap
}
