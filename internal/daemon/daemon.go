package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"peercert/internal/debuglog"
	"peercert/internal/identity"
	"peercert/internal/ledger"
	"peercert/internal/metrics"
	"peercert/internal/network"
	"peercert/internal/peerdir"
	"peercert/internal/session"
)

const (
	snapshotInterval = time.Second
	sweepInterval    = 5 * time.Second

	// A session aged past this is stuck regardless of timer state and
	// gets reaped by the sweep.
	DefaultMaxSessionAge = 2 * time.Minute
)

// Notifier receives the session callbacks that need a human (or a bot)
// on the other end. A REPL implements it; tests record it.
type Notifier interface {
	PromptAccept(from string)
	PresentChallenge(from, text string)
	Certified(peer string)
	Failed(peer string, reason session.FailureReason)
}

type Options struct {
	Session       session.Config
	Ledger        *ledger.Ledger
	Peers         *peerdir.Directory
	Metrics       *metrics.Metrics
	Notify        Notifier
	SnapPath      string
	MaxSessionAge time.Duration
	Insecure      bool
	CAPath        string
}

// Runner owns one node: its identity, session machine, peer directory,
// ledger and transport. The machine stays pure; every effect it returns
// is executed here.
type Runner struct {
	Root    string
	Self    string
	PubKey  []byte
	Machine *session.Machine
	Ledger  *ledger.Ledger
	Peers   *peerdir.Directory
	Metrics *metrics.Metrics

	notify        Notifier
	snapPath      string
	maxSessionAge time.Duration
	insecure      bool
	caPath        string

	// sendFn is swapped out by tests to run two runners back to back
	// without a network.
	sendFn func(addr string, data []byte) error

	listenMu   sync.RWMutex
	listenAddr string

	timerMu sync.Mutex
	timers  map[uint64][]*time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRunner(root string, opts Options) (*Runner, error) {
	if root == "" {
		return nil, fmt.Errorf("missing root")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	pub, _, err := identity.Ensure(root)
	if err != nil {
		return nil, err
	}
	self := identity.PeerID(pub)
	led := opts.Ledger
	if led == nil {
		led, err = ledger.New(filepath.Join(root, "ledger.jsonl"))
		if err != nil {
			return nil, err
		}
	}
	peers := opts.Peers
	if peers == nil {
		peers, err = peerdir.New(filepath.Join(root, "peers.jsonl"), peerdir.Options{})
		if err != nil {
			return nil, err
		}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	snapPath := opts.SnapPath
	if snapPath == "" {
		snapPath = filepath.Join(root, "metrics.json")
	}
	maxAge := opts.MaxSessionAge
	if maxAge <= 0 {
		maxAge = DefaultMaxSessionAge
	}
	r := &Runner{
		Root:          root,
		Self:          self,
		PubKey:        pub,
		Machine:       session.NewMachine(self, opts.Session),
		Ledger:        led,
		Peers:         peers,
		Metrics:       m,
		notify:        opts.Notify,
		snapPath:      snapPath,
		maxSessionAge: maxAge,
		insecure:      opts.Insecure,
		caPath:        opts.CAPath,
		timers:        make(map[uint64][]*time.Timer),
		stopCh:        make(chan struct{}),
	}
	r.sendFn = func(addr string, data []byte) error {
		return network.Send(context.Background(), addr, data, r.insecure, r.caPath)
	}
	return r, nil
}

func (r *Runner) SetNotifier(n Notifier) {
	r.notify = n
}

func (r *Runner) Run(addr string) error {
	return r.RunWithContext(context.Background(), addr, nil)
}

func (r *Runner) RunWithContext(ctx context.Context, addr string, ready chan<- struct{}) error {
	r.startSnapshotWriter()
	r.startExpirySweep()
	errCh := make(chan error, 1)
	internalReady := make(chan struct{})
	go func() {
		errCh <- network.ListenAndServeWithReady(addr, internalReady, func(data []byte) {
			r.HandleRaw(data)
		})
	}()
	select {
	case <-internalReady:
		r.setListenAddr(addr)
		if ready != nil {
			close(ready)
		}
	case err := <-errCh:
		r.Stop()
		return err
	case <-ctx.Done():
		r.Stop()
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		r.Stop()
		return err
	case <-ctx.Done():
		r.Stop()
		return ctx.Err()
	}
}

func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.timerMu.Lock()
		for _, ts := range r.timers {
			for _, t := range ts {
				t.Stop()
			}
		}
		r.timers = make(map[uint64][]*time.Timer)
		r.timerMu.Unlock()
	})
}

func (r *Runner) setListenAddr(addr string) {
	r.listenMu.Lock()
	r.listenAddr = addr
	r.listenMu.Unlock()
}

func (r *Runner) ListenAddr() string {
	r.listenMu.RLock()
	defer r.listenMu.RUnlock()
	return r.listenAddr
}

// Certify starts an exchange with target. Fails fast when the node is
// already in one.
func (r *Runner) Certify(target string) error {
	if target == "" || target == r.Self {
		return fmt.Errorf("invalid target")
	}
	if r.Machine.Busy() {
		return fmt.Errorf("busy: session with %s in progress", r.currentPeer())
	}
	r.Metrics.IncSessionStarted()
	r.Dispatch(session.Initiate{Target: target})
	return nil
}

// Decide answers a pending inbound request.
func (r *Runner) Decide(peer string, accept bool) {
	if accept {
		r.Metrics.IncSessionStarted()
	}
	r.Dispatch(session.Decide{Peer: peer, Accept: accept})
}

// Solve submits the local answer to the presented puzzle.
func (r *Runner) Solve(solution string) {
	r.Dispatch(session.Submit{Solution: solution})
}

// Cancel aborts whatever exchange is live. Safe to call when idle.
func (r *Runner) Cancel() {
	r.Dispatch(session.Cancel{})
}

func (r *Runner) currentPeer() string {
	if p := r.Machine.Peer(); p != "" {
		return p
	}
	return r.Machine.PendingPeer()
}

// Dispatch feeds one event through the machine and executes the
// resulting effects.
func (r *Runner) Dispatch(ev session.Event) {
	effects := r.Machine.Handle(ev)
	r.execute(effects)
}

func (r *Runner) startSnapshotWriter() {
	go func() {
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = r.Metrics.WriteSnapshot(r.snapPath)
			case <-r.stopCh:
				return
			}
		}
	}()
}

// startExpirySweep reaps sessions that outlived every timer, e.g. when
// a pending prompt is never answered across a long UI stall.
func (r *Runner) startExpirySweep() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				startedAt, busy := r.Machine.StartedAt()
				if !busy || startedAt.IsZero() {
					continue
				}
				if time.Since(startedAt) > r.maxSessionAge {
					debuglog.Debugf("reaping stuck session with %s", r.currentPeer())
					r.Dispatch(session.Cancel{})
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}
