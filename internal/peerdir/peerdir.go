package peerdir

import (
	"bufio"
	"container/list"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Directory maps peer ids to dial addresses. Entries age out after TTL
// and the hot set is capped with LRU eviction. Updates append to a
// JSONL file so a restarted node recovers its view.

const (
	DefaultCap       = 512
	DefaultTTL       = 30 * time.Minute
	DefaultLoadLimit = 512
	maxScanSize      = 1 << 20
)

var ErrUnknownPeer = errors.New("unknown peer")

type Peer struct {
	ID     string
	Addr   string
	PubKey []byte
}

type Options struct {
	Cap       int
	TTL       time.Duration
	LoadLimit int
}

type Directory struct {
	mu    sync.Mutex
	path  string
	cap   int
	ttl   time.Duration
	hot   map[string]*list.Element
	order *list.List
}

type entry struct {
	peer      Peer
	expiresAt time.Time
}

type diskPeer struct {
	ID     string `json:"id"`
	Addr   string `json:"addr"`
	PubKey string `json:"pubkey,omitempty"`
}

func New(path string, opts Options) (*Directory, error) {
	capacity := opts.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	loadLimit := opts.LoadLimit
	if loadLimit <= 0 {
		loadLimit = DefaultLoadLimit
	}
	d := &Directory{
		path:  path,
		cap:   capacity,
		ttl:   ttl,
		hot:   make(map[string]*list.Element),
		order: list.New(),
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := d.loadLast(loadLimit); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Upsert records or refreshes a peer. The newest address wins.
func (d *Directory) Upsert(p Peer, persist bool) error {
	if p.ID == "" {
		return fmt.Errorf("missing peer id")
	}
	if p.Addr == "" {
		return fmt.Errorf("missing addr")
	}
	d.mu.Lock()
	d.pruneLocked()
	now := time.Now()
	if el, ok := d.hot[p.ID]; ok {
		ent := el.Value.(*entry)
		if len(p.PubKey) == 0 {
			p.PubKey = ent.peer.PubKey
		}
		ent.peer = p
		ent.expiresAt = now.Add(d.ttl)
		d.order.MoveToFront(el)
	} else {
		if d.cap > 0 && len(d.hot) >= d.cap {
			d.evictLocked(len(d.hot) - d.cap + 1)
		}
		el := d.order.PushFront(&entry{peer: p, expiresAt: now.Add(d.ttl)})
		d.hot[p.ID] = el
	}
	d.mu.Unlock()
	if !persist || d.path == "" {
		return nil
	}
	return appendJSONL(d.path, diskPeer{
		ID:     p.ID,
		Addr:   p.Addr,
		PubKey: hex.EncodeToString(p.PubKey),
	})
}

func (d *Directory) Lookup(id string) (Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	el, ok := d.hot[id]
	if !ok {
		return Peer{}, ErrUnknownPeer
	}
	d.order.MoveToFront(el)
	return el.Value.(*entry).peer, nil
}

func (d *Directory) Remove(id string) {
	d.mu.Lock()
	if el, ok := d.hot[id]; ok {
		delete(d.hot, id)
		d.order.Remove(el)
	}
	d.mu.Unlock()
}

// List returns peers newest-first.
func (d *Directory) List() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	out := make([]Peer, 0, len(d.hot))
	for el := d.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).peer)
	}
	return out
}

// IDs returns the ids of all live peers, newest-first.
func (d *Directory) IDs() []string {
	peers := d.List()
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.ID)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	return len(d.hot)
}

func (d *Directory) pruneLocked() {
	if d.ttl <= 0 {
		return
	}
	now := time.Now()
	for el := d.order.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*entry)
		if ent.expiresAt.After(now) {
			el = prev
			continue
		}
		delete(d.hot, ent.peer.ID)
		d.order.Remove(el)
		el = prev
	}
}

func (d *Directory) evictLocked(n int) {
	for n > 0 {
		el := d.order.Back()
		if el == nil {
			return
		}
		ent := el.Value.(*entry)
		delete(d.hot, ent.peer.ID)
		d.order.Remove(el)
		n--
	}
}

func (d *Directory) loadLast(limit int) error {
	records, err := readLastN(d.path, limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID == "" || rec.Addr == "" {
			continue
		}
		pub, err := hex.DecodeString(rec.PubKey)
		if err != nil {
			continue
		}
		_ = d.Upsert(Peer{ID: rec.ID, Addr: rec.Addr, PubKey: pub}, false)
	}
	return nil
}

func readLastN(path string, n int) ([]diskPeer, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	out := make([]diskPeer, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanSize)
	for sc.Scan() {
		var rec diskPeer
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if len(out) < n {
			out = append(out, rec)
		} else {
			copy(out, out[1:])
			out[n-1] = rec
		}
	}
	return out, sc.Err()
}

func appendJSONL(path string, rec diskPeer) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return err
	}
	return f.Sync()
}
