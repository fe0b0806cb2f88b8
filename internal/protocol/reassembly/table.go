package reassembly

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
)

// Key identifies one reassembly stream.
type Key[C comparable] struct {
	Conn    C
	Channel string
}

// Config bounds one inbound direction of a table.
type Config struct {
	MaxPayloadSize int
	// IdleTimeout evicts sessions that receive nothing for this long. Zero disables eviction.
	IdleTimeout time.Duration
	// MaxSessions caps concurrently open sessions. Zero means unlimited.
	MaxSessions int
	// Strict rejects chunk streams that carry bytes past the declared length.
	Strict bool
	Shards int
	Now    func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MaxPayloadSize: protocol.DefaultMaxPayloadC2S,
		Shards:         16,
		Now:            time.Now,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = def.MaxPayloadSize
	}
	if c.Shards <= 0 {
		c.Shards = def.Shards
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Info is a read-only view of one open session.
type Info[C comparable] struct {
	Key          Key[C]
	Expected     int
	Received     int
	Packets      int
	Opened       time.Time
	LastActivity time.Time
}

// Table is the registry of open sessions. Distinct keys proceed
// concurrently; create, accumulate and complete for one key are serialized.
type Table[C comparable] struct {
	cfg    Config
	obs    Observer
	seed   maphash.Seed
	shards []*shard[C]
	mask   uint64
	open   atomic.Int64
}

type shard[C comparable] struct {
	mu       sync.Mutex
	sessions map[Key[C]]*session
}

func NewTable[C comparable](cfg Config, obs Observer) *Table[C] {
	cfg = cfg.WithDefaults()
	if obs == nil {
		obs = NopObserver{}
	}
	n := nextPowerOfTwo(uint32(cfg.Shards))
	shards := make([]*shard[C], n)
	for i := range shards {
		shards[i] = &shard[C]{sessions: make(map[Key[C]]*session)}
	}
	return &Table[C]{
		cfg:    cfg,
		obs:    obs,
		seed:   maphash.MakeSeed(),
		shards: shards,
		mask:   uint64(n - 1),
	}
}

func (t *Table[C]) shard(key Key[C]) *shard[C] {
	return t.shards[maphash.Comparable(t.seed, key)&t.mask]
}

// Receive feeds one packet for key. It returns the payload and true on the
// packet that completes the stream. Any error discards the stream.
func (t *Table[C]) Receive(key Key[C], packet []byte) ([]byte, bool, error) {
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := t.cfg.Now()
	s, ok := sh.sessions[key]
	if !ok {
		expected, consumed, err := readPrefix(packet, t.cfg.MaxPayloadSize)
		if err != nil {
			t.obs.SessionAborted(key.Channel, err)
			return nil, false, err
		}
		body := packet[consumed:]
		// Streams that complete in their first packet never take a slot.
		if len(body) < expected {
			if err := t.reserve(); err != nil {
				t.obs.SessionAborted(key.Channel, err)
				return nil, false, err
			}
		}
		opened := newSession(body, expected, now)
		t.obs.SessionOpened(key.Channel, expected)
		if opened.complete() {
			return t.finish(key, opened)
		}
		if err := t.insert(sh, key, opened); err != nil {
			t.obs.SessionAborted(key.Channel, err)
			return nil, false, err
		}
		return nil, false, nil
	}

	s.append(packet, now)
	if !s.complete() {
		return nil, false, nil
	}
	t.delete(sh, key)
	return t.finish(key, s)
}

func (t *Table[C]) finish(key Key[C], s *session) ([]byte, bool, error) {
	payload, err := s.payload(t.cfg.Strict)
	if err != nil {
		t.obs.SessionAborted(key.Channel, err)
		return nil, false, err
	}
	t.obs.SessionCompleted(key.Channel, len(payload), s.packets)
	return payload, true, nil
}

// reserve claims a slot for a new session, honoring MaxSessions.
func (t *Table[C]) reserve() error {
	if t.open.Add(1) > int64(t.cfg.MaxSessions) && t.cfg.MaxSessions > 0 {
		t.open.Add(-1)
		return protocol.ErrTooManySessions
	}
	return nil
}

// insert stores a newly opened session in a slot taken by reserve. Callers
// hold sh.mu and have already observed that key is absent.
func (t *Table[C]) insert(sh *shard[C], key Key[C], s *session) error {
	if _, exists := sh.sessions[key]; exists {
		t.open.Add(-1)
		return protocol.ErrDuplicateSession
	}
	sh.sessions[key] = s
	return nil
}

func (t *Table[C]) delete(sh *shard[C], key Key[C]) bool {
	if _, ok := sh.sessions[key]; !ok {
		return false
	}
	delete(sh.sessions, key)
	t.open.Add(-1)
	return true
}

// Lookup reports the open session for key, if any.
func (t *Table[C]) Lookup(key Key[C]) (Info[C], bool) {
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[key]
	if !ok {
		return Info[C]{}, false
	}
	return infoOf(key, s), true
}

// Remove discards the session for key without surfacing partial data.
func (t *Table[C]) Remove(key Key[C]) bool {
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !t.delete(sh, key) {
		return false
	}
	t.obs.SessionDropped(key.Channel, DropRemoved)
	return true
}

// RemoveConn discards every session belonging to conn and returns how many
// were open. Transports call it when a connection closes.
func (t *Table[C]) RemoveConn(conn C) int {
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key := range sh.sessions {
			if key.Conn != conn {
				continue
			}
			t.delete(sh, key)
			t.obs.SessionDropped(key.Channel, DropDisconnect)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed
}

// Sweep evicts sessions idle for longer than IdleTimeout as of now.
func (t *Table[C]) Sweep(now time.Time) []Key[C] {
	if t.cfg.IdleTimeout <= 0 {
		return nil
	}
	var evicted []Key[C]
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, s := range sh.sessions {
			if now.Sub(s.touched) <= t.cfg.IdleTimeout {
				continue
			}
			t.delete(sh, key)
			t.obs.SessionDropped(key.Channel, DropIdle)
			evicted = append(evicted, key)
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Run sweeps every interval until ctx is done. It returns immediately when
// idle eviction is disabled.
func (t *Table[C]) Run(ctx context.Context, interval time.Duration) {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = t.cfg.IdleTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(t.cfg.Now())
		}
	}
}

func (t *Table[C]) Len() int {
	return int(t.open.Load())
}

// Snapshot lists open sessions ordered by channel, then open time.
func (t *Table[C]) Snapshot() []Info[C] {
	out := make([]Info[C], 0, t.Len())
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, s := range sh.sessions {
			out = append(out, infoOf(key, s))
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Channel != out[j].Key.Channel {
			return out[i].Key.Channel < out[j].Key.Channel
		}
		return out[i].Opened.Before(out[j].Opened)
	})
	return out
}

func infoOf[C comparable](key Key[C], s *session) Info[C] {
	return Info[C]{
		Key:          key,
		Expected:     s.expected,
		Received:     len(s.buf),
		Packets:      s.packets,
		Opened:       s.opened,
		LastActivity: s.touched,
	}
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}
