package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Connection is the listing view of one live ingest connection.
type Connection struct {
	ID          uint64 `json:"id"`
	Remote      string `json:"remote"`
	ConnectedAt int64  `json:"connected_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Lines       int64  `json:"lines"`
	Records     int64  `json:"records"`
}

// Entry is owned by the goroutine reading the connection. Its counters are
// atomic so listing never waits on a reader.
type Entry struct {
	id          uint64
	remote      string
	connectedAt int64
	lastSeenAt  atomic.Int64
	lines       atomic.Int64
	records     atomic.Int64
}

// Line notes one line read; forwarded reports whether it reached the sink.
func (e *Entry) Line(forwarded bool) {
	if e == nil {
		return
	}
	e.lines.Add(1)
	if forwarded {
		e.records.Add(1)
	}
	e.lastSeenAt.Store(time.Now().Unix())
}

func (e *Entry) ID() uint64 {
	if e == nil {
		return 0
	}
	return e.id
}

func (e *Entry) snapshot() Connection {
	return Connection{
		ID:          e.id,
		Remote:      e.remote,
		ConnectedAt: e.connectedAt,
		LastSeenAt:  e.lastSeenAt.Load(),
		Lines:       e.lines.Load(),
		Records:     e.records.Load(),
	}
}

// Store tracks live connections.
type Store struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[uint64]*Entry
}

// NewStore creates a new registry store.
func NewStore() *Store {
	return &Store{
		entries: make(map[uint64]*Entry),
	}
}

// Register adds a connection from remote and returns its entry.
func (s *Store) Register(remote string) *Entry {
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e := &Entry{id: s.nextID, remote: remote, connectedAt: now}
	e.lastSeenAt.Store(now)
	s.entries[e.id] = e
	return e
}

// Remove forgets the connection. Removing an unknown entry is a no-op.
func (s *Store) Remove(e *Entry) {
	if e == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, e.id)
}

// Get returns the listing view of one connection.
func (s *Store) Get(id uint64) (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Connection{}, false
	}
	return e.snapshot(), true
}

// List returns all live connections ordered by ID.
func (s *Store) List() []Connection {
	s.mu.RLock()
	list := make([]Connection, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len returns the number of live connections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
