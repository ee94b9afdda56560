package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrCapacity = errors.New("session capacity reached")

// Entry is one registered endpoint. Callers receive copies.
type Entry struct {
	Key          domain.SessionKey
	Conn         core.Connection
	Environment  string
	LastActivity time.Time
	RegisteredAt time.Time
}

type Registry struct {
	clock core.Clock
	max   int

	mu       sync.RWMutex
	entries  map[domain.SessionKey]*Entry
	byConn   map[string]domain.SessionKey
	statuses map[domain.SessionID]domain.StatusSnapshot
}

// NewRegistry returns an empty registry. maxEntries <= 0 means unbounded.
func NewRegistry(clock core.Clock, maxEntries int) *Registry {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Registry{
		clock:    clock,
		max:      maxEntries,
		entries:  make(map[domain.SessionKey]*Entry),
		byConn:   make(map[string]domain.SessionKey),
		statuses: make(map[domain.SessionID]domain.StatusSnapshot),
	}
}

// Register binds conn to (sessionID, role). A connection already holding the
// key is closed and returned. On error the registry is unchanged.
func (r *Registry) Register(sessionID, role string, conn core.Connection, environment string) (core.Connection, error) {
	key, err := domain.NewSessionKey(sessionID, role)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old, exists := r.entries[key]
	if !exists && r.max > 0 && len(r.entries) >= r.max {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	var replaced core.Connection
	if exists && old.Conn != conn {
		replaced = old.Conn
		delete(r.byConn, old.Conn.ID())
	}
	// the same connection may move to another key
	if prev, ok := r.byConn[conn.ID()]; ok && prev != key {
		r.removeLocked(prev)
	}
	now := r.clock.Now()
	r.entries[key] = &Entry{
		Key:          key,
		Conn:         conn,
		Environment:  environment,
		LastActivity: now,
		RegisteredAt: now,
	}
	r.byConn[conn.ID()] = key
	r.mu.Unlock()

	if replaced != nil {
		replaced.Close()
		log.Info().Str("module", "app.registry").Str("key", key.String()).Str("conn", replaced.ID()).Msg("replaced connection")
	}
	log.Info().Str("module", "app.registry").Str("key", key.String()).Str("conn", conn.ID()).Msg("registered")
	return replaced, nil
}

func (r *Registry) Lookup(sessionID domain.SessionID, role domain.Role) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[domain.SessionKey{SessionID: sessionID, Role: role}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LookupPeer returns the entry of the other role in the same session.
func (r *Registry) LookupPeer(sessionID domain.SessionID, role domain.Role) (Entry, bool) {
	return r.Lookup(sessionID, role.Peer())
}

// KeyOf reports which key conn is registered under.
func (r *Registry) KeyOf(conn core.Connection) (domain.SessionKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byConn[conn.ID()]
	return key, ok
}

// RemoveByConnection drops the entry held by conn. An entry that already
// belongs to a newer connection is left alone.
func (r *Registry) RemoveByConnection(conn core.Connection) (domain.SessionKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byConn[conn.ID()]
	if !ok {
		return domain.SessionKey{}, false
	}
	delete(r.byConn, conn.ID())
	e, ok := r.entries[key]
	if !ok || e.Conn.ID() != conn.ID() {
		return domain.SessionKey{}, false
	}
	r.removeLocked(key)
	log.Info().Str("module", "app.registry").Str("key", key.String()).Str("conn", conn.ID()).Msg("removed")
	return key, true
}

// Unregister removes key if it is still held by conn.
func (r *Registry) Unregister(key domain.SessionKey, conn core.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.Conn.ID() != conn.ID() {
		return false
	}
	delete(r.byConn, conn.ID())
	r.removeLocked(key)
	return true
}

func (r *Registry) removeLocked(key domain.SessionKey) {
	delete(r.entries, key)
	if _, ok := r.entries[key.Peer()]; !ok {
		delete(r.statuses, key.SessionID)
	}
}

// Touch refreshes the activity time of conn's entry.
func (r *Registry) Touch(conn core.Connection) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byConn[conn.ID()]; ok {
		if e, ok := r.entries[key]; ok {
			e.LastActivity = now
		}
	}
}

// SetStatus stores the latest snapshot of a session. Last writer wins.
func (r *Registry) SetStatus(sessionID domain.SessionID, status domain.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[sessionID] = status
}

func (r *Registry) Status(sessionID domain.SessionID) (domain.StatusSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[sessionID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot lists all entries ordered by session id then role.
func (r *Registry) Snapshot() []domain.SessionInfo {
	r.mu.RLock()
	out := make([]domain.SessionInfo, 0, len(r.entries))
	for key, e := range r.entries {
		info := domain.SessionInfo{
			SessionID:    key.SessionID,
			DeviceType:   key.Role,
			Environment:  e.Environment,
			Connected:    e.Conn.IsOpen(),
			LastActivity: e.LastActivity.UnixMilli(),
		}
		if s, ok := r.statuses[key.SessionID]; ok {
			info.Status = &s
		}
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].DeviceType < out[j].DeviceType
	})
	return out
}

// Entries returns copies of all entries.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// Sweep removes entries whose connection is closed or which have been idle
// longer than staleAfter, and returns them.
func (r *Registry) Sweep(now time.Time, staleAfter time.Duration) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Entry
	for key, e := range r.entries {
		if e.Conn.IsOpen() && now.Sub(e.LastActivity) <= staleAfter {
			continue
		}
		removed = append(removed, *e)
		delete(r.byConn, e.Conn.ID())
		r.removeLocked(key)
	}
	return removed
}
