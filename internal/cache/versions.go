package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
)

// UnknownLabel marks a version id whose build label has not been resolved yet
const UnknownLabel = "????"

// VersionEntry is one (externalVersionId, buildVersion) pair. It serializes
// as a two element JSON array.
type VersionEntry struct {
	ID    int64
	Label string
}

// Unknown reports whether the entry still needs its label resolved
func (e VersionEntry) Unknown() bool {
	return e.Label == "" || e.Label == UnknownLabel
}

func (e VersionEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ID, e.Label})
}

func (e *VersionEntry) UnmarshalJSON(data []byte) error {
	pair := gjson.ParseBytes(data)
	if !pair.IsArray() || len(pair.Array()) != 2 {
		return fmt.Errorf("invalid version entry: %s", data)
	}
	id, label := pair.Array()[0], pair.Array()[1]
	switch id.Type {
	case gjson.Number:
		e.ID = id.Int()
	case gjson.String:
		v, err := strconv.ParseInt(id.Str, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version id %q: %w", id.Str, err)
		}
		e.ID = v
	default:
		return fmt.Errorf("invalid version id: %s", id.Raw)
	}
	if label.Type == gjson.Null {
		e.Label = UnknownLabel
	} else {
		e.Label = label.String()
	}
	return nil
}

// VersionList is the ordered (newest first) version history of one app.
// It is safe for concurrent label updates.
type VersionList struct {
	mu      sync.RWMutex
	entries []VersionEntry
	index   map[int64]int
}

// NewVersionList creates a list from entries; later duplicates of an id are
// dropped.
func NewVersionList(entries []VersionEntry) *VersionList {
	l := &VersionList{index: make(map[int64]int, len(entries))}
	for _, e := range entries {
		if _, ok := l.index[e.ID]; ok {
			continue
		}
		l.index[e.ID] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return l
}

// Len returns the number of versions
func (l *VersionList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the list
func (l *VersionList) Entries() []VersionEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]VersionEntry(nil), l.entries...)
}

// IndexOf returns the position of id or -1
func (l *VersionList) IndexOf(id int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i, ok := l.index[id]; ok {
		return i
	}
	return -1
}

// Label returns the build label recorded for id
func (l *VersionList) Label(id int64) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return "", false
	}
	return l.entries[i].Label, true
}

// SetLabel records the build label of an existing id
func (l *VersionList) SetLabel(id int64, label string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.entries[i].Label = label
	return true
}

// Page returns up to count entries starting at start
func (l *VersionList) Page(start, count int) []VersionEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	if start >= len(l.entries) || count <= 0 {
		return []VersionEntry{}
	}
	end := start + count
	if end > len(l.entries) {
		end = len(l.entries)
	}
	return append([]VersionEntry(nil), l.entries[start:end]...)
}

func (l *VersionList) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// VersionCache maps app ids to their version history, bounded by an LRU
type VersionCache struct {
	lru *LRU[int64, *VersionList]
}

// NewVersionCache creates an empty cache holding at most capacity apps
func NewVersionCache(capacity int) (*VersionCache, error) {
	lru, err := NewLRU[int64, *VersionList](capacity)
	if err != nil {
		return nil, err
	}
	return &VersionCache{lru: lru}, nil
}

// LoadVersionCache restores a cache persisted with MarshalJSON. Entries are
// replayed oldest first so the recency order survives the round trip.
func LoadVersionCache(capacity int, data []byte) (*VersionCache, error) {
	c, err := NewVersionCache(capacity)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return c, nil
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("invalid version cache: expected array")
	}
	for _, app := range root.Array() {
		pair := app.Array()
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid version cache entry: %s", app.Raw)
		}
		var entries []VersionEntry
		if err := json.Unmarshal([]byte(pair[1].Raw), &entries); err != nil {
			return nil, fmt.Errorf("invalid version cache entry for app %s: %w", pair[0].Raw, err)
		}
		c.Put(pair[0].Int(), NewVersionList(entries))
	}
	return c, nil
}

// Has reports whether appID is cached
func (c *VersionCache) Has(appID int64) bool { return c.lru.Has(appID) }

// Get returns the cached history of appID, marking it most recently used
func (c *VersionCache) Get(appID int64) (*VersionList, bool) { return c.lru.Get(appID) }

// Put stores the history of appID
func (c *VersionCache) Put(appID int64, versions *VersionList) bool {
	return c.lru.Put(appID, versions)
}

// Len returns the number of cached apps
func (c *VersionCache) Len() int { return c.lru.Len() }

// MarshalJSON writes [[appId, [[id, label], ...]], ...] oldest first
func (c *VersionCache) MarshalJSON() ([]byte, error) {
	snap := c.lru.Snapshot()
	out := make([][2]any, 0, len(snap))
	for _, e := range snap {
		out = append(out, [2]any{e.Key, e.Value})
	}
	return json.Marshal(out)
}
