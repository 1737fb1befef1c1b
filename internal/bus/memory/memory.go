// Package memory implements the domain bus interfaces in-process: streams
// with consumer groups and pending-entry tracking, a key-value view with
// TTLs, and a monotonic wall-clock. It backs the paper run mode and the test
// suites, so the whole pipeline runs self-contained without Redis.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// pollInterval is how often a blocked ReadGroup re-checks for new entries.
const pollInterval = 5 * time.Millisecond

type stream struct {
	entries []domain.StreamEntry
	seq     int64
	groups  map[string]*group
}

type group struct {
	cursor  int
	pending map[string]struct{}
}

type kvEntry struct {
	value     string
	expiresAt int64 // ms since epoch; 0 means no TTL
}

// Memory is a single-process bus. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*stream
	kv      map[string]kvEntry
	lastNow int64

	toggleDefaults domain.Toggles
}

// New creates an empty in-memory bus. defaults seed the toggle values
// reported for unset keys.
func New(defaults domain.Toggles) *Memory {
	return &Memory{
		streams:        make(map[string]*stream),
		kv:             make(map[string]kvEntry),
		toggleDefaults: defaults,
	}
}

func (m *Memory) getStream(name string) *stream {
	s, ok := m.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group)}
		m.streams[name] = s
	}
	return s
}

// nowLocked returns the wall-clock, guaranteed nondecreasing. Callers hold mu.
func (m *Memory) nowLocked() int64 {
	now := time.Now().UnixMilli()
	if now < m.lastNow {
		now = m.lastNow
	}
	m.lastNow = now
	return now
}

// Append appends a payload to the stream.
func (m *Memory) Append(ctx context.Context, streamName string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getStream(streamName)
	s.seq++
	s.entries = append(s.entries, domain.StreamEntry{
		ID:      fmt.Sprintf("%d-0", s.seq),
		Payload: payload,
	})
	return nil
}

// EnsureGroup creates the consumer group if it does not exist. The group
// starts delivering from the beginning of the stream, matching the Redis
// backend's XGROUP CREATE ... 0 MKSTREAM behavior.
func (m *Memory) EnsureGroup(ctx context.Context, streamName, groupName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getStream(streamName)
	if _, ok := s.groups[groupName]; !ok {
		s.groups[groupName] = &group{pending: make(map[string]struct{})}
	}
	return nil
}

// ReadGroup delivers up to count entries past the group's cursor, blocking up
// to block when none are available. Each entry is delivered once until
// acknowledged; the consumer name is accepted for interface parity but a
// single shared cursor keeps delivery exclusive within the group.
func (m *Memory) ReadGroup(ctx context.Context, streamName, groupName, consumer string, count int, block time.Duration) ([]domain.StreamEntry, error) {
	deadline := time.Now().Add(block)
	for {
		m.mu.Lock()
		s := m.getStream(streamName)
		g, ok := s.groups[groupName]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("memory: read group %s on %s: no such group", groupName, streamName)
		}

		if g.cursor < len(s.entries) {
			end := g.cursor + count
			if end > len(s.entries) {
				end = len(s.entries)
			}
			out := make([]domain.StreamEntry, end-g.cursor)
			copy(out, s.entries[g.cursor:end])
			for _, e := range out {
				g.pending[e.ID] = struct{}{}
			}
			g.cursor = end
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()

		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Ack removes entries from the group's pending set.
func (m *Memory) Ack(ctx context.Context, streamName, groupName string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getStream(streamName)
	g, ok := s.groups[groupName]
	if !ok {
		return fmt.Errorf("memory: ack %s on %s: no such group", groupName, streamName)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// PendingCount returns the number of delivered-but-unacknowledged entries for
// a group. Used by tests to verify the ack discipline.
func (m *Memory) PendingCount(streamName, groupName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getStream(streamName)
	g, ok := s.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Entries returns a copy of every entry appended to a stream.
func (m *Memory) Entries(streamName string) []domain.StreamEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getStream(streamName)
	out := make([]domain.StreamEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Now returns the bus wall-clock in milliseconds since epoch.
func (m *Memory) Now(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowLocked(), nil
}

// ---------------------------------------------------------------------------
// Key-value view
// ---------------------------------------------------------------------------

// Set writes a key with an optional TTL (ttl <= 0 means no expiry).
func (m *Memory) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.nowLocked() + ttl.Milliseconds()
	}
	m.kv[key] = e
}

// getLocked returns the live value for key. Callers hold mu.
func (m *Memory) getLocked(key string) (string, bool) {
	e, ok := m.kv[key]
	if !ok {
		return "", false
	}
	if e.expiresAt > 0 && m.nowLocked() > e.expiresAt {
		delete(m.kv, key)
		return "", false
	}
	return e.value, true
}

// SetQuote writes a quote snapshot under the adapter key schema.
func (m *Memory) SetQuote(venue, instrumentID string, snap domain.QuoteSnapshot, ttl time.Duration) {
	data, _ := json.Marshal(snap)
	m.Set(domain.QuoteViewKey(venue, instrumentID), string(data), ttl)
}

// SetSymbols publishes a venue's symbol list under the adapter key schema.
func (m *Memory) SetSymbols(venue string, symbols []string, ttl time.Duration) {
	data, _ := json.Marshal(symbols)
	m.Set(domain.SymbolsKey(venue), string(data), ttl)
}

// Symbols implements domain.QuoteView.
func (m *Memory) Symbols(ctx context.Context, venue string) ([]string, error) {
	m.mu.Lock()
	raw, ok := m.getLocked(domain.SymbolsKey(venue))
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	var symbols []string
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, fmt.Errorf("memory: unmarshal symbols %s: %w", venue, err)
	}
	return symbols, nil
}

// Quotes implements domain.QuoteView.
func (m *Memory) Quotes(ctx context.Context, keys []domain.QuoteKey) (map[domain.QuoteKey]domain.QuoteSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.QuoteKey]domain.QuoteSnapshot, len(keys))
	for _, k := range keys {
		raw, ok := m.getLocked(domain.QuoteViewKey(k.Venue, k.InstrumentID))
		if !ok {
			continue
		}
		var snap domain.QuoteSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		snap.Venue = k.Venue
		snap.InstrumentID = k.InstrumentID
		out[k] = snap
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Toggle store
// ---------------------------------------------------------------------------

// Read implements domain.ToggleStore.
func (m *Memory) Read(ctx context.Context) (domain.Toggles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.toggleDefaults
	if raw, ok := m.getLocked(domain.KeyAutoTrade); ok {
		v, err := domain.ParseToggleBool(raw)
		if err != nil {
			return domain.Toggles{}, fmt.Errorf("memory: read toggles: %w", err)
		}
		out.AutoTrade = v
	}
	if raw, ok := m.getLocked(domain.KeyMode); ok {
		if !domain.ValidMode(raw) {
			return domain.Toggles{}, fmt.Errorf("memory: read toggles: mode %q is not recognized", raw)
		}
		out.Mode = raw
	}
	return out, nil
}

// SetAutoTrade implements domain.ToggleStore.
func (m *Memory) SetAutoTrade(ctx context.Context, on bool) error {
	m.Set(domain.KeyAutoTrade, domain.FormatToggleBool(on), 0)
	return nil
}

// SetMode implements domain.ToggleStore.
func (m *Memory) SetMode(ctx context.Context, mode string) error {
	if !domain.ValidMode(mode) {
		return fmt.Errorf("memory: set %s: mode %q is not recognized", domain.KeyMode, mode)
	}
	m.Set(domain.KeyMode, mode, 0)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Bus         = (*Memory)(nil)
	_ domain.QuoteView   = (*Memory)(nil)
	_ domain.ToggleStore = (*Memory)(nil)
)
