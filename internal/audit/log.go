// Package audit keeps a tamper-evident, hash-chained record of
// security-relevant events.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Genesis is the PrevHash of the first entry.
const Genesis = "0"

// TimestampLayout is the timestamp form covered by the hash.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event is the input to Record. Every field is optional.
type Event struct {
	UserID     *string
	Username   *string
	Action     Action
	Resource   string
	ResourceID *string
	IPAddress  string
	UserAgent  *string
	Status     Status
	Details    map[string]interface{}
}

// Entry is an immutable link of the chain.
type Entry struct {
	ID         string                 `json:"id"`
	Seq        int64                  `json:"seq"`
	Timestamp  time.Time              `json:"timestamp"`
	UserID     *string                `json:"user_id"`
	Username   *string                `json:"username,omitempty"`
	Action     Action                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID *string                `json:"resource_id,omitempty"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  *string                `json:"user_agent,omitempty"`
	Status     Status                 `json:"status"`
	Details    map[string]interface{} `json:"details,omitempty"`
	PrevHash   string                 `json:"prev_hash"`
	Hash       string                 `json:"hash"`
}

// ComputeHash returns hex(SHA-256) over
// id|timestamp|userId|action|resource|status|prevHash, with "null" for a
// missing user.
func ComputeHash(e *Entry) string {
	userID := "null"
	if e.UserID != nil {
		userID = *e.UserID
	}
	data := strings.Join([]string{
		e.ID,
		e.Timestamp.UTC().Format(TimestampLayout),
		userID,
		string(e.Action),
		e.Resource,
		string(e.Status),
		e.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity reports whether entry's stored hash matches its content and
// links to prev (nil for the first entry).
func VerifyIntegrity(entry, prev *Entry) bool {
	if entry == nil {
		return false
	}
	wantPrev := Genesis
	if prev != nil {
		wantPrev = prev.Hash
	}
	if entry.PrevHash != wantPrev {
		return false
	}
	return ComputeHash(entry) == entry.Hash
}

// Observer receives counters for recorded and dropped entries.
type Observer interface {
	AuditRecorded(action string)
	AuditDropped()
}

// Log is an append-only chain held in memory. Record is safe for
// concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	lastHash string
	lastTime time.Time

	now      func() time.Time
	sink     chan Entry
	observer Observer
	logger   *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithSink mirrors every entry into a buffered channel of the given size.
// Entries are dropped with a warning when the buffer is full.
func WithSink(size int) Option {
	return func(l *Log) {
		if size > 0 {
			l.sink = make(chan Entry, size)
		}
	}
}

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(l *Log) { l.observer = o }
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// NewLog returns an empty chain whose first entry links to Genesis.
func NewLog(opts ...Option) *Log {
	l := &Log{
		lastHash: Genesis,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sink returns the mirror channel, or nil when none was configured.
func (l *Log) Sink() <-chan Entry {
	return l.sink
}

// Record appends ev to the chain and returns the new entry. It never fails.
func (l *Log) Record(ev Event) Entry {
	status := ev.Status
	if status == "" {
		status = StatusSuccess
	}

	l.mu.Lock()
	ts := l.now().UTC().Truncate(time.Millisecond)
	if ts.Before(l.lastTime) {
		ts = l.lastTime
	}
	e := Entry{
		ID:         uuid.NewString(),
		Seq:        int64(len(l.entries)),
		Timestamp:  ts,
		UserID:     clonePtr(ev.UserID),
		Username:   clonePtr(ev.Username),
		Action:     ev.Action,
		Resource:   ev.Resource,
		ResourceID: clonePtr(ev.ResourceID),
		IPAddress:  ev.IPAddress,
		UserAgent:  clonePtr(ev.UserAgent),
		Status:     status,
		Details:    copyDetails(ev.Details),
		PrevHash:   l.lastHash,
	}
	e.Hash = ComputeHash(&e)
	l.entries = append(l.entries, e)
	l.lastHash = e.Hash
	l.lastTime = ts
	l.mu.Unlock()

	l.logger.Info("audit",
		"action", string(e.Action),
		"status", string(e.Status),
		"resource", e.Resource,
		"user_id", deref(e.UserID),
		"ip", e.IPAddress,
	)
	if l.observer != nil {
		l.observer.AuditRecorded(string(e.Action))
	}

	if l.sink != nil {
		select {
		case l.sink <- e.clone():
		default:
			l.logger.Warn("audit mirror buffer full, entry not persisted", "id", e.ID, "action", string(e.Action))
			if l.observer != nil {
				l.observer.AuditDropped()
			}
		}
	}
	return e.clone()
}

// Filter narrows Query. Zero values match everything.
type Filter struct {
	UserID   string
	Action   Action
	Resource string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) match(e *Entry) bool {
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Query returns matching entries, most recent first. Timestamps never
// decrease along the chain, so reverse insertion order is reverse time order.
func (l *Log) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if !f.match(e) {
			continue
		}
		out = append(out, e.clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Entries returns a copy of the chain in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i := range l.entries {
		out[i] = l.entries[i].clone()
	}
	return out
}

// clone copies e so that no pointer or map is shared with the stored entry.
func (e *Entry) clone() Entry {
	c := *e
	c.UserID = clonePtr(e.UserID)
	c.Username = clonePtr(e.Username)
	c.ResourceID = clonePtr(e.ResourceID)
	c.UserAgent = clonePtr(e.UserAgent)
	if e.Details != nil {
		c.Details = cloneValue(e.Details).(map[string]interface{})
	}
	return c
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// VerifyChain walks the chain and returns the index of the first broken link,
// or -1 and true when every entry verifies.
func (l *Log) VerifyChain() (int, bool) {
	return VerifyEntries(l.Entries())
}

// VerifyEntries checks a sequence in insertion order.
func VerifyEntries(entries []Entry) (int, bool) {
	for i := range entries {
		var prev *Entry
		if i > 0 {
			prev = &entries[i-1]
		}
		if !VerifyIntegrity(&entries[i], prev) {
			return i, false
		}
	}
	return -1, true
}

// Redacted replaces detail values whose key names a credential.
const Redacted = "[REDACTED]"

var secretKeys = []string{"password", "token", "secret", "authorization", "cookie"}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
		lk := strings.ToLower(k)
		for _, s := range secretKeys {
			if strings.Contains(lk, s) {
				out[k] = Redacted
				break
			}
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
