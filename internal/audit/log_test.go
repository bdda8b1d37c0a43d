package audit

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLog(opts ...Option) *Log {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewLog(opts...)
}

func strPtr(s string) *string { return &s }

func TestRecord_ChainsEntries(t *testing.T) {
	l := quietLog()

	first := l.Record(Event{Action: ActionLoginSuccess, Resource: "auth", UserID: strPtr("u1")})
	if first.PrevHash != Genesis || first.Hash == "" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	second := l.Record(Event{Action: ActionLogout, Resource: "auth", UserID: strPtr("u1")})
	if second.PrevHash != first.Hash {
		t.Fatalf("expected chain link, got prev=%s want=%s", second.PrevHash, first.Hash)
	}
	if !VerifyIntegrity(&first, nil) || !VerifyIntegrity(&second, &first) {
		t.Fatal("freshly recorded entries do not verify")
	}
}

func TestComputeHash_KnownFormat(t *testing.T) {
	e := Entry{
		ID:        "id-1",
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 123_000_000, time.UTC),
		Action:    ActionLoginFailed,
		Resource:  "auth",
		Status:    StatusFailure,
		PrevHash:  Genesis,
	}
	want := "6821e73ed6edc6e76f8b6f07a972858e4957e1c4c272d1157311110f2eb5e159"
	if got := ComputeHash(&e); got != want {
		t.Fatalf("ComputeHash = %s, want %s", got, want)
	}

	e.UserID = strPtr("u1")
	if ComputeHash(&e) == want {
		t.Fatal("user id is not covered by the hash")
	}
}

func TestRecord_MissingFieldsStillRecorded(t *testing.T) {
	l := quietLog()
	e := l.Record(Event{})
	if e.Status != StatusSuccess {
		t.Errorf("default status = %q, want success", e.Status)
	}
	if e.UserID != nil {
		t.Error("absent user should stay nil")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	l := quietLog()
	for i := 0; i < 5; i++ {
		l.Record(Event{Action: ActionFinancialCreate, Resource: fmt.Sprintf("accounts/%d", i)})
	}
	if idx, ok := l.VerifyChain(); !ok {
		t.Fatalf("untouched chain broken at %d", idx)
	}

	entries := l.Entries()
	entries[2].Resource = "accounts/999"
	if idx, ok := VerifyEntries(entries); ok || idx != 2 {
		t.Fatalf("tampered content: VerifyEntries = (%d, %v), want (2, false)", idx, ok)
	}

	entries = l.Entries()
	entries[3].Status = StatusFailure
	entries[3].Hash = ComputeHash(&entries[3])
	if idx, ok := VerifyEntries(entries); ok || idx != 4 {
		t.Fatalf("rehashed entry: VerifyEntries = (%d, %v), want (4, false)", idx, ok)
	}
}

func TestVerifyChain_DetectsTruncationAndReorder(t *testing.T) {
	l := quietLog()
	for i := 0; i < 4; i++ {
		l.Record(Event{Action: ActionLoginSuccess})
	}
	entries := l.Entries()

	if _, ok := VerifyEntries(entries[1:]); ok {
		t.Error("dropping the first entry must break the chain")
	}
	withHole := append(append([]Entry{}, entries[:1]...), entries[2:]...)
	if idx, ok := VerifyEntries(withHole); ok || idx != 1 {
		t.Errorf("removed middle entry: got (%d, %v), want (1, false)", idx, ok)
	}
	swapped := append([]Entry{}, entries...)
	swapped[1], swapped[2] = swapped[2], swapped[1]
	if _, ok := VerifyEntries(swapped); ok {
		t.Error("reordered entries must not verify")
	}
}

func TestRecord_TimestampsNeverDecrease(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
	i := 0
	l := quietLog(WithClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}))

	var prev time.Time
	for range times {
		e := l.Record(Event{Action: ActionLogout})
		if e.Timestamp.Before(prev) {
			t.Fatalf("timestamp went backwards: %s after %s", e.Timestamp, prev)
		}
		prev = e.Timestamp
	}
	if _, ok := l.VerifyChain(); !ok {
		t.Fatal("chain with clamped timestamps should verify")
	}
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	l := quietLog()
	l.Record(Event{Action: ActionLoginSuccess, UserID: strPtr("a")})
	l.Record(Event{Action: ActionLoginFailed, UserID: strPtr("b")})
	l.Record(Event{Action: ActionLoginSuccess, UserID: strPtr("a")})
	l.Record(Event{Action: ActionLogout, UserID: strPtr("a")})

	all := l.Query(Filter{})
	if len(all) != 4 || all[0].Action != ActionLogout || all[0].Seq != 3 {
		t.Fatalf("Query(all) not most-recent-first: %+v", all)
	}

	got := l.Query(Filter{UserID: "a", Action: ActionLoginSuccess})
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 0 {
		t.Errorf("unexpected order: seq %d, %d", got[0].Seq, got[1].Seq)
	}

	if got := l.Query(Filter{Limit: 1}); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("Limit=1 returned %+v", got)
	}
	if got := l.Query(Filter{Since: time.Now().Add(time.Hour)}); len(got) != 0 {
		t.Errorf("future Since returned %d entries", len(got))
	}
}

func TestRecord_RedactsSecretDetails(t *testing.T) {
	l := quietLog()
	e := l.Record(Event{Action: ActionLoginFailed, Details: map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
		"reason":   "invalid_password",
	}})
	if e.Details["password"] != Redacted {
		t.Errorf("password detail = %v, want redacted", e.Details["password"])
	}
	if e.Details["username"] != "alice" {
		t.Errorf("username detail = %v", e.Details["username"])
	}
}

type countingObserver struct {
	mu       sync.Mutex
	recorded int
	dropped  int
}

func (o *countingObserver) AuditRecorded(string) { o.mu.Lock(); o.recorded++; o.mu.Unlock() }
func (o *countingObserver) AuditDropped()        { o.mu.Lock(); o.dropped++; o.mu.Unlock() }

func TestRecord_FullSinkDropsWithoutBlocking(t *testing.T) {
	obs := &countingObserver{}
	l := quietLog(WithSink(1), WithObserver(obs))

	l.Record(Event{Action: ActionLoginSuccess})
	l.Record(Event{Action: ActionLoginSuccess})

	if obs.recorded != 2 || obs.dropped != 1 {
		t.Fatalf("recorded=%d dropped=%d, want 2 and 1", obs.recorded, obs.dropped)
	}
	if got := len(l.Sink()); got != 1 {
		t.Fatalf("sink holds %d entries, want 1", got)
	}
	if l.Len() != 2 {
		t.Fatal("dropped mirror entry must still be in the chain")
	}
}

func TestRecord_ConcurrentWritersKeepChainValid(t *testing.T) {
	l := quietLog()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Record(Event{Action: ActionFinancialUpdate})
			}
		}()
	}
	wg.Wait()

	if l.Len() != 400 {
		t.Fatalf("Len = %d, want 400", l.Len())
	}
	if idx, ok := l.VerifyChain(); !ok {
		t.Fatalf("chain broken at %d after concurrent writes", idx)
	}
}

func TestQuery_ResultsDoNotAliasChain(t *testing.T) {
	l := quietLog()
	meta := map[string]interface{}{"k": "v"}
	rec := l.Record(Event{
		Action:  ActionFinancialCreate,
		UserID:  strPtr("u1"),
		Details: map[string]interface{}{"amount": "10.00", "meta": meta},
	})
	meta["k"] = "from caller"
	rec.Details["amount"] = "0.01"

	got := l.Query(Filter{})
	got[0].Details["amount"] = "99999.00"
	got[0].Details["meta"].(map[string]interface{})["k"] = "changed"
	*got[0].UserID = "u2"

	all := l.Entries()
	all[0].Details["extra"] = true

	again := l.Query(Filter{})[0]
	if again.Details["amount"] != "10.00" {
		t.Errorf("stored amount changed to %v", again.Details["amount"])
	}
	if again.Details["meta"].(map[string]interface{})["k"] != "v" {
		t.Errorf("nested detail changed to %v", again.Details["meta"])
	}
	if _, ok := again.Details["extra"]; ok {
		t.Error("key added through Entries() reached the stored entry")
	}
	if *again.UserID != "u1" {
		t.Errorf("stored user id changed to %q", *again.UserID)
	}
}
