package subtitles

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestAppendTrimsToMax(t *testing.T) {
	s := NewStore(3, 20*time.Second)
	var ids []uuid.UUID
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		e := NewEntry(text, t0.Add(time.Duration(i)*time.Second))
		ids = append(ids, e.ID)
		s.Append(e)
		if s.Len() > 3 {
			t.Fatalf("store exceeded max entries: %d", s.Len())
		}
	}
	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].Recognized != "three" || snap[2].Recognized != "five" {
		t.Fatalf("unexpected entries after trim: %+v", snap)
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Fatalf("expected oldest entry to be trimmed")
	}
}

func TestSweepExpiredKeepsEntryAtCutoff(t *testing.T) {
	s := NewStore(10, 20*time.Second)
	s.Append(NewEntry("edge", t0))
	if n := s.SweepExpired(t0.Add(20 * time.Second)); n != 0 || s.Len() != 1 {
		t.Fatalf("entry exactly ttl old was removed: n=%d len=%d", n, s.Len())
	}
	if n := s.SweepExpired(t0.Add(20*time.Second + time.Nanosecond)); n != 1 || s.Len() != 0 {
		t.Fatalf("entry past ttl survived: n=%d len=%d", n, s.Len())
	}
}

func TestAppendReportsTrimmed(t *testing.T) {
	s := NewStore(1, time.Minute)
	if n := s.Append(NewEntry("a", t0)); n != 0 {
		t.Fatalf("expected nothing trimmed, got %d", n)
	}
	if n := s.Append(NewEntry("b", t0)); n != 1 {
		t.Fatalf("expected one trimmed, got %d", n)
	}
}

func TestSweepExpiredEnforcesTTL(t *testing.T) {
	s := NewStore(10, 20*time.Second)
	s.Append(NewEntry("old", t0))
	s.Append(NewEntry("mid", t0.Add(10*time.Second)))
	s.Append(NewEntry("new", t0.Add(19*time.Second)))

	if n := s.SweepExpired(t0.Add(19 * time.Second)); n != 0 {
		t.Fatalf("expected nothing expired yet, got %d", n)
	}
	if n := s.SweepExpired(t0.Add(25 * time.Second)); n != 1 {
		t.Fatalf("expected one expired, got %d", n)
	}
	now := t0.Add(45 * time.Second)
	s.SweepExpired(now)
	for _, e := range s.Snapshot() {
		if now.Sub(e.CreatedAt) > 20*time.Second {
			t.Fatalf("entry %q older than ttl survived", e.Recognized)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("expected all entries expired, got %d", s.Len())
	}
}

func TestUpdateTranslation(t *testing.T) {
	s := NewStore(3, time.Minute)
	e := NewEntry("hello", t0)
	s.Append(e)
	before := s.Snapshot()
	if !s.UpdateTranslation(e.ID, "안녕") {
		t.Fatalf("expected update to succeed")
	}
	got, _ := s.Get(e.ID)
	if got.Translated != "안녕" {
		t.Fatalf("expected translation stored, got %q", got.Translated)
	}
	if before[0].Translated != "" {
		t.Fatalf("earlier snapshot was mutated")
	}
	if s.UpdateTranslation(uuid.New(), "x") {
		t.Fatalf("expected update of missing id to be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("missing-id update changed the store")
	}
}

func TestSetLimitsTrims(t *testing.T) {
	s := NewStore(5, time.Minute)
	for i := 0; i < 5; i++ {
		s.Append(NewEntry("x", t0))
	}
	if n := s.SetLimits(2, 0); n != 3 {
		t.Fatalf("expected 3 trimmed, got %d", n)
	}
	if s.TTL() != time.Minute || s.MaxEntries() != 2 {
		t.Fatalf("unexpected limits %d %s", s.MaxEntries(), s.TTL())
	}
}

func TestRecent(t *testing.T) {
	s := NewStore(5, time.Minute)
	for _, text := range []string{"a", "b", "c"} {
		s.Append(NewEntry(text, t0))
	}
	got := s.Recent(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected recent %q", got)
	}
	if s.Recent(0) != nil {
		t.Fatalf("expected nil for n=0")
	}
	s.Clear()
	if len(s.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after clear")
	}
}

func TestTrimToMaxWithinLimitIsNoop(t *testing.T) {
	s := NewStore(2, time.Minute)
	s.Append(NewEntry("a", t0))
	if n := s.TrimToMax(); n != 0 || s.Len() != 1 {
		t.Fatalf("unexpected trim %d len %d", n, s.Len())
	}
}
