package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/livesub/pkg/clock"
)

func openStore(t *testing.T, keep int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history", "sessions.db"), keep)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveAndGet(t *testing.T) {
	store := openStore(t, 0)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := Session{
		ID:        uuid.New(),
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		Locale:    "ja-JP",
		Entries: []Entry{
			{RecordedAt: start.Add(time.Second), Recognized: "こんにちは。", Translated: "Hello."},
			{RecordedAt: start.Add(2 * time.Second), Recognized: "元気？", Translated: "How are you?"},
		},
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, sess.ID.String()[:8])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != sess.ID || got.Locale != "ja-JP" || len(got.Entries) != 2 {
		t.Fatalf("unexpected session %#v", got)
	}
	if got.Entries[1].Translated != "How are you?" {
		t.Fatalf("entries out of order: %#v", got.Entries)
	}
	if got.Duration() != "1:35" {
		t.Fatalf("unexpected duration %s", got.Duration())
	}

	if _, err := store.Get(ctx, "ffffffff-0000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreKeepsNewestSessions(t *testing.T) {
	store := openStore(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		started := base.Add(time.Duration(i) * time.Minute)
		if err := store.Save(ctx, Session{ID: id, StartedAt: started, EndedAt: started.Add(time.Second),
			Entries: []Entry{{Recognized: "a", Translated: "b"}}}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	if list[0].ID != ids[4] || list[2].ID != ids[2] {
		t.Fatalf("expected newest first, got %v %v", list[0].ID, list[2].ID)
	}
	if list[0].EntryCount != 1 {
		t.Fatalf("expected entry count 1, got %d", list[0].EntryCount)
	}
	if _, err := store.Get(ctx, ids[0].String()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected pruned session to be gone, got %v", err)
	}

	n, err := store.Clear(ctx)
	if err != nil || n != 3 {
		t.Fatalf("clear: %d %v", n, err)
	}
	list, _ = store.ListSessions(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty history, got %d", len(list))
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if err := store.Save(context.Background(), Session{ID: uuid.New(), StartedAt: now, EndedAt: now}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = store.Close()

	store, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	list, err := store.ListSessions(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 session after reopen, got %d %v", len(list), err)
	}
}

type captureSaver struct {
	mu    sync.Mutex
	saved []Session
	err   error
}

func (c *captureSaver) Save(_ context.Context, sess Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, sess)
	return c.err
}

func (c *captureSaver) Saved() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Session(nil), c.saved...)
}

func TestRecorderPersistsOnEnd(t *testing.T) {
	saver := &captureSaver{}
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	rec := NewRecorder(RecorderOptions{Saver: saver, Clock: clk, Locale: func() string { return "ko-KR" }})

	rec.RecordEntry("ignored", "no session")
	rec.StartSession()
	if !rec.Recording() {
		t.Fatalf("expected recording")
	}
	rec.RecordEntry("안녕하세요.", "Hello.")
	rec.RecordEntry("  ", "blank")
	clk.Advance(30 * time.Second)
	rec.EndSession()
	rec.EndSession()
	rec.Close()

	saved := saver.Saved()
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved session, got %d", len(saved))
	}
	s := saved[0]
	if s.Locale != "ko-KR" || len(s.Entries) != 1 || s.Entries[0].Translated != "Hello." {
		t.Fatalf("unexpected session %#v", s)
	}
	if s.Duration() != "0:30" {
		t.Fatalf("unexpected duration %s", s.Duration())
	}
}

func TestRecorderCloseEndsOpenSession(t *testing.T) {
	saver := &captureSaver{err: errors.New("disk full")}
	rec := NewRecorder(RecorderOptions{Saver: saver})
	rec.StartSession()
	rec.RecordEntry("a", "b")
	rec.Close()
	rec.Close()
	if len(saver.Saved()) != 1 {
		t.Fatalf("expected open session to be flushed on close")
	}
	rec.StartSession()
	if rec.Recording() {
		t.Fatalf("closed recorder must not start sessions")
	}
}

func TestRecorderWithStore(t *testing.T) {
	store := openStore(t, 0)
	rec := NewRecorder(RecorderOptions{Saver: store})
	rec.StartSession()
	rec.RecordEntry("hello", "안녕")
	rec.Close()

	list, err := store.ListSessions(context.Background())
	if err != nil || len(list) != 1 || list[0].EntryCount != 1 {
		t.Fatalf("unexpected history %#v %v", list, err)
	}
}
