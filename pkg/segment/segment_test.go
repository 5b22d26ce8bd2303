package segment

import (
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/livesub/pkg/clock"
)

type recorder struct {
	chunks   []string
	triggers []Trigger
}

func (r *recorder) commit(chunks []string, trigger Trigger) {
	for _, c := range chunks {
		r.chunks = append(r.chunks, c)
		r.triggers = append(r.triggers, trigger)
	}
}

func newTestSegmenter(pause time.Duration) (*Segmenter, *recorder, *clock.Manual) {
	clk := clock.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	s := New(Config{PauseTimeout: pause}, clk, rec.commit, nil)
	return s, rec, clk
}

func TestObserve(t *testing.T) {
	cases := []struct {
		name, current, consumed, live, boundary string
	}{
		{"no boundary", "Hello world", "", "Hello world", ""},
		{"prefix", "Hello world again", "Hello world", "again", "Hello world"},
		{"exact", "Hello", "Hello", "", "Hello"},
		{"mismatch", "Bonjour", "Hello", "Bonjour", ""},
	}
	for _, tc := range cases {
		live, boundary := Observe(tc.current, tc.consumed)
		if live != tc.live || boundary != tc.boundary {
			t.Fatalf("%s: got (%q, %q), want (%q, %q)", tc.name, live, boundary, tc.live, tc.boundary)
		}
	}
}

func TestChunkKeepsShortSentences(t *testing.T) {
	got := Chunk("One. Two! Three?", 120)
	want := []string{"One.", "Two!", "Three?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestChunkSplitsAtWordBoundaries(t *testing.T) {
	sentence := strings.TrimSpace(strings.Repeat("word ", 60))
	chunks := Chunk(sentence, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected long sentence to be split, got %q", chunks)
	}
	for _, c := range chunks {
		if Length(c) > 20 {
			t.Fatalf("chunk %q exceeds budget", c)
		}
		for _, w := range strings.Fields(c) {
			if w != "word" {
				t.Fatalf("chunk %q split inside a word", c)
			}
		}
	}
	if strings.Join(chunks, " ") != sentence {
		t.Fatalf("chunks do not reproduce the sentence")
	}
}

func TestChunkKeepsOversizedWordWhole(t *testing.T) {
	long := strings.Repeat("x", 30)
	chunks := Chunk("a "+long+" b", 10)
	want := []string{"a", long, "b"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", chunks, want)
	}
}

func TestChunkCountsGraphemes(t *testing.T) {
	text := "안녕하세요 반갑습니다"
	if got := Chunk(text, 11); len(got) != 1 {
		t.Fatalf("expected hangul text within budget to stay whole, got %q", got)
	}
}

func TestChunkWhitespaceOnly(t *testing.T) {
	if got := Chunk("   \n ", 120); len(got) != 0 {
		t.Fatalf("expected no chunks, got %q", got)
	}
}

func TestSessionBoundaryFlushesLiveText(t *testing.T) {
	s, rec, _ := newTestSegmenter(3 * time.Second)
	s.Update("Hello")
	s.Update("Hello world")
	s.Update("")
	if len(rec.chunks) != 1 || rec.chunks[0] != "Hello world" {
		t.Fatalf("expected one entry %q, got %q", "Hello world", rec.chunks)
	}
	if rec.triggers[0] != TriggerFlush {
		t.Fatalf("expected flush trigger, got %s", rec.triggers[0])
	}
	if s.Live() != "" || s.Consumed() != "" || s.Current() != "" {
		t.Fatalf("expected cleared tracker state")
	}
}

func TestSentenceBoundaryCommitsImmediately(t *testing.T) {
	s, rec, clk := newTestSegmenter(3 * time.Second)
	s.Update("First sentence. Second starting")
	if len(rec.chunks) != 1 || rec.chunks[0] != "First sentence." {
		t.Fatalf("expected immediate commit of first sentence, got %q", rec.chunks)
	}
	if rec.triggers[0] != TriggerSentence {
		t.Fatalf("expected sentence trigger")
	}
	if s.Live() != "Second starting" {
		t.Fatalf("expected live text %q, got %q", "Second starting", s.Live())
	}
	if s.Consumed() != "First sentence. " {
		t.Fatalf("unexpected boundary %q", s.Consumed())
	}

	s.Update("First sentence. Second starting now")
	if s.Live() != "Second starting now" {
		t.Fatalf("expected live text to continue after boundary, got %q", s.Live())
	}
	if len(rec.chunks) != 1 {
		t.Fatalf("expected no further commits, got %q", rec.chunks)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected exactly one pending pause timer, got %d", clk.Pending())
	}
}

func TestSingleSentenceWaitsForPause(t *testing.T) {
	s, rec, clk := newTestSegmenter(3 * time.Second)
	s.Update("Just one sentence.")
	if len(rec.chunks) != 0 {
		t.Fatalf("expected no commit for a single sentence, got %q", rec.chunks)
	}
	clk.Advance(3 * time.Second)
	if len(rec.chunks) != 1 || rec.triggers[0] != TriggerPause {
		t.Fatalf("expected pause commit, got %q %v", rec.chunks, rec.triggers)
	}
}

func TestPauseTimerResetsOnUpdate(t *testing.T) {
	s, rec, clk := newTestSegmenter(3 * time.Second)
	s.Update("hello")
	clk.Advance(2 * time.Second)
	s.Update("hello there")
	clk.Advance(2 * time.Second)
	if len(rec.chunks) != 0 {
		t.Fatalf("expected pause to be reset by the update, got %q", rec.chunks)
	}
	clk.Advance(time.Second)
	if len(rec.chunks) != 1 || rec.chunks[0] != "hello there" {
		t.Fatalf("expected pause commit of latest text, got %q", rec.chunks)
	}
	if s.Consumed() != "hello there" || s.Live() != "" {
		t.Fatalf("expected boundary at current text after pause commit")
	}
}

func TestPauseHandlerIsIdempotent(t *testing.T) {
	s, rec, _ := newTestSegmenter(3 * time.Second)
	s.Update("hello there")
	s.PauseElapsed()
	s.PauseElapsed()
	if len(rec.chunks) != 1 {
		t.Fatalf("expected a single commit, got %q", rec.chunks)
	}
	s.Update("hello there friend")
	if s.Live() != "friend" {
		t.Fatalf("expected only new words live, got %q", s.Live())
	}
}

func TestBoundaryMismatchResetsTracker(t *testing.T) {
	s, rec, _ := newTestSegmenter(3 * time.Second)
	s.Update("hello there")
	s.PauseElapsed()
	s.Update("completely different")
	if s.Live() != "completely different" || s.Consumed() != "" {
		t.Fatalf("expected mismatch to reset boundary, live=%q consumed=%q", s.Live(), s.Consumed())
	}
	if len(rec.chunks) != 1 {
		t.Fatalf("unexpected commits %q", rec.chunks)
	}
}

func TestResetDoesNotCommit(t *testing.T) {
	s, rec, clk := newTestSegmenter(3 * time.Second)
	s.Update("pending words")
	s.Reset()
	clk.Advance(10 * time.Second)
	if len(rec.chunks) != 0 {
		t.Fatalf("expected reset to drop live text, got %q", rec.chunks)
	}
}

func TestFlushWithoutLiveTextCommitsNothing(t *testing.T) {
	s, rec, _ := newTestSegmenter(3 * time.Second)
	s.Update("hello")
	s.PauseElapsed()
	s.Update("")
	if len(rec.chunks) != 1 {
		t.Fatalf("expected no extra commit on boundary, got %q", rec.chunks)
	}
}

func TestCommittedTextReproducesSpeech(t *testing.T) {
	sessions := [][]string{
		{"The", "The quick", "The quick brown fox.", "The quick brown fox. It jumps", "The quick brown fox. It jumps over. The lazy", "The quick brown fox. It jumps over. The lazy dog"},
		{"Second", "Second session here"},
		{"Another one. And", "Another one. And another", "Another one. And another. Done"},
	}
	s, rec, clk := newTestSegmenter(2 * time.Second)
	var spoken []string
	for i, updates := range sessions {
		for j, u := range updates {
			s.Update(u)
			if i == 1 && j == 0 {
				clk.Advance(2 * time.Second)
			}
		}
		spoken = append(spoken, updates[len(updates)-1])
		s.Update("")
	}
	for _, c := range rec.chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("committed empty chunk")
		}
	}
	got := strings.Join(strings.Fields(strings.Join(rec.chunks, " ")), " ")
	want := strings.Join(strings.Fields(strings.Join(spoken, " ")), " ")
	if got != want {
		t.Fatalf("committed text mismatch\n got: %q\nwant: %q", got, want)
	}
}
