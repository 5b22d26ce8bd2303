package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/livesub/pkg/adapters/stt"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/frames"
	"github.com/harunnryd/livesub/pkg/logging"
)

func TestAssemblerBuildsCumulativeText(t *testing.T) {
	var a assembler
	steps := []struct {
		transcript         string
		isFinal, speechEnd bool
		want               string
		final, ok          bool
	}{
		{"hello", false, false, "hello", false, true},
		{"hello", false, false, "", false, false},
		{"hello there", true, false, "hello there", false, true},
		{"how", false, false, "hello there how", false, true},
		{"how are you", true, true, "hello there how are you", true, true},
	}
	for i, st := range steps {
		res, ok := a.apply(st.transcript, st.isFinal, st.speechEnd)
		if ok != st.ok {
			t.Fatalf("step %d: ok=%v want %v", i, ok, st.ok)
		}
		if !ok {
			continue
		}
		if res.Text != st.want || res.IsFinal != st.final {
			t.Fatalf("step %d: got %+v, want %q final=%v", i, res, st.want, st.final)
		}
	}
}

func TestAssemblerIgnoresEmptySpeechFinal(t *testing.T) {
	var a assembler
	if _, ok := a.apply("", true, true); ok {
		t.Fatalf("expected empty speech_final to be ignored")
	}
}

func TestUtteranceEndClosesFinalizedText(t *testing.T) {
	var a assembler
	a.apply("good morning", true, false)
	res, ok := a.utteranceEnd()
	if !ok || !res.IsFinal || res.Text != "good morning" {
		t.Fatalf("unexpected utterance end result %+v %v", res, ok)
	}
}

func TestAuthorizeRequiresAPIKey(t *testing.T) {
	e := NewEngine(Config{}, "en-US", logging.Discard())
	if err := e.Authorize(context.Background()); !errors.Is(err, errorsx.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	e = NewEngine(Config{APIKey: "k"}, "en-US", nil)
	if err := e.Authorize(context.Background()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFactoryRejectsUnsupportedLocale(t *testing.T) {
	f := NewFactory(Config{APIKey: "k"}, nil)
	if _, err := f("fr-FR"); !errors.Is(err, errorsx.ErrEngineUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	eng, err := f("ja-JP")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if !eng.IsAvailable("ja-JP") || eng.IsAvailable("ko-KR") {
		t.Fatalf("engine should only serve its own locale")
	}
}

func TestCallbackPublishesResultsAndErrors(t *testing.T) {
	s := &session{out: make(chan stt.Result, 8), logger: logging.Discard()}
	cb := &callback{s: s}
	msg := &msginterfaces.MessageResponse{IsFinal: true, SpeechFinal: true}
	msg.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "done"}}
	_ = cb.Message(msg)
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "1011", ErrMsg: "timeout"})
	_ = cb.Close(&msginterfaces.CloseResponse{})
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "x"})

	var got []stt.Result
	for r := range s.out {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results before close, got %d", len(got))
	}
	if !got[0].IsFinal || got[0].Text != "done" {
		t.Fatalf("unexpected first result %+v", got[0])
	}
	if !errors.Is(got[1].Err, errorsx.ErrTransport) {
		t.Fatalf("expected transport error, got %v", got[1].Err)
	}
}

func TestAppendDoesNotBlockWhenWriterStalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, logging.Discard())
	defer s.Cancel()

	done := make(chan error, 1)
	go func() {
		var last error
		for i := 0; i < sendBuffer+2; i++ {
			if err := s.Append(frames.NewAudioFrame("s", 0, []byte{byte(i)}, 16000, 1, nil)); err != nil {
				last = err
			}
		}
		done <- last
	}()
	select {
	case err := <-done:
		if !errors.Is(err, errorsx.ErrTransport) || !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
			t.Fatalf("expected a send error once the queue filled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("append blocked while nothing read the stream")
	}
}

func TestAppendCopiesPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, logging.Discard())
	defer s.Cancel()

	payload := []byte{1, 2, 3}
	if err := s.Append(frames.NewAudioFrame("s", 0, payload, 16000, 1, nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	payload[0] = 9
	got := make([]byte, 3)
	if _, err := io.ReadFull(s.pr, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected the payload as appended, got %v", got)
	}
}

func TestAppendAfterCancelFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, logging.Discard())
	s.Cancel()
	if err := s.Append(frames.NewAudioFrame("s", 0, []byte{1}, 16000, 1, nil)); !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
		t.Fatalf("expected send error after cancel, got %v", err)
	}
	if _, ok := <-s.Results(); ok {
		t.Fatalf("expected results closed after cancel")
	}
}
