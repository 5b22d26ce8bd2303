package languages

import "testing"

func TestLookup(t *testing.T) {
	cases := []struct {
		in     string
		speech string
		ok     bool
	}{
		{"en-US", "en-US", true},
		{"zh-Hans", "zh-CN", true},
		{"zh-CN", "zh-CN", true},
		{"KO-kr", "ko-KR", true},
		{"ja", "ja-JP", true},
		{"fr-FR", "", false},
		{"", "", false},
		{"not a tag!", "", false},
	}
	for _, tc := range cases {
		l, ok := Lookup(tc.in)
		if ok != tc.ok || l.Speech != tc.speech {
			t.Fatalf("Lookup(%q) = (%q, %v), want (%q, %v)", tc.in, l.Speech, ok, tc.speech, tc.ok)
		}
	}
}

func TestSpeechLocale(t *testing.T) {
	if got, err := SpeechLocale("zh-Hans"); err != nil || got != "zh-CN" {
		t.Fatalf("got %q %v", got, err)
	}
	if _, err := SpeechLocale("xx"); err == nil {
		t.Fatalf("expected error for unsupported language")
	}
}

func TestAllIsACopy(t *testing.T) {
	all := All()
	all[0].Name = "changed"
	if All()[0].Name != "English" {
		t.Fatalf("All leaked internal table")
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		code string
	}{
		{"오늘 회의는 오후 세 시에 시작합니다", "ko-KR"},
		{"今日はとても良い天気ですね、散歩に行きましょう", "ja-JP"},
		{"The weather today is really nice and we should go for a walk in the park after the meeting", "en-US"},
	}
	for _, tc := range cases {
		d, ok := Detect(tc.text)
		if !ok || d.Language.Code != tc.code {
			t.Fatalf("Detect(%q) = (%q, %v), want %q", tc.text, d.Language.Code, ok, tc.code)
		}
		if d.Confidence <= MinConfidence {
			t.Fatalf("expected confident detection, got %f", d.Confidence)
		}
	}
}

func TestDetectNeedsEnoughText(t *testing.T) {
	if _, ok := Detect("hello there"); ok {
		t.Fatalf("expected short text to be ignored")
	}
}
