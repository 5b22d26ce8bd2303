// Package languages lists the source languages subtitles can be recognized
// in and detects which of them is being spoken.
package languages

import (
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/rivo/uniseg"
	"golang.org/x/text/language"
)

// Language is one supported source language.
type Language struct {
	// Code identifies the language in configuration and commands.
	Code string
	Name string
	Flag string
	// Speech is the locale passed to the recognizer.
	Speech string
	// Translation is the language tag passed to translators.
	Translation string
}

var supported = []Language{
	{Code: "en-US", Name: "English", Flag: "🇺🇸", Speech: "en-US", Translation: "en"},
	{Code: "zh-Hans", Name: "中文（简体）", Flag: "🇨🇳", Speech: "zh-CN", Translation: "zh-Hans"},
	{Code: "ja-JP", Name: "日本語", Flag: "🇯🇵", Speech: "ja-JP", Translation: "ja"},
	{Code: "ko-KR", Name: "한국어", Flag: "🇰🇷", Speech: "ko-KR", Translation: "ko"},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, 0, len(supported))
	for _, l := range supported {
		tags = append(tags, language.MustParse(l.Speech))
	}
	return language.NewMatcher(tags)
}()

// All returns the supported languages in display order.
func All() []Language {
	return append([]Language(nil), supported...)
}

// Lookup resolves a code, speech locale or close BCP 47 variant (such as
// "en-GB" or "ja") to a supported language.
func Lookup(code string) (Language, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Language{}, false
	}
	for _, l := range supported {
		if strings.EqualFold(l.Code, code) || strings.EqualFold(l.Speech, code) {
			return l, true
		}
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Language{}, false
	}
	_, idx, conf := matcher.Match(tag)
	if conf < language.High {
		return Language{}, false
	}
	return supported[idx], true
}

// SpeechLocale returns the recognizer locale for code.
func SpeechLocale(code string) (string, error) {
	l, ok := Lookup(code)
	if !ok {
		return "", fmt.Errorf("unsupported language %q", code)
	}
	return l.Speech, nil
}

const (
	// MinDetectLength is the shortest text, in characters, detection runs on.
	MinDetectLength = 15
	// MinConfidence is the confidence a detection must exceed.
	MinConfidence = 0.5
)

// Detection is a confident guess of the spoken language.
type Detection struct {
	Language   Language
	Confidence float64
}

// Detect guesses which supported language text is in. It reports false for
// short text, low confidence or unsupported languages.
func Detect(text string) (Detection, bool) {
	if uniseg.GraphemeClusterCount(strings.TrimSpace(text)) < MinDetectLength {
		return Detection{}, false
	}
	info := whatlanggo.Detect(text)
	if info.Confidence <= MinConfidence {
		return Detection{}, false
	}
	var code string
	switch info.Lang {
	case whatlanggo.Eng:
		code = "en-US"
	case whatlanggo.Cmn:
		code = "zh-Hans"
	case whatlanggo.Jpn:
		code = "ja-JP"
	case whatlanggo.Kor:
		code = "ko-KR"
	default:
		return Detection{}, false
	}
	l, _ := Lookup(code)
	return Detection{Language: l, Confidence: info.Confidence}, true
}
