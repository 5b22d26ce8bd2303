package translation

import "context"

// Translator translates one segment of recognized text into the target
// language configured on the implementation.
type Translator interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
}

// ContextTranslator additionally accepts preceding segments as context. The
// returned string is the raw response for the bundled request; callers split
// out the part that belongs to text.
type ContextTranslator interface {
	Translator
	TranslateWithContext(ctx context.Context, text string, lines []string) (string, error)
}

// SourceSetter is implemented by translators that need the source language
// spelled out. It is called whenever the recognizer locale changes.
type SourceSetter interface {
	SetSourceLanguage(code string)
}
