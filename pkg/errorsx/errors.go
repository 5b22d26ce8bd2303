package errorsx

import "errors"

// Error taxonomy surfaced to observers. Wrap with fmt.Errorf("...: %w") and
// classify with errors.Is.
var (
	ErrAuthorization     = errors.New("speech recognition not authorized")
	ErrEngineUnavailable = errors.New("speech recognizer unavailable")
	ErrTransport         = errors.New("recognizer transport error")
	ErrRestartExhausted  = errors.New("speech recognition failed after multiple retries")
	ErrSetup             = errors.New("audio capture setup failed")
	ErrPermission        = errors.New("audio capture permission denied")
	ErrNoSource          = errors.New("no audio source available")
)

// IsFatal reports whether err ends a capture session. Transport errors are
// recovered by restarting the recognizer and are not fatal on their own.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthorization),
		errors.Is(err, ErrEngineUnavailable),
		errors.Is(err, ErrRestartExhausted),
		errors.Is(err, ErrSetup),
		errors.Is(err, ErrPermission),
		errors.Is(err, ErrNoSource):
		return true
	}
	return false
}

// IsAudioSetup reports whether err came from starting audio capture.
func IsAudioSetup(err error) bool {
	return errors.Is(err, ErrSetup) || errors.Is(err, ErrPermission) || errors.Is(err, ErrNoSource)
}
