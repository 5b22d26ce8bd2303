package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTAuthorize   ReasonCode = "stt_authorize"
	ReasonSTTUnavailable ReasonCode = "stt_unavailable"
	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTRestart     ReasonCode = "stt_restart"
	ReasonSTTExhausted   ReasonCode = "stt_restart_exhausted"

	ReasonAudioPermission ReasonCode = "audio_permission"
	ReasonAudioNoSource   ReasonCode = "audio_no_source"
	ReasonAudioSetup      ReasonCode = "audio_setup"

	ReasonTranslate            ReasonCode = "translation"
	ReasonTranslateRateLimit   ReasonCode = "translation_rate_limit"
	ReasonTranslateCircuitOpen ReasonCode = "translation_circuit_open"

	ReasonHistoryWrite ReasonCode = "history_write"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
