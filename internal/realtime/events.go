package realtime

// Event type strings for the inbound/outbound JSON event taxonomy,
// named exactly as spec.md §4.7 lists them.
const (
	evResponseCreated            = "response.created"
	evResponseDone                = "response.done"
	evResponseAudioDelta          = "response.audio.delta"
	evAudioTranscriptDelta        = "response.audio_transcript.delta"
	evAudioTranscriptDone         = "response.audio_transcript.done"
	evSpeechStarted               = "input_audio_buffer.speech_started"
	evSpeechStopped               = "input_audio_buffer.speech_stopped"
	evTranscriptionCompleted      = "conversation.item.input_audio_transcription.completed"
	evError                       = "error"

	evInputAudioBufferAppend = "input_audio_buffer.append"
	evInputAudioBufferClear  = "input_audio_buffer.clear"
	evResponseCreate         = "response.create"
	evResponseCancel         = "response.cancel"
	evSessionUpdate          = "session.update"
)

// outboundEvent is the envelope for every event this client sends. Only
// the fields relevant to a given Type are populated; gorilla/websocket's
// json.Marshal (via conn.WriteJSON) omits the rest via omitempty.
type outboundEvent struct {
	Type     string           `json:"type"`
	Audio    string           `json:"audio,omitempty"`
	Response *responseOptions `json:"response,omitempty"`
	Session  *sessionConfig   `json:"session,omitempty"`
}

// responseOptions carries the optional modality/prompt override for a
// response.create event; spec.md §4.8 allows the turn controller to
// request a specific reply rather than relying on the model's default.
type responseOptions struct {
	Modalities []string `json:"modalities,omitempty"`
	Prompt     string   `json:"instructions,omitempty"`
}

// sessionConfig is sent once as part of session.update in direct mode,
// where (unlike edge mode) this client is talking straight to the
// vendor endpoint and must supply model/voice/prompt itself.
type sessionConfig struct {
	Model        string   `json:"model,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
}

// inboundEvent is the envelope for every event this client receives.
// Fields not present in a given event type are simply left zero.
type inboundEvent struct {
	Type       string        `json:"type"`
	Delta      string        `json:"delta,omitempty"`      // audio (base64) or transcript text delta
	Transcript string        `json:"transcript,omitempty"` // completed transcript text
	Error      *inboundError `json:"error,omitempty"`
}

type inboundError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
