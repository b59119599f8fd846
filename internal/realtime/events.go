package realtime

// Client events.
const (
	eventSessionUpdate  = "session.update"
	eventAudioAppend    = "input_audio_buffer.append"
	eventAudioCommit    = "input_audio_buffer.commit"
	eventResponseCreate = "response.create"
)

// Server events. Anything not listed here is ignored.
const (
	eventSessionCreated  = "session.created"
	eventSessionUpdated  = "session.updated"
	eventAudioDelta      = "response.audio.delta"
	eventTranscriptDelta = "response.audio_transcript.delta"
	eventResponseDone    = "response.done"
	eventError           = "error"
)

// ChunkKind distinguishes the two kinds of streamed output.
type ChunkKind string

// Chunk kinds.
const (
	ChunkAudio      ChunkKind = "audio_delta"
	ChunkTranscript ChunkKind = "transcript_delta"
)

// Chunk is one piece of a streamed response.
type Chunk struct {
	Kind       ChunkKind
	Audio      []byte
	Transcript string
}

type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionParams `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`

	// TurnDetection is always sent as null: the device decides when a turn
	// ends and the bridge commits the buffer explicitly.
	TurnDetection *struct{} `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e serverEvent) backendError() *BackendError {
	if e.Error == nil {
		return &BackendError{Message: "unknown error"}
	}
	msg := e.Error.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &BackendError{Type: e.Error.Type, Code: e.Error.Code, Message: msg}
}
