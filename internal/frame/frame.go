package frame

// Frame is the atomic message flowing through the pipeline. It is a closed
// set of variants: audio and text data frames tagged with the utterance or
// turn they belong to, plus out-of-band control frames. Stages forward any
// frame kind they do not handle, which is what lets control frames traverse
// the whole chain.
type Frame interface {
	// Kind returns a short stable name for logging and metrics.
	Kind() string

	frame() // closed set
}

// AudioChunk is a raw PCM16 segment from the transport. Sequence is
// monotonically increasing per direction within a session.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Sequence   uint64
}

// TranscriptPartial is a provisional recognition result. It may be superseded
// by a later partial or a final carrying the same UtteranceID.
type TranscriptPartial struct {
	Text        string
	UtteranceID string
}

// TranscriptFinal is the terminal recognition result for one utterance.
// Exactly one final is ever acted on per UtteranceID.
type TranscriptFinal struct {
	Text        string
	UtteranceID string
}

// GenerationToken is one incremental text delta from the generation stage.
type GenerationToken struct {
	Text   string
	TurnID string
}

// GenerationComplete terminates a generation stream. Text carries the full
// assembled reply so the assistant aggregator does not have to re-join
// tokens.
type GenerationComplete struct {
	TurnID string
	Text   string
}

// SynthesisChunk is one segment of synthesized audio for a turn.
type SynthesisChunk struct {
	Data       []byte
	SampleRate int
	TurnID     string
}

// SynthesisComplete terminates the synthesized audio for a turn.
type SynthesisComplete struct {
	TurnID string
}

// ControlKind enumerates the out-of-band control signals.
type ControlKind int

const (
	ControlStartTurn ControlKind = iota
	ControlInterrupt
	ControlCancel
	ControlEndOfStream
	ControlStageError
)

// String returns the control kind name.
func (k ControlKind) String() string {
	switch k {
	case ControlStartTurn:
		return "start_turn"
	case ControlInterrupt:
		return "interrupt"
	case ControlCancel:
		return "cancel"
	case ControlEndOfStream:
		return "end_of_stream"
	case ControlStageError:
		return "stage_error"
	default:
		return "unknown"
	}
}

// Control is an out-of-band signal. For StageError frames, Stage names the
// failing stage, Err carries the message and Fatal marks failures the whole
// session must stop for; all three are zero otherwise.
type Control struct {
	CtrlKind ControlKind
	TurnID   string
	Stage    string
	Err      string
	Fatal    bool
}

func (AudioChunk) frame()         {}
func (TranscriptPartial) frame()  {}
func (TranscriptFinal) frame()    {}
func (GenerationToken) frame()    {}
func (GenerationComplete) frame() {}
func (SynthesisChunk) frame()     {}
func (SynthesisComplete) frame()  {}
func (Control) frame()            {}

func (AudioChunk) Kind() string         { return "audio_chunk" }
func (TranscriptPartial) Kind() string  { return "transcript_partial" }
func (TranscriptFinal) Kind() string    { return "transcript_final" }
func (GenerationToken) Kind() string    { return "generation_token" }
func (GenerationComplete) Kind() string { return "generation_complete" }
func (SynthesisChunk) Kind() string     { return "synthesis_chunk" }
func (SynthesisComplete) Kind() string  { return "synthesis_complete" }

func (c Control) Kind() string { return "control_" + c.CtrlKind.String() }

// TurnOf returns the turn or utterance identifier threading a frame through
// the pipeline, or "" for frames that carry none (audio input).
func TurnOf(f Frame) string {
	switch v := f.(type) {
	case TranscriptPartial:
		return v.UtteranceID
	case TranscriptFinal:
		return v.UtteranceID
	case GenerationToken:
		return v.TurnID
	case GenerationComplete:
		return v.TurnID
	case SynthesisChunk:
		return v.TurnID
	case SynthesisComplete:
		return v.TurnID
	case Control:
		return v.TurnID
	default:
		return ""
	}
}

// StageError builds the control frame a stage emits when a per-turn failure
// has exhausted its retry budget.
func StageError(stage, turnID string, err error) Control {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Control{CtrlKind: ControlStageError, TurnID: turnID, Stage: stage, Err: msg}
}
