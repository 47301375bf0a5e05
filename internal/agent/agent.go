// Package agent defines the pluggable agent contract: the abstraction over
// conversational-AI providers that consume canonical PCM audio and produce
// agent audio, text, transcription, and control events.
//
// Grounded on original_source/app/services/agents/base.py's
// AgentMessageHandler / AgentStream / AgentService ABCs, translated into Go
// interfaces matching SPEC_FULL.md §4.3.
package agent

import "context"

// EventType tags a canonical agent event.
type EventType int

const (
	EventUnknown EventType = iota
	EventAudio
	EventText
	EventTranscription
	EventInterruption
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTranscription:
		return "transcription"
	case EventInterruption:
		return "interruption"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the canonical tagged-union agent event (spec §3). Ping/pong
// keep-alives are deliberately absent from this type: per SPEC_FULL.md
// §4.3, ping/keep-alive handling is encapsulated entirely inside the
// AgentStream and never surfaced to callers.
type Event struct {
	Type EventType

	Audio []byte // EventAudio: canonical PCM 16kHz mono

	Text string // EventText or EventTranscription

	// TranscriptionSource is populated for EventTranscription, e.g. "user".
	TranscriptionSource string

	Err error // EventError
}

// AgentStream is an open connection to a conversational-AI provider for the
// duration of one call.
type AgentStream interface {
	// Initialize sends the provider's initialization frame carrying the
	// call's dynamic variables. Must complete before any audio is sent.
	Initialize(ctx context.Context) error

	// SendAudio sends a canonical PCM 16kHz mono frame to the agent.
	// Under steady state this must not block the caller indefinitely;
	// back-pressure is acceptable, silent drop is not.
	SendAudio(pcm []byte) error

	// Receive returns the next canonical agent event, blocking until one
	// is available or the stream ends (io.EOF-equivalent via a nil error,
	// zero Event, and ok=false).
	Receive(ctx context.Context) (Event, bool, error)

	// Close releases the stream's resources. Idempotent.
	Close() error
}

// Agent is the pluggable contract a conversational-AI provider implements.
type Agent interface {
	// Name returns the agent's registered name.
	Name() string

	// ValidateConfig reports whether the plugin's required configuration
	// (API keys, base URLs) is present and well formed.
	ValidateConfig() bool

	// Connect performs the out-of-band handshake and opens the stream for
	// agentID, personalized with the given dynamic variables.
	Connect(ctx context.Context, agentID string, variables map[string]any) (AgentStream, error)
}
