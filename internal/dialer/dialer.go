// Package dialer defines the pluggable dialer contract: the abstraction
// over telephony providers that source or terminate calls and stream their
// media to the gateway.
//
// Grounded on original_source/app/services/dialers/base.py's AudioConverter
// / MessageBuilder / ConnectionHandler / DialerService ABCs, collapsed into
// one Go interface bundling the same four operation groups plus outbound
// call initiation, matching the contract table in SPEC_FULL.md §4.2.
package dialer

import "context"

// EventType tags a canonical dialer event.
type EventType int

const (
	EventUnknown EventType = iota
	EventStart
	EventMedia
	EventStop
	EventMark
	EventDTMF
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventStop:
		return "stop"
	case EventMark:
		return "mark"
	case EventDTMF:
		return "dtmf"
	default:
		return "unknown"
	}
}

// Event is the canonical tagged-union dialer event (spec §3).
type Event struct {
	Type EventType

	// Populated when Type == EventStart.
	CallID           string
	StreamID         string
	CustomParameters map[string]string

	// Populated when Type == EventMedia: the dialer-encoded opaque audio
	// payload (e.g. base64 mu-law), not yet decoded to PCM.
	AudioPayload string

	// Populated when Type == EventMark.
	MarkName string

	// Populated when Type == EventDTMF.
	Digit string
}

// OutboundResult is the outcome of asking a dialer provider to place a call.
type OutboundResult struct {
	Success bool
	CallID  string
	Status  string
	Message string
}

// Session holds the per-call, per-direction codec state (the stateful
// resamplers) a bridge uses for the lifetime of one call. A fresh Session
// must be created per call and discarded when the call ends; its internal
// resampler phase/last-sample state must never be shared across calls.
type Session interface {
	// DialerToPCM converts an opaque dialer-encoded payload (e.g. base64
	// mu-law) to canonical PCM 16kHz mono, using this session's upstream
	// resampler state.
	DialerToPCM(payload string) ([]byte, error)

	// PCMToDialer converts a canonical PCM frame to a dialer-encoded
	// payload, using this session's downstream resampler state.
	PCMToDialer(pcm []byte) (string, error)
}

// Dialer is the pluggable contract a telephony provider implements.
type Dialer interface {
	// Name returns the dialer's registered name.
	Name() string

	// ValidateConfig reports whether the plugin's required configuration
	// (credentials, phone numbers, etc.) is present and well formed.
	ValidateConfig() bool

	// NewSession creates the per-call codec state used for the call's
	// entire upstream/downstream transcoding.
	NewSession() Session

	// Parse decodes a raw wire message into a canonical Event. Never
	// returns an error for a message missing fields it expects; an
	// unrecognized or malformed message yields EventUnknown.
	Parse(raw []byte) (Event, error)

	// BuildAudio builds the outbound wire frame carrying a dialer-encoded
	// payload (already produced via Session.PCMToDialer) for streamID.
	BuildAudio(streamID string, dialerPayload string) ([]byte, error)

	// BuildConnect builds the inbound-call connection directive pointing
	// the dialer at wsURL, optionally carrying custom parameters.
	BuildConnect(wsURL string, customParams map[string]string) (body []byte, contentType string, err error)

	// BuildUnavailable builds the dialer-formatted "service unavailable"
	// directive used when inbound-call setup fails.
	BuildUnavailable() (body []byte, contentType string)

	// InitiateOutbound asks the dialer provider to place a call and point
	// its media at wsURL.
	InitiateOutbound(ctx context.Context, to, agentID string, variables map[string]any, wsURL string) (OutboundResult, error)
}

// ClearBuilder is an optional capability: dialers that support a
// provider-specific "clear buffered audio" control (SPEC_FULL.md §4.4's
// interruption handling) implement this; the bridge type-asserts for it
// and falls back to simply stopping forwarding when absent.
type ClearBuilder interface {
	BuildClear(streamID string) ([]byte, error)
}
