// Package elevenlabs implements the reference JSON/WebSocket agent
// (SPEC_FULL.md §4.3), modeled on ElevenLabs' conversational-AI WebSocket
// protocol.
//
// Grounded on pkg/connection/websocket_connection.go for the WebSocket
// transport mechanics (ping/pong timers, context-cancellation lifecycle,
// synchronized writes) generalized from a raw-audio envelope to the
// ElevenLabs wire contract described in original_source's
// app/services/agents/elevenlabs/* and SPEC_FULL.md §4.3/§6: init message
// conversation_initiation_client_data, upstream user_audio_chunk,
// downstream audio/agent_response_event/user_transcription_event/
// interruption_event, and an internally-answered ping_event/pong_event
// exchange that never surfaces to the bridge.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voicegateway/gateway/internal/agent"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	handshakeTimeout = 15 * time.Second
	firstUseWindow   = 15 * time.Minute
)

// Config holds the ElevenLabs API credentials.
type Config struct {
	APIKey  string
	BaseURL string
}

// Agent implements agent.Agent for the ElevenLabs-style JSON/WebSocket
// conversational-AI protocol.
type Agent struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, httpClient: &http.Client{Timeout: handshakeTimeout}}
}

func (a *Agent) Name() string { return "elevenlabs" }

func (a *Agent) ValidateConfig() bool {
	return a.cfg.APIKey != "" && a.cfg.BaseURL != ""
}

var _ agent.Agent = (*Agent)(nil)

// signedURL exchanges the API key for a short-lived signed WebSocket URL.
// Grounded on SPEC_FULL.md §4.3's "API-key -> signed WS URL with a 15-
// minute first-use window" out-of-band handshake description.
func (a *Agent) signedURL(ctx context.Context, agentID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get-signed-url?agent_id=%s", a.cfg.BaseURL, url.QueryEscape(agentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build signed-url request: %w", err)
	}
	req.Header.Set("xi-api-key", a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("signed-url handshake failed with status %d", resp.StatusCode)
	}

	var body struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode signed-url response: %w", err)
	}
	if body.SignedURL == "" {
		return "", fmt.Errorf("signed-url response missing signed_url")
	}
	return body.SignedURL, nil
}

func (a *Agent) Connect(ctx context.Context, agentID string, variables map[string]any) (agent.AgentStream, error) {
	if !a.ValidateConfig() {
		return nil, fmt.Errorf("elevenlabs agent is not configured")
	}

	wsURL, err := a.signedURL(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs handshake: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs websocket dial: %w", err)
	}

	s := &stream{
		conn:       conn,
		variables:  variables,
		events:     make(chan agent.Event, 64),
		sendCh:     make(chan []byte, 64),
		connectedAt: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.wg.Add(3)
	go s.readPump()
	go s.writePump()
	go s.pingPump()

	return s, nil
}

// --- wire contract ---

type initMessage struct {
	Type             string         `json:"type"`
	DynamicVariables map[string]any `json:"dynamic_variables"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type downstreamEnvelope struct {
	Type          string          `json:"type"`
	AudioEvent    *audioEvent     `json:"audio_event,omitempty"`
	AgentResponse *agentResponse  `json:"agent_response_event,omitempty"`
	Transcription *transcription  `json:"user_transcription_event,omitempty"`
	PingEvent     *pingEvent      `json:"ping_event,omitempty"`
	RawError      json.RawMessage `json:"error,omitempty"`
}

type audioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
}

type agentResponse struct {
	AgentResponse string `json:"agent_response"`
}

type transcription struct {
	UserTranscript string `json:"user_transcript"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// stream implements agent.AgentStream over a gorilla/websocket connection.
type stream struct {
	conn      *websocket.Conn
	variables map[string]any

	events chan agent.Event
	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed      atomic.Bool
	closeMu     sync.Mutex
	writeMu     sync.Mutex
	connectedAt time.Time
}

var _ agent.AgentStream = (*stream)(nil)

func (s *stream) Initialize(ctx context.Context) error {
	msg := initMessage{Type: "conversation_initiation_client_data", DynamicVariables: s.variables}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal init message: %w", err)
	}
	return s.send(b)
}

func (s *stream) SendAudio(pcm []byte) error {
	msg := userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal audio chunk: %w", err)
	}
	return s.send(b)
}

func (s *stream) send(b []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("stream closed")
	}
}

func (s *stream) Receive(ctx context.Context) (agent.Event, bool, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return agent.Event{}, false, nil
		}
		return ev, true, nil
	case <-ctx.Done():
		return agent.Event{}, false, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.conn.Close()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *stream) readPump() {
	defer s.wg.Done()
	// Close waits on wg, so it runs on its own goroutine rather than inside
	// this one.
	defer func() { go s.Close() }()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(agent.Event{Type: agent.EventError, Err: err})
			}
			return
		}
		s.handleDownstream(raw)
	}
}

// handleDownstream dispatches a decoded downstream frame. Ping frames are
// answered here with a matching pong and never reach s.events, per the
// spec's "ping/keep-alive handling is encapsulated inside the stream".
func (s *stream) handleDownstream(raw []byte) {
	var env downstreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("decode downstream frame: %w", err)})
		return
	}

	switch env.Type {
	case "audio":
		if env.AudioEvent == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(env.AudioEvent.AudioBase64)
		if err != nil {
			s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("decode downstream audio: %w", err)})
			return
		}
		s.emit(agent.Event{Type: agent.EventAudio, Audio: pcm})

	case "agent_response_event":
		if env.AgentResponse != nil {
			s.emit(agent.Event{Type: agent.EventText, Text: env.AgentResponse.AgentResponse})
		}

	case "user_transcription_event":
		if env.Transcription != nil {
			s.emit(agent.Event{Type: agent.EventTranscription, Text: env.Transcription.UserTranscript, TranscriptionSource: "user"})
		}

	case "interruption_event":
		s.emit(agent.Event{Type: agent.EventInterruption})

	case "ping_event":
		if env.PingEvent != nil {
			s.answerPing(env.PingEvent.EventID)
		}

	case "error":
		s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("agent reported error: %s", string(env.RawError))})

	default:
		// Unknown/metadata frames are ignored at the stream level, matching
		// the bridge's "pong/metadata ignored" rule for anything this
		// stream doesn't already have a specific case for.
	}
}

func (s *stream) answerPing(eventID int) {
	b, err := json.Marshal(pongMessage{Type: "pong_event", EventID: eventID})
	if err != nil {
		return
	}
	_ = s.send(b)
}

func (s *stream) emit(ev agent.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *stream) writePump() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case b, ok := <-s.sendCh:
			if !ok {
				return
			}
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.TextMessage, b)
			s.writeMu.Unlock()
			if err != nil {
				s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("write to agent: %w", err)})
				return
			}
		}
	}
}

func (s *stream) pingPump() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

var _ = firstUseWindow // documented window; enforcement lives with the signed-URL provider
