// Package room implements the reference room-based agent (SPEC_FULL.md
// §4.3), modeled on a LiveKit-style "agent dispatch" flow: the agent is not
// reached by a raw WebSocket handshake the gateway drives directly, but by
// an out-of-band HTTP dispatch call that hands back a room identity
// (room_token, websocket_url, room_name); the gateway then joins that room
// over its own WebSocket connection as a relay participant.
//
// Registered under the name "elevenlabs-room" (SPEC_FULL.md §9, resolved
// Open Question c) to pair with the dialer/room package for a fully
// room-native call path, distinct from the JSON/WebSocket elevenlabs agent.
package room

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voicegateway/gateway/internal/agent"
)

const (
	dispatchTimeout = 15 * time.Second
	writeWait       = 10 * time.Second
	eventQueueDepth = 64
)

// Config holds the room coordinator's dispatch endpoint and credentials.
type Config struct {
	DispatchURL string
	APIKey      string
}

// Agent implements agent.Agent by dispatching a room job over HTTP and then
// relaying PCM audio over the returned room's WebSocket.
type Agent struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, httpClient: &http.Client{Timeout: dispatchTimeout}}
}

func (a *Agent) Name() string { return "elevenlabs-room" }

func (a *Agent) ValidateConfig() bool {
	return a.cfg.DispatchURL != "" && a.cfg.APIKey != ""
}

var _ agent.Agent = (*Agent)(nil)

type dispatchRequest struct {
	AgentID          string         `json:"agent_id"`
	DynamicVariables map[string]any `json:"dynamic_variables"`
}

type dispatchResponse struct {
	RoomToken    string `json:"room_token"`
	WebSocketURL string `json:"websocket_url"`
	RoomName     string `json:"room_name"`
}

func (a *Agent) dispatch(ctx context.Context, agentID string, variables map[string]any) (dispatchResponse, error) {
	reqBody, err := json.Marshal(dispatchRequest{AgentID: agentID, DynamicVariables: variables})
	if err != nil {
		return dispatchResponse{}, fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.DispatchURL, bytes.NewReader(reqBody))
	if err != nil {
		return dispatchResponse{}, fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return dispatchResponse{}, fmt.Errorf("dispatching room job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return dispatchResponse{}, fmt.Errorf("room dispatch failed with status %d", resp.StatusCode)
	}

	var out dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return dispatchResponse{}, fmt.Errorf("decode dispatch response: %w", err)
	}
	if out.WebSocketURL == "" || out.RoomName == "" {
		return dispatchResponse{}, fmt.Errorf("dispatch response missing room identity")
	}
	return out, nil
}

func (a *Agent) Connect(ctx context.Context, agentID string, variables map[string]any) (agent.AgentStream, error) {
	if !a.ValidateConfig() {
		return nil, fmt.Errorf("room agent is not configured")
	}

	room, err := a.dispatch(ctx, agentID, variables)
	if err != nil {
		return nil, fmt.Errorf("room agent handshake: %w", err)
	}

	header := http.Header{}
	if room.RoomToken != "" {
		header.Set("Authorization", "Bearer "+room.RoomToken)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, room.WebSocketURL, header)
	if err != nil {
		return nil, fmt.Errorf("room websocket dial: %w", err)
	}

	s := &stream{
		conn:     conn,
		roomName: room.RoomName,
		events:   make(chan agent.Event, eventQueueDepth),
		sendCh:   make(chan []byte, eventQueueDepth),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.readPump()
	go s.writePump()

	return s, nil
}

// roomFrame is the minimal wire envelope carrying media and control events
// once joined to a room, mirroring internal/dialer/room's frame shape since
// both sides of a fully room-native call speak the same room protocol.
type roomFrame struct {
	Event       string `json:"event"`
	TrackID     string `json:"track_id,omitempty"`
	Payload     string `json:"payload,omitempty"` // base64 PCM
	Text        string `json:"text,omitempty"`
	Source      string `json:"source,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

type stream struct {
	conn     *websocket.Conn
	roomName string

	events chan agent.Event
	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
	writeMu sync.Mutex
}

var _ agent.AgentStream = (*stream)(nil)

func (s *stream) Initialize(ctx context.Context) error {
	// The room was already personalized with dynamic variables at dispatch
	// time; joining the room's WebSocket is itself the initialization, so
	// there is no separate init frame to send here.
	return nil
}

func (s *stream) SendAudio(pcm []byte) error {
	f := roomFrame{Event: "media", Payload: base64.StdEncoding.EncodeToString(pcm)}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal room audio frame: %w", err)
	}
	return s.send(b)
}

func (s *stream) send(b []byte) error {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
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
	if s.closed {
		return nil
	}
	s.closed = true

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
		s.handleFrame(raw)
	}
}

func (s *stream) handleFrame(raw []byte) {
	var f roomFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("decode room frame: %w", err)})
		return
	}

	switch f.Event {
	case "media":
		pcm, err := base64.StdEncoding.DecodeString(f.Payload)
		if err != nil {
			s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("decode room audio: %w", err)})
			return
		}
		s.emit(agent.Event{Type: agent.EventAudio, Audio: pcm})
	case "text":
		s.emit(agent.Event{Type: agent.EventText, Text: f.Text})
	case "transcription":
		s.emit(agent.Event{Type: agent.EventTranscription, Text: f.Text, TranscriptionSource: f.Source})
	case "interruption":
		s.emit(agent.Event{Type: agent.EventInterruption})
	default:
		// Room control/metadata frames (join/leave/track subscription) are
		// not part of the canonical agent event surface.
	}
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
				s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("write to room: %w", err)})
				return
			}
		}
	}
}
