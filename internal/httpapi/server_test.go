package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegateway/gateway/internal/agent"
	"github.com/voicegateway/gateway/internal/callcontext"
	"github.com/voicegateway/gateway/internal/dialer"
	"github.com/voicegateway/gateway/internal/registry"
)

// --- test dialer: a minimal JSON-wire dialer for exercising the HTTP layer ---

type testFrame struct {
	Event            string            `json:"event"`
	CallID           string            `json:"call_id,omitempty"`
	StreamID         string            `json:"stream_id,omitempty"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
	Payload          string            `json:"payload,omitempty"`
}

type testDialer struct {
	outboundCalls []outboundCall
}

type outboundCall struct {
	to, agentID string
	variables   map[string]any
	wsURL       string
}

func (d *testDialer) Name() string             { return "testdialer" }
func (d *testDialer) ValidateConfig() bool      { return true }
func (d *testDialer) NewSession() dialer.Session { return passthroughSession{} }

func (d *testDialer) Parse(raw []byte) (dialer.Event, error) {
	var f testFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return dialer.Event{Type: dialer.EventUnknown}, nil
	}
	switch f.Event {
	case "start":
		return dialer.Event{Type: dialer.EventStart, CallID: f.CallID, StreamID: f.StreamID, CustomParameters: f.CustomParameters}, nil
	case "media":
		return dialer.Event{Type: dialer.EventMedia, AudioPayload: f.Payload}, nil
	case "stop":
		return dialer.Event{Type: dialer.EventStop}, nil
	default:
		return dialer.Event{Type: dialer.EventUnknown}, nil
	}
}

func (d *testDialer) BuildAudio(streamID, payload string) ([]byte, error) {
	return json.Marshal(testFrame{Event: "media", StreamID: streamID, Payload: payload})
}

func (d *testDialer) BuildConnect(wsURL string, customParams map[string]string) ([]byte, string, error) {
	body, _ := json.Marshal(map[string]string{"ws_url": wsURL})
	return body, "application/json", nil
}

func (d *testDialer) BuildUnavailable() ([]byte, string) {
	return []byte(`{"error":"unavailable"}`), "application/json"
}

func (d *testDialer) InitiateOutbound(ctx context.Context, to, agentID string, variables map[string]any, wsURL string) (dialer.OutboundResult, error) {
	d.outboundCalls = append(d.outboundCalls, outboundCall{to: to, agentID: agentID, variables: variables, wsURL: wsURL})
	return dialer.OutboundResult{Success: true, CallID: "C1", Status: "initiated", Message: "ok"}, nil
}

var _ dialer.Dialer = (*testDialer)(nil)

type passthroughSession struct{}

func (passthroughSession) DialerToPCM(payload string) ([]byte, error) { return []byte(payload), nil }
func (passthroughSession) PCMToDialer(pcm []byte) (string, error)     { return string(pcm), nil }

// --- test agent ---

type testAgentStream struct {
	events chan agent.Event
}

func (s *testAgentStream) Initialize(ctx context.Context) error { return nil }
func (s *testAgentStream) SendAudio(pcm []byte) error           { return nil }
func (s *testAgentStream) Receive(ctx context.Context) (agent.Event, bool, error) {
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
func (s *testAgentStream) Close() error { return nil }

type testAgent struct{}

func (testAgent) Name() string         { return "testagent" }
func (testAgent) ValidateConfig() bool { return true }
func (testAgent) Connect(ctx context.Context, agentID string, variables map[string]any) (agent.AgentStream, error) {
	return &testAgentStream{events: make(chan agent.Event)}, nil
}

var _ agent.Agent = testAgent{}

func newTestServer(t *testing.T) (*Server, *testDialer) {
	t.Helper()
	d := &testDialer{}
	dialers := registry.New[dialer.Dialer]("dialer")
	dialers.Register("testdialer", d)

	agents := registry.New[agent.Agent]("agent")
	agents.Register("testagent", testAgent{})

	cfg := Config{
		Host:         "127.0.0.1",
		Port:         "0",
		Dialers:      dialers,
		Agents:       agents,
		ContextStore: callcontext.NewStore(),
		DefaultAgent: "testagent",
		IsPermittedKey: func(key string) bool {
			return key == "K1"
		},
	}
	return New(cfg), d
}

func TestHandleRootAndHealth(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp2.Body.Close()
	var body map[string]any
	json.NewDecoder(resp2.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body)
	}
}

func TestIncomingCallStoresContextAndReturnsDirective(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550100"}, "To": {"+15550200"}}
	resp, err := http.PostForm(srv.URL+"/testdialer/incoming-call", form)
	if err != nil {
		t.Fatalf("POST incoming-call: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if !strings.Contains(body["ws_url"], "/testdialer/media-stream") {
		t.Errorf("expected ws_url to target media-stream, got %v", body)
	}

	if _, found := s.cfg.ContextStore.Get("CA1"); !found {
		t.Error("expected context to be stored under CallSid")
	}
}

func TestIncomingCallUnknownDialerReturnsFallback(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/unknown/incoming-call", url.Values{"CallSid": {"CA1"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown dialer, got %d", resp.StatusCode)
	}
}

func TestOutboundCallRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/testdialer/outbound-call", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "ApiKey" {
		t.Errorf("expected WWW-Authenticate: ApiKey, got %q", resp.Header.Get("WWW-Authenticate"))
	}
}

func TestOutboundCallCarriesParameters(t *testing.T) {
	s, d := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	reqBody := map[string]any{
		"agent_id": "AG1",
		"metadata": map[string]any{
			"to_number":         "+15550300",
			"dynamic_variables": map[string]any{"name": "Ada", "eligible": true},
		},
	}
	b, _ := json.Marshal(reqBody)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/testdialer/outbound-call", bytes.NewReader(b))
	req.Header.Set("X-API-Key", "K1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["call_id"] != "C1" || out["success"] != true {
		t.Errorf("unexpected response: %v", out)
	}

	if len(d.outboundCalls) != 1 {
		t.Fatalf("expected exactly one InitiateOutbound call, got %d", len(d.outboundCalls))
	}
	call := d.outboundCalls[0]
	if call.to != "+15550300" || call.agentID != "AG1" {
		t.Errorf("unexpected outbound call: %+v", call)
	}
	if call.variables["eligible"] != true {
		t.Errorf("expected eligible=true to pass through, got %v", call.variables)
	}
}

func TestOutboundCallMissingToNumber(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/testdialer/outbound-call", bytes.NewReader([]byte(`{"agent_id":"AG1","metadata":{}}`)))
	req.Header.Set("X-API-Key", "K1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing to_number, got %d", resp.StatusCode)
	}
}

func TestMediaStreamEndToEnd(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/testdialer/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media-stream: %v", err)
	}
	defer conn.Close()

	start := testFrame{Event: "start", CallID: "CA1", StreamID: "MZ1", CustomParameters: map[string]string{"agent_id": "testagent"}}
	b, _ := json.Marshal(start)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write start: %v", err)
	}

	media := testFrame{Event: "media", Payload: "abc"}
	b, _ = json.Marshal(media)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write media: %v", err)
	}

	stop := testFrame{Event: "stop"}
	b, _ = json.Marshal(stop)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Error("expected the bridge to close the connection after stop")
	}
}
