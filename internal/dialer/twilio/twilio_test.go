package twilio

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/voicegateway/gateway/internal/dialer"
)

func TestParseStartEvent(t *testing.T) {
	d := New(Config{})
	raw := []byte(`{"event":"start","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},"customParameters":{"agent_id":"AG1"}}}`)

	ev, err := d.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != dialer.EventStart {
		t.Fatalf("expected EventStart, got %v", ev.Type)
	}
	if ev.CallID != "CA1" || ev.StreamID != "MZ1" {
		t.Errorf("unexpected start fields: %+v", ev)
	}
	if ev.CustomParameters["agent_id"] != "AG1" {
		t.Errorf("expected agent_id AG1, got %v", ev.CustomParameters)
	}
}

func TestParseUnknownOnMissingFields(t *testing.T) {
	d := New(Config{})

	// Valid JSON, but an event type this dialer doesn't recognize.
	raw := []byte(`{"event":"somethingElse"}`)
	ev, err := d.Parse(raw)
	if err != nil {
		t.Fatalf("Parse must never error on unrecognized frames: %v", err)
	}
	if ev.Type != dialer.EventUnknown {
		t.Errorf("expected EventUnknown, got %v", ev.Type)
	}

	// A "start" event missing its payload.
	raw = []byte(`{"event":"start"}`)
	ev, err = d.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != dialer.EventUnknown {
		t.Errorf("expected EventUnknown for start with no payload, got %v", ev.Type)
	}
}

func TestParseMediaEvent(t *testing.T) {
	d := New(Config{})
	payload := base64.StdEncoding.EncodeToString([]byte{0x7f, 0xff, 0x00})
	raw := []byte(`{"event":"media","media":{"track":"inbound","payload":"` + payload + `"}}`)

	ev, err := d.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != dialer.EventMedia {
		t.Fatalf("expected EventMedia, got %v", ev.Type)
	}
	if ev.AudioPayload != payload {
		t.Errorf("expected payload %s, got %s", payload, ev.AudioPayload)
	}
}

func TestParseIgnoresOutboundTrack(t *testing.T) {
	d := New(Config{})
	raw := []byte(`{"event":"media","media":{"track":"outbound","payload":"AAA="}}`)
	ev, err := d.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != dialer.EventUnknown {
		t.Errorf("expected outbound-track media to be ignored (EventUnknown), got %v", ev.Type)
	}
}

func TestSessionCodecRoundTripLength(t *testing.T) {
	d := New(Config{})
	s := d.NewSession()

	// 160 bytes of mu-law at 8kHz = 160 samples = 20ms.
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = 0xFF
	}
	payload := base64.StdEncoding.EncodeToString(mulaw)

	pcm16k, err := s.DialerToPCM(payload)
	if err != nil {
		t.Fatalf("DialerToPCM: %v", err)
	}
	// 160 samples @ 8kHz -> ~320 samples @ 16kHz -> 640 bytes, within 1 sample tolerance.
	expected := 640
	diff := len(pcm16k) - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > 2 {
		t.Errorf("expected ~%d bytes of 16kHz PCM, got %d", expected, len(pcm16k))
	}

	backPayload, err := s.PCMToDialer(pcm16k)
	if err != nil {
		t.Fatalf("PCMToDialer: %v", err)
	}
	backMulaw, err := base64.StdEncoding.DecodeString(backPayload)
	if err != nil {
		t.Fatalf("decode round-trip payload: %v", err)
	}
	diff = len(backMulaw) - len(mulaw)
	if diff < 0 {
		diff = -diff
	}
	if diff > 2 {
		t.Errorf("round trip length drifted: in=%d out=%d", len(mulaw), len(backMulaw))
	}
}

func TestBuildAudioFrame(t *testing.T) {
	d := New(Config{})
	frame, err := d.BuildAudio("MZ1", "cGF5bG9hZA==")
	if err != nil {
		t.Fatalf("BuildAudio: %v", err)
	}
	var msg mediaMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("unmarshal built frame: %v", err)
	}
	if msg.Event != "media" || msg.StreamSid != "MZ1" || msg.Media.Payload != "cGF5bG9hZA==" {
		t.Errorf("unexpected built frame: %+v", msg)
	}
}

func TestBuildConnectXML(t *testing.T) {
	d := New(Config{})
	body, contentType, err := d.BuildConnect("wss://host/twilio/media-stream", map[string]string{"agent_id": "AG1"})
	if err != nil {
		t.Fatalf("BuildConnect: %v", err)
	}
	if contentType != "application/xml" {
		t.Errorf("expected application/xml, got %s", contentType)
	}
	s := string(body)
	if !strings.Contains(s, `<Stream url="wss://host/twilio/media-stream">`) {
		t.Errorf("expected Stream url in body, got %s", s)
	}
	if !strings.Contains(s, `<Parameter name="agent_id" value="AG1">`) && !strings.Contains(s, `<Parameter name="agent_id" value="AG1"`) {
		t.Errorf("expected agent_id parameter in body, got %s", s)
	}
}

func TestBuildUnavailableXML(t *testing.T) {
	d := New(Config{})
	body, contentType := d.BuildUnavailable()
	if contentType != "application/xml" {
		t.Errorf("expected application/xml, got %s", contentType)
	}
	if !strings.Contains(string(body), "Service temporarily unavailable") {
		t.Errorf("expected unavailable message, got %s", body)
	}
}

func TestCustomParamsFromBooleanCoercion(t *testing.T) {
	params := customParamsFrom("AG1", "+15550100", map[string]any{
		"eligible": true,
		"waived":   false,
		"name":     "Ada",
	})
	if params["agent_id"] != "AG1" || params["to_number"] != "+15550100" {
		t.Errorf("unexpected base params: %+v", params)
	}
	if params["eligible"] != "true" {
		t.Errorf("expected eligible=true, got %v", params["eligible"])
	}
	if params["waived"] != "false" {
		t.Errorf("expected waived=false, got %v", params["waived"])
	}
	if params["name"] != "Ada" {
		t.Errorf("expected name=Ada passthrough, got %v", params["name"])
	}
}
