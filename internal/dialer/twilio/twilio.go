// Package twilio implements the reference mu-law/8kHz JSON-framed dialer
// (SPEC_FULL.md §4.2), modeled on Twilio Media Streams.
//
// Grounded on pkg/connection/twilio_connection.go (wire structs, message
// dispatch shape, gorilla/websocket usage) and
// birddigital-signalwire-telephony's call-handlers.go (encoding/xml TwiML
// struct marshaling) and call-initiator.go (form-encoded REST call with
// HTTP Basic Auth for outbound calls).
package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voicegateway/gateway/internal/dialer"
	"github.com/voicegateway/gateway/pkg/audio"
)

const (
	InputSampleRate  = 8000
	OutputSampleRate = 8000
	PCMSampleRate    = 16000

	outboundTimeout = 15 * time.Second
)

// Config holds the Twilio account credentials needed for outbound calls.
type Config struct {
	AccountSid  string
	AuthToken   string
	PhoneNumber string
}

// Dialer implements dialer.Dialer for Twilio-style Media Streams.
type Dialer struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Twilio reference dialer.
func New(cfg Config) *Dialer {
	return &Dialer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: outboundTimeout},
	}
}

func (d *Dialer) Name() string { return "twilio" }

func (d *Dialer) ValidateConfig() bool {
	return d.cfg.AccountSid != "" && d.cfg.AuthToken != "" && d.cfg.PhoneNumber != ""
}

// session implements dialer.Session with the stateful 8kHz<->16kHz
// resamplers required by SPEC_FULL.md §4.1.
type session struct {
	upstream   *audio.LinearResampler // 8kHz -> 16kHz
	downstream *audio.LinearResampler // 16kHz -> 8kHz
}

func (d *Dialer) NewSession() dialer.Session {
	up, _ := audio.NewLinearResampler(InputSampleRate, PCMSampleRate)
	down, _ := audio.NewLinearResampler(PCMSampleRate, OutputSampleRate)
	return &session{upstream: up, downstream: down}
}

func (s *session) DialerToPCM(payload string) ([]byte, error) {
	mulawData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 mulaw payload: %w", err)
	}
	pcm8k := decodeUlawFrame(mulawData)
	pcm16k, err := s.upstream.Resample(pcm8k)
	if err != nil {
		return nil, fmt.Errorf("resample 8k->16k: %w", err)
	}
	return pcm16k, nil
}

func (s *session) PCMToDialer(pcm []byte) (string, error) {
	pcm8k, err := s.downstream.Resample(pcm)
	if err != nil {
		return "", fmt.Errorf("resample 16k->8k: %w", err)
	}
	mulawData := encodeUlawFrame(pcm8k)
	return base64.StdEncoding.EncodeToString(mulawData), nil
}

// --- wire messages ---

type mediaMessage struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid,omitempty"`
	Start     *startPayload  `json:"start,omitempty"`
	Media     *mediaPayload  `json:"media,omitempty"`
	Stop      *stopPayload   `json:"stop,omitempty"`
	Mark      *markPayload   `json:"mark,omitempty"`
	DTMF      *dtmfPayload   `json:"dtmf,omitempty"`
}

type startPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Parse decodes a raw Twilio Media Streams frame into a canonical event.
// Never errors on an unrecognized event: the event is tagged EventUnknown.
func (d *Dialer) Parse(raw []byte) (dialer.Event, error) {
	var msg mediaMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return dialer.Event{Type: dialer.EventUnknown}, nil
	}

	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return dialer.Event{Type: dialer.EventUnknown}, nil
		}
		return dialer.Event{
			Type:             dialer.EventStart,
			CallID:           msg.Start.CallSid,
			StreamID:         msg.Start.StreamSid,
			CustomParameters: msg.Start.CustomParameters,
		}, nil
	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return dialer.Event{Type: dialer.EventUnknown}, nil
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return dialer.Event{Type: dialer.EventUnknown}, nil
		}
		return dialer.Event{Type: dialer.EventMedia, AudioPayload: msg.Media.Payload}, nil
	case "stop":
		callID := ""
		if msg.Stop != nil {
			callID = msg.Stop.CallSid
		}
		return dialer.Event{Type: dialer.EventStop, CallID: callID}, nil
	case "mark":
		if msg.Mark == nil {
			return dialer.Event{Type: dialer.EventUnknown}, nil
		}
		return dialer.Event{Type: dialer.EventMark, MarkName: msg.Mark.Name}, nil
	case "dtmf":
		if msg.DTMF == nil {
			return dialer.Event{Type: dialer.EventUnknown}, nil
		}
		return dialer.Event{Type: dialer.EventDTMF, Digit: msg.DTMF.Digit}, nil
	default:
		return dialer.Event{Type: dialer.EventUnknown}, nil
	}
}

func (d *Dialer) BuildAudio(streamID string, dialerPayload string) ([]byte, error) {
	msg := mediaMessage{
		Event:     "media",
		StreamSid: streamID,
		Media:     &mediaPayload{Payload: dialerPayload},
	}
	return json.Marshal(msg)
}

// BuildClear builds the Twilio "clear" control frame used by the bridge to
// discard buffered downstream audio on agent interruption (SPEC_FULL.md
// §4.4's "provider-specific clear buffer control").
func (d *Dialer) BuildClear(streamID string) ([]byte, error) {
	msg := mediaMessage{Event: "clear", StreamSid: streamID}
	return json.Marshal(msg)
}

// --- TwiML connection directive, grounded on birddigital's encoding/xml structs ---

type twiMLResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twiMLConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twiMLConnect struct {
	Stream twiMLStream `xml:"Stream"`
}

type twiMLStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twiMLParameter `xml:"Parameter"`
}

type twiMLParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (d *Dialer) BuildConnect(wsURL string, customParams map[string]string) ([]byte, string, error) {
	stream := twiMLStream{URL: wsURL}
	for k, v := range customParams {
		stream.Parameters = append(stream.Parameters, twiMLParameter{Name: k, Value: v})
	}
	resp := twiMLResponse{Connect: &twiMLConnect{Stream: stream}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(resp); err != nil {
		return nil, "", fmt.Errorf("encode TwiML: %w", err)
	}
	return buf.Bytes(), "application/xml", nil
}

func (d *Dialer) BuildUnavailable() ([]byte, string) {
	resp := twiMLResponse{Say: "Service temporarily unavailable", Hangup: &struct{}{}}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	_ = enc.Encode(resp)
	return buf.Bytes(), "application/xml"
}

// InitiateOutbound places an outbound call via Twilio's REST API, pointing
// the call's TwiML at wsURL (handled by the gateway itself via a
// <Connect><Stream> directive carrying the custom parameters). Grounded on
// birddigital-signalwire-telephony's form-encoded POST + HTTP Basic Auth
// pattern for the provider's Calls endpoint.
func (d *Dialer) InitiateOutbound(ctx context.Context, to, agentID string, variables map[string]any, wsURL string) (dialer.OutboundResult, error) {
	if !d.ValidateConfig() {
		return dialer.OutboundResult{}, fmt.Errorf("twilio dialer is not configured")
	}

	twiml, _, err := d.BuildConnect(wsURL, customParamsFrom(agentID, to, variables))
	if err != nil {
		return dialer.OutboundResult{}, err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", d.cfg.PhoneNumber)
	form.Set("Twiml", string(twiml))

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Calls.json", d.cfg.AccountSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return dialer.OutboundResult{}, fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.cfg.AccountSid, d.cfg.AuthToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return dialer.OutboundResult{}, fmt.Errorf("calling twilio api: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode >= 300 {
		return dialer.OutboundResult{
			Success: false,
			Status:  strconv.Itoa(resp.StatusCode),
			Message: "twilio api call failed",
		}, fmt.Errorf("twilio api returned status %d", resp.StatusCode)
	}

	return dialer.OutboundResult{
		Success: true,
		CallID:  body.Sid,
		Status:  body.Status,
		Message: "call initiated",
	}, nil
}

// customParamsFrom composes the custom_params map carried in the connection
// directive, per SPEC_FULL.md §4.6: agent_id, to_number, and every dynamic
// variable, booleans stringified "true"/"false".
func customParamsFrom(agentID, to string, variables map[string]any) map[string]string {
	params := map[string]string{
		"agent_id":  agentID,
		"to_number": to,
	}
	for k, v := range variables {
		switch val := v.(type) {
		case bool:
			if val {
				params[k] = "true"
			} else {
				params[k] = "false"
			}
		case string:
			params[k] = val
		default:
			params[k] = fmt.Sprintf("%v", val)
		}
	}
	return params
}

var _ dialer.Dialer = (*Dialer)(nil)
