// Package bridge implements the per-call state machine that couples one
// dialer socket with one agent stream (SPEC_FULL.md §4.4).
//
// Grounded on original_source/app/routers/dialer.py's media_stream handler,
// re-expressed as idiomatic concurrent Go (goroutines + channels + an
// explicit State type in place of implicit asyncio control flow), plus
// pkg/connection/twilio_connection.go's idempotent-close/WaitGroup-ordered
// shutdown choreography and pkg/pipeline.ClearableChan for interruption
// handling.
package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegateway/gateway/internal/agent"
	"github.com/voicegateway/gateway/internal/callcontext"
	"github.com/voicegateway/gateway/internal/dialer"
	"github.com/voicegateway/gateway/internal/gatewayerr"
	"github.com/voicegateway/gateway/internal/registry"
)

// State is the bridge's lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateAccepted
	StateStarting
	StateRunning
	StateClosing
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateTerminal:
		return "terminal"
	default:
		return "idle"
	}
}

// Socket is the minimal transport a bridge drives against a dialer
// connection. Implemented directly against *websocket.Conn in
// internal/httpapi, per the decision to keep transport glue close to where
// it is used rather than behind a shared generic connection package.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
}

// cleanupBudget bounds how long the CLOSING sequence is given to complete
// before an individual close step is abandoned, per SPEC_FULL.md §5.
const cleanupBudget = 5 * time.Second

// Config bundles the shared, process-wide collaborators a bridge needs.
type Config struct {
	Dialers      *registry.Registry[dialer.Dialer]
	Agents       *registry.Registry[agent.Agent]
	ContextStore *callcontext.Store
	DefaultAgent string
	Logger       *zap.Logger
}

// Bridge couples one dialer socket with one agent stream for the lifetime
// of a single call.
type Bridge struct {
	cfg    Config
	d      dialer.Dialer
	socket Socket
	log    *zap.Logger

	mu    sync.Mutex
	state State

	session  dialer.Session
	stream   agent.AgentStream
	callID   string
	streamID string

	downstream chan []byte   // bounded queue: downstream pump -> socket writer
	stop       chan struct{} // closed once, signals runSocketWriter/enqueueDownstream to stop

	closeOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a bridge for one dialer connection. Run must be called to
// drive it.
func New(cfg Config, d dialer.Dialer, socket Socket) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:        cfg,
		d:          d,
		socket:     socket,
		log:        logger.Named("bridge"),
		state:      StateIdle,
		downstream: make(chan []byte, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// signalStop closes the stop channel exactly once.
func (b *Bridge) signalStop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Run drives the bridge to completion: it reads from the dialer socket
// until the call ends by any path, then performs the CLOSING sequence.
// Run returns once the bridge has reached TERMINAL.
func (b *Bridge) Run(ctx context.Context) {
	b.setState(StateAccepted)
	defer b.close()

	for {
		raw, err := b.socket.ReadMessage()
		if err != nil {
			b.log.Debug("dialer socket read ended", zap.Error(err))
			return
		}

		ev, err := b.d.Parse(raw)
		if err != nil {
			// Parse never errors per contract (EventUnknown on malformed
			// input); a non-nil error here is itself a decode failure.
			b.log.Warn("dialer parse returned error", zap.Error(err))
			continue
		}

		switch ev.Type {
		case dialer.EventStart:
			if b.State() != StateAccepted {
				// I2: a second start for a call already in progress is an
				// error, not a no-op — close the bridge rather than ignore it.
				b.log.Error("duplicate start event for call already in progress", zap.String("call_id", b.callID), zap.String("state", b.State().String()))
				return
			}
			if !b.start(ctx, ev) {
				return
			}
		case dialer.EventMedia:
			if b.State() != StateRunning {
				continue
			}
			b.pumpUpstream(ev.AudioPayload)
		case dialer.EventStop:
			return
		case dialer.EventMark, dialer.EventDTMF, dialer.EventUnknown:
			// observable logging only; no state transition
		}
	}
}

// start handles the STARTING transition: context resolution, agent
// selection, handshake, and kicking off the downstream pump plus the
// single at-most-once initialization call (P5).
func (b *Bridge) start(ctx context.Context, ev dialer.Event) bool {
	b.setState(StateStarting)
	b.callID = ev.CallID
	b.streamID = ev.StreamID

	agentID, variables, ok := b.resolveContext(ev)
	if !ok {
		b.log.Error("no context and no agent_id in custom parameters", zap.String("call_id", b.callID))
		return false
	}

	a, err := b.cfg.Agents.Get(agentID)
	if err != nil {
		a, err = b.cfg.Agents.Get(b.cfg.DefaultAgent)
		if err != nil {
			b.log.Error("no agent plugin available", zap.Error(err))
			return false
		}
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	stream, err := a.Connect(handshakeCtx, agentID, variables)
	if err != nil {
		b.log.Error("agent handshake failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindAgentHandshake, "agent.Connect", err)))
		return false
	}
	b.stream = stream

	if err := stream.Initialize(handshakeCtx); err != nil {
		b.log.Error("agent initialize failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindAgentHandshake, "agent.Initialize", err)))
		stream.Close()
		return false
	}

	b.session = b.d.NewSession()

	go b.runDownstreamPump(ctx)
	go b.runSocketWriter()

	b.setState(StateRunning)
	return true
}

// resolveContext implements the STARTING context-resolution rule: context
// store first, custom-parameter fallback second, booleans coerced.
func (b *Bridge) resolveContext(ev dialer.Event) (agentID string, variables map[string]any, ok bool) {
	if b.cfg.ContextStore != nil {
		if c, found := b.cfg.ContextStore.Get(ev.CallID); found {
			return c.AgentID, c.DynamicVariables, true
		}
	}

	agentID, hasAgent := ev.CustomParameters["agent_id"]
	if !hasAgent || agentID == "" {
		return "", nil, false
	}

	variables = make(map[string]any, len(ev.CustomParameters))
	for k, v := range ev.CustomParameters {
		if k == "agent_id" {
			continue
		}
		variables[k] = coerceBool(v)
	}
	return agentID, variables, true
}

func coerceBool(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	default:
		return v
	}
}

// pumpUpstream transcodes one dialer media payload to canonical PCM and
// forwards it to the agent stream, preserving arrival order (P6): this is
// called synchronously from Run's read loop, never concurrently.
func (b *Bridge) pumpUpstream(payload string) {
	pcm, err := b.session.DialerToPCM(payload)
	if err != nil {
		b.log.Warn("decode upstream audio failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindDecode, "dialer_to_pcm", err)))
		return
	}
	if err := b.stream.SendAudio(pcm); err != nil {
		b.log.Warn("send_audio failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindDownstreamIO, "agent.SendAudio", err)))
	}
}

// runDownstreamPump consumes agent events and either enqueues dialer audio
// frames or reacts to control events, per §4.4's downstream-pump table.
func (b *Bridge) runDownstreamPump(ctx context.Context) {
	for {
		ev, ok, err := b.stream.Receive(ctx)
		if err != nil || !ok {
			if err != nil {
				b.log.Debug("agent stream receive ended with error", zap.Error(err))
			}
			b.triggerClose()
			return
		}

		switch ev.Type {
		case agent.EventAudio:
			payload, err := b.session.PCMToDialer(ev.Audio)
			if err != nil {
				b.log.Warn("encode downstream audio failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindDecode, "pcm_to_dialer", err)))
				continue
			}
			frame, err := b.d.BuildAudio(b.streamID, payload)
			if err != nil {
				b.log.Warn("build_audio failed", zap.Error(err))
				continue
			}
			b.enqueueDownstream(frame)

		case agent.EventText:
			b.log.Debug("agent text", zap.String("call_id", b.callID), zap.String("text", ev.Text))

		case agent.EventTranscription:
			b.log.Debug("agent transcription", zap.String("call_id", b.callID), zap.String("source", ev.TranscriptionSource), zap.String("text", ev.Text))

		case agent.EventInterruption:
			b.handleInterruption()

		case agent.EventError:
			b.log.Error("agent stream error", zap.Error(ev.Err))
			b.triggerClose()
			return
		}
	}
}

// enqueueDownstream drops the frame rather than blocking forever if the
// socket writer has fallen behind past the channel's bound; SPEC_FULL.md §5
// requires no unbounded buffering, and a full queue here means the dialer
// socket is the bottleneck, which CLOSING will address.
func (b *Bridge) enqueueDownstream(frame []byte) {
	select {
	case <-b.stop:
		return
	default:
	}
	select {
	case b.downstream <- frame:
	case <-b.stop:
	default:
		b.log.Warn("downstream queue full, dropping frame", zap.String("call_id", b.callID))
	}
}

// handleInterruption implements §4.4's interruption rule: drop any
// downstream audio already queued for the socket, then emit a
// provider-specific clear control if the dialer supports it. Called only
// from runDownstreamPump, so it never races enqueueDownstream's producer
// side. The clear frame goes through enqueueDownstream/runSocketWriter like
// every other outbound frame, rather than writing the socket directly, so
// the dialer socket keeps exactly one writer (§5).
func (b *Bridge) handleInterruption() {
	for {
		select {
		case <-b.downstream:
		default:
			goto drained
		}
	}
drained:
	if cb, ok := b.d.(dialer.ClearBuilder); ok {
		frame, err := cb.BuildClear(b.streamID)
		if err != nil {
			b.log.Warn("build_clear failed", zap.Error(err))
			return
		}
		b.enqueueDownstream(frame)
	}
}

// runSocketWriter is the dialer socket's single writer, serializing
// downstream frames queued by runDownstreamPump (one writer per socket, per
// §5's "single writer by convention" rule).
func (b *Bridge) runSocketWriter() {
	for {
		select {
		case <-b.stop:
			return
		case frame := <-b.downstream:
			if err := b.socket.WriteMessage(frame); err != nil {
				b.log.Debug("write to dialer socket failed", zap.Error(gatewayerr.Wrap(gatewayerr.KindUpstreamIO, "socket.WriteMessage", err)))
				b.triggerClose()
				return
			}
		}
	}
}

// triggerClose causes Run's read loop to unwind by closing the socket,
// which makes the next ReadMessage return an error. Safe to call from any
// goroutine; idempotent via close().
func (b *Bridge) triggerClose() {
	b.socket.Close()
}

// close performs the ordered CLOSING sequence (§4.4): stop the downstream
// pump, close the agent stream, close the dialer socket, delete the
// context. Every step is independently recovered so a failure in one does
// not prevent the next (P7: idempotent, safe to invoke more than once).
func (b *Bridge) close() {
	b.closeOnce.Do(func() {
		b.setState(StateClosing)

		done := make(chan struct{})
		go func() {
			defer close(done)
			b.safely("stop downstream queue", func() error {
				b.signalStop()
				return nil
			})
			if b.stream != nil {
				b.safely("close agent stream", b.stream.Close)
			}
			b.safely("close dialer socket", b.socket.Close)
			if b.cfg.ContextStore != nil && b.callID != "" {
				b.safely("delete call context", func() error {
					b.cfg.ContextStore.Delete(b.callID)
					return nil
				})
			}
		}()

		select {
		case <-done:
		case <-time.After(cleanupBudget):
			b.log.Warn("cleanup exceeded budget, abandoning remaining steps", zap.String("call_id", b.callID))
		}

		b.setState(StateTerminal)
		close(b.done)
	})
}

func (b *Bridge) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic during cleanup step", zap.String("step", step), zap.Any("recover", r))
		}
	}()
	if err := fn(); err != nil {
		b.log.Debug("cleanup step returned error", zap.String("step", step), zap.Error(err))
	}
}

// Done returns a channel closed once the bridge has reached TERMINAL.
func (b *Bridge) Done() <-chan struct{} { return b.done }
