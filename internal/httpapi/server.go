// Package httpapi wires the HTTP+WebSocket surface described in
// SPEC_FULL.md §4.5-§4.8 and §6: root/health, inbound-call setup,
// outbound-call initiation, and the media-stream WebSocket endpoint that
// instantiates one bridge per call.
//
// Grounded on pkg/server/twilio_server.go's overall shape (config struct,
// ListenAndServe lifecycle, per-session bookkeeping, graceful Stop with
// context cancellation + wg.Wait) and birddigital-signalwire-telephony's
// CallHandlers/CallInitiator (form-value extraction, TwiML marshal, status
// mapping), generalized from one hardcoded provider to the dialer/agent
// registries.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicegateway/gateway/internal/agent"
	"github.com/voicegateway/gateway/internal/bridge"
	"github.com/voicegateway/gateway/internal/callcontext"
	"github.com/voicegateway/gateway/internal/dialer"
	"github.com/voicegateway/gateway/internal/gatewayerr"
	"github.com/voicegateway/gateway/internal/registry"
)

// ContextResolver builds a CallContext for an inbound call from its form
// values. The default implementation is a small static/demo resolver; a
// real deployment substitutes a lookup against a campaign/CRM system
// without changing the handler or bridge (SPEC_FULL.md §9, resolved Open
// Question).
type ContextResolver func(r *http.Request) (callcontext.Context, error)

// StaticContextResolver returns a ContextResolver that always yields the
// same context, naming defaultAgent as the agent id. Matches the source's
// hardcoded demo inbound handler.
func StaticContextResolver(defaultAgent string) ContextResolver {
	return func(r *http.Request) (callcontext.Context, error) {
		return callcontext.Context{AgentID: defaultAgent, DynamicVariables: map[string]any{}}, nil
	}
}

// Config bundles everything the HTTP server needs.
type Config struct {
	Host            string
	Port            string
	PublicHost      string // external host used to build wss:// media-stream URLs
	Dialers         *registry.Registry[dialer.Dialer]
	Agents          *registry.Registry[agent.Agent]
	ContextStore    *callcontext.Store
	ContextResolver ContextResolver
	DefaultAgent    string
	IsPermittedKey  func(key string) bool
	Logger          *zap.Logger
}

// Server is the gateway's HTTP+WebSocket front door.
type Server struct {
	cfg    Config
	log    *zap.Logger
	http   *http.Server
	upgrd  websocket.Upgrader
	mu     sync.Mutex
	active map[string]*bridge.Bridge
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContextResolver == nil {
		cfg.ContextResolver = StaticContextResolver(cfg.DefaultAgent)
	}

	s := &Server{
		cfg:    cfg,
		log:    logger.Named("httpapi"),
		active: make(map[string]*bridge.Bridge),
		upgrd:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /{dialer}/incoming-call", s.handleIncomingCall)
	mux.HandleFunc("POST /{dialer}/outbound-call", s.handleOutboundCall)
	mux.HandleFunc("GET /{dialer}/media-stream", s.handleMediaStream)

	s.http = &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is stopped or an
// unrecoverable listen error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "voicegateway",
		"version": "1.0.0",
		"status":  "running",
	})
}

// statusForKind maps a gatewayerr.Kind to the HTTP status SPEC_FULL.md §7
// assigns it at ingress, so handlers decide status codes from the error's
// kind rather than matching its text.
func statusForKind(k gatewayerr.Kind) int {
	switch k {
	case gatewayerr.KindAuth:
		return http.StatusUnauthorized
	case gatewayerr.KindNotFound:
		return http.StatusNotFound
	case gatewayerr.KindConfigInvalid:
		return http.StatusInternalServerError
	case gatewayerr.KindBadRequest, gatewayerr.KindDecode:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleIncomingCall implements §4.5: look up the dialer plugin, build a
// CallContext, store it under the dialer-supplied call id, and return the
// dialer's connection directive. Errors return the dialer's own
// "unavailable" directive rather than a generic HTTP error.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	dialerName := r.PathValue("dialer")
	d, err := s.cfg.Dialers.Get(dialerName)
	if err != nil {
		s.writeUnavailableFallback(w, fmt.Sprintf("unknown dialer %q", dialerName))
		return
	}
	if !d.ValidateConfig() {
		s.writeUnavailable(w, d, gatewayerr.New(gatewayerr.KindConfigInvalid, "dialer not configured"))
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeUnavailable(w, d, gatewayerr.Wrap(gatewayerr.KindBadRequest, "parse form", err))
		return
	}

	callCtx, err := s.cfg.ContextResolver(r)
	if err != nil {
		s.writeUnavailable(w, d, gatewayerr.Wrap(gatewayerr.KindContextMissing, "resolve context", err))
		return
	}

	callID := firstNonEmpty(r.FormValue("CallSid"), r.FormValue("call_id"), r.FormValue("CallId"))
	if callID == "" {
		s.writeUnavailable(w, d, gatewayerr.New(gatewayerr.KindBadRequest, "missing call id"))
		return
	}
	s.cfg.ContextStore.Save(callID, callCtx)

	wsURL := s.mediaStreamURL(dialerName)
	body, contentType, err := d.BuildConnect(wsURL, nil)
	if err != nil {
		s.writeUnavailable(w, d, gatewayerr.Wrap(gatewayerr.KindConfigInvalid, "build_connect", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleOutboundCall implements §4.6: authenticated outbound-call
// initiation, composing custom_params and delegating to the dialer plugin.
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if s.cfg.IsPermittedKey == nil || !s.cfg.IsPermittedKey(apiKey) {
		authErr := gatewayerr.New(gatewayerr.KindAuth, "missing or invalid API key")
		w.Header().Set("WWW-Authenticate", "ApiKey")
		writeJSON(w, statusForKind(gatewayerr.KindOf(authErr)), map[string]any{"error": authErr.Error()})
		return
	}

	dialerName := r.PathValue("dialer")
	d, err := s.cfg.Dialers.Get(dialerName)
	if err != nil {
		notFoundErr := gatewayerr.Wrap(gatewayerr.KindNotFound, "resolve dialer", err)
		writeJSON(w, statusForKind(gatewayerr.KindOf(notFoundErr)), map[string]any{"error": notFoundErr.Error()})
		return
	}
	if !d.ValidateConfig() {
		cfgErr := gatewayerr.New(gatewayerr.KindConfigInvalid, "dialer plugin is not configured")
		writeJSON(w, statusForKind(gatewayerr.KindOf(cfgErr)), map[string]any{"error": cfgErr.Error()})
		return
	}

	var reqBody struct {
		AgentID string `json:"agent_id"`
		Session string `json:"session_id"`
		Metadata struct {
			ToNumber         string         `json:"to_number"`
			DynamicVariables map[string]any `json:"dynamic_variables"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		decodeErr := gatewayerr.Wrap(gatewayerr.KindDecode, "decode outbound-call body", err)
		writeJSON(w, statusForKind(gatewayerr.KindOf(decodeErr)), map[string]any{"error": decodeErr.Error()})
		return
	}
	if reqBody.Metadata.ToNumber == "" {
		badReqErr := gatewayerr.New(gatewayerr.KindBadRequest, "to_number is required")
		writeJSON(w, statusForKind(gatewayerr.KindOf(badReqErr)), map[string]any{"error": badReqErr.Error()})
		return
	}

	wsURL := s.mediaStreamURL(dialerName)
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	result, err := d.InitiateOutbound(ctx, reqBody.Metadata.ToNumber, reqBody.AgentID, reqBody.Metadata.DynamicVariables, wsURL)
	if err != nil {
		upstreamErr := gatewayerr.Wrap(gatewayerr.KindUpstreamIO, "initiate outbound call", err)
		writeJSON(w, statusForKind(gatewayerr.KindOf(upstreamErr)), map[string]any{"error": upstreamErr.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": result.Success,
		"call_id": result.CallID,
		"to":      reqBody.Metadata.ToNumber,
		"status":  result.Status,
		"message": result.Message,
	})
}

// handleMediaStream upgrades to a WebSocket and runs one bridge for the
// call's lifetime (§4.4).
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	dialerName := r.PathValue("dialer")
	d, err := s.cfg.Dialers.Get(dialerName)
	if err != nil {
		notFoundErr := gatewayerr.Wrap(gatewayerr.KindNotFound, "resolve dialer", err)
		http.Error(w, notFoundErr.Error(), statusForKind(gatewayerr.KindOf(notFoundErr)))
		return
	}

	conn, err := s.upgrd.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sock := &wsSocket{conn: conn}
	b := bridge.New(bridge.Config{
		Dialers:      s.cfg.Dialers,
		Agents:       s.cfg.Agents,
		ContextStore: s.cfg.ContextStore,
		DefaultAgent: s.cfg.DefaultAgent,
		Logger:       s.log,
	}, d, sock)

	token := conn.RemoteAddr().String() + "-" + dialerName
	s.track(token, b)
	defer s.untrack(token)

	b.Run(r.Context())
}

func (s *Server) track(token string, b *bridge.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[token] = b
}

func (s *Server) untrack(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, token)
}

func (s *Server) mediaStreamURL(dialerName string) string {
	host := s.cfg.PublicHost
	if host == "" {
		host = s.cfg.Host + ":" + s.cfg.Port
	}
	return fmt.Sprintf("wss://%s/%s/media-stream", host, dialerName)
}

func (s *Server) writeUnavailable(w http.ResponseWriter, d dialer.Dialer, cause error) {
	s.log.Error("inbound call setup failed", zap.Error(cause))
	body, contentType := d.BuildUnavailable()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeUnavailableFallback is used when the dialer plugin itself could not
// be resolved, so there is no dialer-specific unavailable body to build.
func (s *Server) writeUnavailableFallback(w http.ResponseWriter, reason string) {
	notFoundErr := gatewayerr.New(gatewayerr.KindNotFound, reason)
	s.log.Error("inbound call setup failed", zap.Error(notFoundErr))
	writeJSON(w, statusForKind(gatewayerr.KindOf(notFoundErr)), map[string]any{"error": notFoundErr.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// wsSocket adapts *websocket.Conn to bridge.Socket.
type wsSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsSocket) ReadMessage() ([]byte, error) {
	_, b, err := w.conn.ReadMessage()
	return b, err
}

func (w *wsSocket) WriteMessage(b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsSocket) Close() error {
	return w.conn.Close()
}

var _ bridge.Socket = (*wsSocket)(nil)
