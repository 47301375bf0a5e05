// Command gatewayd is the voice gateway's entrypoint: it loads
// configuration, registers the dialer and agent plugins, and serves the
// HTTP+WebSocket surface described in SPEC_FULL.md §6 until interrupted.
//
// Grounded on examples/twilio-voice-assistant/main.go's config-load /
// signal-handling / graceful-shutdown shape, generalized from one hardcoded
// pipeline factory to the dialer/agent-registry-driven bridge.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voicegateway/gateway/internal/agent"
	"github.com/voicegateway/gateway/internal/agent/elevenlabs"
	agentroom "github.com/voicegateway/gateway/internal/agent/room"
	"github.com/voicegateway/gateway/internal/callcontext"
	"github.com/voicegateway/gateway/internal/config"
	"github.com/voicegateway/gateway/internal/dialer"
	"github.com/voicegateway/gateway/internal/dialer/room"
	"github.com/voicegateway/gateway/internal/dialer/twilio"
	"github.com/voicegateway/gateway/internal/httpapi"
	"github.com/voicegateway/gateway/internal/registry"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("starting voicegateway", zap.String("environment", cfg.Environment))

	dialers := registry.New[dialer.Dialer]("dialer")
	dialers.SetOverwriteWarning(func(name string) {
		logger.Warn("dialer plugin overwritten", zap.String("name", name))
	})
	dialers.Register("twilio", twilio.New(twilio.Config{
		AccountSid:  cfg.TwilioAccountSid,
		AuthToken:   cfg.TwilioAuthToken,
		PhoneNumber: cfg.TwilioPhoneNumber,
	}))
	dialers.Register("room", room.New(room.Config{
		BaseURL: cfg.PublicHost,
		APIKey:  cfg.ElevenLabsAPIKey,
	}))

	agents := registry.New[agent.Agent]("agent")
	agents.SetOverwriteWarning(func(name string) {
		logger.Warn("agent plugin overwritten", zap.String("name", name))
	})
	agents.Register("elevenlabs", elevenlabs.New(elevenlabs.Config{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsBaseURL,
	}))
	agents.Register("elevenlabs-room", agentroom.New(agentroom.Config{
		DispatchURL: cfg.ElevenLabsBaseURL + "/v1/convai/room/dispatch",
		APIKey:      cfg.ElevenLabsAPIKey,
	}))

	store := callcontext.NewStore()

	server := httpapi.New(httpapi.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		PublicHost:     cfg.PublicHost,
		Dialers:        dialers,
		Agents:         agents,
		ContextStore:   store,
		DefaultAgent:   cfg.DefaultAgent,
		IsPermittedKey: cfg.IsPermittedAPIKey,
		Logger:         logger,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Fatal("server exited", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("goodbye")
}

func newLogger(environment string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}
