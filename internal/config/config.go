// Package config loads gateway configuration from the process environment.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the environment-driven settings the gateway needs to start.
// There is no validation framework and no remote config source here: config
// loading is out of scope as a feature, this is just enough to boot.
type Config struct {
	// Host/bind
	Host string
	Port string

	// Environment label, e.g. "production", "staging", "development"
	Environment string
	LogLevel    string

	// Twilio (reference dialer) credentials
	TwilioAccountSid  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// ElevenLabs (reference agent) credentials
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string

	DefaultDialer string
	DefaultAgent  string

	// Comma-separated list of API keys permitted to call the outbound-call
	// endpoint.
	PermittedAPIKeys []string

	// PublicHost is the host (and optional :port) used to build the wss://
	// media-stream URL handed back to dialers. Falls back to Host:Port.
	PublicHost string
}

// Load reads an optional .env file (if present) into the process
// environment and then builds a Config from os.Getenv, applying defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Host:              getEnv("GATEWAY_HOST", "0.0.0.0"),
		Port:              getEnv("GATEWAY_PORT", "8080"),
		Environment:       getEnv("GATEWAY_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		TwilioAccountSid:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		DefaultDialer:     getEnv("DEFAULT_DIALER", "twilio"),
		DefaultAgent:      getEnv("DEFAULT_AGENT", "elevenlabs"),
		PublicHost:        getEnv("GATEWAY_PUBLIC_HOST", ""),
	}

	if keys := getEnv("PERMITTED_API_KEYS", ""); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				cfg.PermittedAPIKeys = append(cfg.PermittedAPIKeys, k)
			}
		}
	}

	if cfg.PublicHost == "" {
		cfg.PublicHost = cfg.Host + ":" + cfg.Port
	}

	return cfg
}

// IsPermittedAPIKey reports whether key is in the configured allow-list.
// An empty allow-list denies everything; full key management (rotation,
// per-key scoping) is out of scope here.
func (c *Config) IsPermittedAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.PermittedAPIKeys {
		if k == key {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

