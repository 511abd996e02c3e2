// Package config loads process-wide configuration for the bridge server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings needed to stand up the Bridge Controller and its
// Upstream Session Manager. Load fills each field from the environment, with
// a default for anything unset.
type Config struct {
	ListenAddr string

	// UpstreamBaseURL is the speech service's session-creation HTTP endpoint.
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UpstreamModel   string
	UpstreamVoice   string

	NestedAgentsURL   string
	CodeModifierURL   string

	ICEServers []string

	// CredentialTimeout is loaded but not applied anywhere: the ephemeral
	// credential HTTP call is bounded only by the signaling request's context.
	CredentialTimeout time.Duration
	// ICEGatherTimeout bounds the wait for ICE gathering, both for a
	// browser's SDP answer and for the upstream SDP offer.
	ICEGatherTimeout time.Duration
	// DataChannelOpenTimeout bounds waiting for the upstream data channel.
	DataChannelOpenTimeout time.Duration

	SQLitePath string
}

// Load builds a Config from the process environment, filling in defaults for
// anything unset. It never fails: a misconfigured upstream surfaces later, as
// a credential error on first signal, not a startup error.
func Load() Config {
	cfg := Config{
		ListenAddr:             getEnv("BRIDGE_LISTEN_ADDR", ":8080"),
		UpstreamBaseURL:        getEnv("BRIDGE_UPSTREAM_URL", "https://api.openai.com/v1/realtime/sessions"),
		UpstreamAPIKey:         os.Getenv("BRIDGE_UPSTREAM_API_KEY"),
		UpstreamModel:          getEnv("BRIDGE_UPSTREAM_MODEL", "gpt-4o-realtime-preview"),
		UpstreamVoice:          getEnv("BRIDGE_UPSTREAM_VOICE", "verse"),
		NestedAgentsURL:        getEnv("BRIDGE_NESTED_AGENTS_URL", "ws://localhost:8090/ws/nested"),
		CodeModifierURL:        getEnv("BRIDGE_CODE_MODIFIER_URL", "ws://localhost:8091/ws/code-modifier"),
		ICEServers:             []string{getEnv("BRIDGE_STUN_SERVER", "stun:stun.l.google.com:19302")},
		CredentialTimeout:      getEnvDuration("BRIDGE_CREDENTIAL_TIMEOUT", 10*time.Second),
		ICEGatherTimeout:       getEnvDuration("BRIDGE_ICE_GATHER_TIMEOUT", 5*time.Second),
		DataChannelOpenTimeout: getEnvDuration("BRIDGE_DATACHANNEL_TIMEOUT", 10*time.Second),
		SQLitePath:             getEnv("BRIDGE_SQLITE_PATH", "bridge.db"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
