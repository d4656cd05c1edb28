// Package config loads runtime configuration from environment variables
// with defaults. The API credential is read once here at boot.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Remote API
	APIKey      string
	ChatModel   string
	SpeechModel string
	ImageModel  string
	Voice       string

	// Optional fully-local transcription; empty means remote.
	WhisperModel string

	// UI server
	ListenAddr string

	// Recording
	MaxRecord time.Duration

	// Playback ducking of other desktop streams
	DuckFactor float64
	DuckFade   time.Duration
}

// Load reads configuration from the environment. Only the API key is
// mandatory; the generation stages always run remotely.
func Load() (Config, error) {
	cfg := Config{
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		ChatModel:    envStr("SAGE_CHAT_MODEL", "gpt-4o"),
		SpeechModel:  envStr("SAGE_SPEECH_MODEL", "gpt-4o-mini-tts"),
		ImageModel:   envStr("SAGE_IMAGE_MODEL", "dall-e-3"),
		Voice:        envStr("SAGE_VOICE", "alloy"),
		WhisperModel: os.Getenv("SAGE_WHISPER_MODEL"),
		ListenAddr:   envStr("SAGE_LISTEN_ADDR", "127.0.0.1:8930"),
		MaxRecord:    envDur("SAGE_MAX_RECORD", 30*time.Second),
		DuckFactor:   envFloat("SAGE_DUCK_FACTOR", 0.3),
		DuckFade:     envDur("SAGE_DUCK_FADE", 300*time.Millisecond),
	}

	if cfg.APIKey == "" {
		return Config{}, errors.New("OPENAI_API_KEY not set")
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
