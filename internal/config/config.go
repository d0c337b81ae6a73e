package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config contains all runtime settings for the dubbing orchestration service.
type Config struct {
	BindAddr         string        `toml:"bind_addr"`
	ShutdownTimeout  time.Duration `toml:"-"`
	MetricsNamespace string        `toml:"metrics_namespace"`
	AllowAnyOrigin   bool          `toml:"allow_any_origin"`

	// Provider mode selects real collaborator services or local mocks.
	ProviderMode string `toml:"provider_mode"`

	OCRStreamURL    string        `toml:"ocr_stream_url"`
	OCRPollInterval time.Duration `toml:"-"`

	SynthesisURL     string        `toml:"synthesis_url"`
	SynthesisTimeout time.Duration `toml:"-"`

	ScriptBaseURL string `toml:"script_base_url"`

	StabilityThreshold int     `toml:"stability_threshold"`
	MinConfidence      float64 `toml:"min_confidence"`
	MinSimilarity      float64 `toml:"min_similarity"`
	MatchWindow        int     `toml:"match_window"`

	NarratorVoice string   `toml:"narrator_voice"`
	FemaleVoices  []string `toml:"female_voices"`
	MaleVoices    []string `toml:"male_voices"`

	GPUSemaphore bool `toml:"gpu_semaphore"`

	SessionInactivityTimeout time.Duration `toml:"-"`

	DatabaseURL string `toml:"database_url"`
}

// fileConfig mirrors Config for TOML decoding of duration fields as strings.
type fileConfig struct {
	Config
	ShutdownTimeout          string `toml:"shutdown_timeout"`
	OCRPollInterval          string `toml:"ocr_poll_interval"`
	SynthesisTimeout         string `toml:"synthesis_timeout"`
	SessionInactivityTimeout string `toml:"session_inactivity_timeout"`
}

// Load reads the optional TOML file named by GAMEDUB_CONFIG, then applies
// environment overrides and safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 ":8080",
		MetricsNamespace:         "gamedub",
		ProviderMode:             "auto",
		OCRPollInterval:          300 * time.Millisecond,
		SynthesisTimeout:         90 * time.Second,
		StabilityThreshold:       3,
		MinConfidence:            0.4,
		MinSimilarity:            0.5,
		MatchWindow:              24,
		GPUSemaphore:             true,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
	}

	if path := strings.TrimSpace(os.Getenv("GAMEDUB_CONFIG")); path != "" {
		loaded, err := loadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	cfg.BindAddr = envOrDefault("GAMEDUB_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("GAMEDUB_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.ProviderMode = envOrDefault("GAMEDUB_PROVIDER", cfg.ProviderMode)
	cfg.OCRStreamURL = envOrDefault("GAMEDUB_OCR_STREAM_URL", cfg.OCRStreamURL)
	cfg.SynthesisURL = envOrDefault("GAMEDUB_SYNTHESIS_URL", cfg.SynthesisURL)
	cfg.ScriptBaseURL = envOrDefault("GAMEDUB_SCRIPT_BASE_URL", cfg.ScriptBaseURL)
	cfg.NarratorVoice = envOrDefault("GAMEDUB_NARRATOR_VOICE", cfg.NarratorVoice)
	cfg.FemaleVoices = listFromEnv("GAMEDUB_FEMALE_VOICES", cfg.FemaleVoices)
	cfg.MaleVoices = listFromEnv("GAMEDUB_MALE_VOICES", cfg.MaleVoices)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("GAMEDUB_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OCRPollInterval, err = durationFromEnv("GAMEDUB_OCR_POLL_INTERVAL", cfg.OCRPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesisTimeout, err = durationFromEnv("GAMEDUB_SYNTHESIS_TIMEOUT", cfg.SynthesisTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("GAMEDUB_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StabilityThreshold, err = intFromEnv("GAMEDUB_STABILITY_THRESHOLD", cfg.StabilityThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MatchWindow, err = intFromEnv("GAMEDUB_MATCH_WINDOW", cfg.MatchWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MinConfidence, err = floatFromEnv("GAMEDUB_MIN_CONFIDENCE", cfg.MinConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSimilarity, err = floatFromEnv("GAMEDUB_MIN_SIMILARITY", cfg.MinSimilarity)
	if err != nil {
		return Config{}, err
	}
	cfg.GPUSemaphore, err = boolFromEnv("GAMEDUB_GPU_SEMAPHORE", cfg.GPUSemaphore)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("GAMEDUB_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.StabilityThreshold < 1 {
		return Config{}, fmt.Errorf("GAMEDUB_STABILITY_THRESHOLD must be at least 1")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return Config{}, fmt.Errorf("GAMEDUB_MIN_CONFIDENCE must be in [0,1]")
	}
	if cfg.MinSimilarity <= 0 || cfg.MinSimilarity > 1 {
		return Config{}, fmt.Errorf("GAMEDUB_MIN_SIMILARITY must be in (0,1]")
	}
	if cfg.MatchWindow < 1 {
		return Config{}, fmt.Errorf("GAMEDUB_MATCH_WINDOW must be at least 1")
	}
	if cfg.OCRPollInterval < 50*time.Millisecond {
		return Config{}, fmt.Errorf("GAMEDUB_OCR_POLL_INTERVAL must be at least 50ms")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("GAMEDUB_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func loadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Config: base}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg := fc.Config
	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.ShutdownTimeout, &cfg.ShutdownTimeout, "shutdown_timeout"},
		{fc.OCRPollInterval, &cfg.OCRPollInterval, "ocr_poll_interval"},
		{fc.SynthesisTimeout, &cfg.SynthesisTimeout, "synthesis_timeout"},
		{fc.SessionInactivityTimeout, &cfg.SessionInactivityTimeout, "session_inactivity_timeout"},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%s parse error: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func listFromEnv(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
