package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Storage     StorageConfig     `toml:"storage"`     // Key-value persistence settings
	Gemini      GeminiConfig      `toml:"gemini"`      // Gemini API credentials and transport settings
	OpenAI      OpenAIConfig      `toml:"openai"`      // Optional OpenAI chat provider settings
	Encounter   EncounterConfig   `toml:"encounter"`   // Ambient encounter transcription settings
	Assistant   AssistantConfig   `toml:"assistant"`   // Voice assistant hub settings
	Synthesis   SynthesisConfig   `toml:"synthesis"`   // Clinical synthesis settings
	NearbyCare  NearbyCareConfig  `toml:"nearby_care"` // Grounded nearby-care search settings
	Geolocation GeolocationConfig `toml:"geolocation"` // Location bias settings
	Capture     CaptureConfig     `toml:"capture"`     // Microphone capture source settings
	Playback    PlaybackConfig    `toml:"playback"`    // Audio playback sink settings
	Metrics     MetricsConfig     `toml:"metrics"`     // Prometheus metrics settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // Primary HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for websockets)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts  []int  `toml:"additional_ports"`      // Additional HTTP ports to listen on
	StaticFilesDir   string `toml:"static_files_dir"`      // Directory to serve the front end from (skipped if missing)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: debug, info, warn, error
	Format string `toml:"format"` // Log format: json or console
}

// StorageConfig contains key-value store settings
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path of the sqlite file that holds roster and audit blobs
}

// GeminiConfig contains Gemini API settings
type GeminiConfig struct {
	APIKey               string `toml:"api_key"`                // API key (falls back to the environment variable below)
	APIKeyEnv            string `toml:"api_key_env"`            // Environment variable consulted when api_key is empty
	LiveHost             string `toml:"live_host"`              // Host for the BidiGenerateContent websocket
	HandshakeTimeoutSecs int    `toml:"handshake_timeout_secs"` // Websocket handshake and setup acknowledgment timeout
}

// OpenAIConfig contains the optional OpenAI chat provider settings
type OpenAIConfig struct {
	APIKey    string `toml:"api_key"`     // API key (falls back to the environment variable below)
	APIKeyEnv string `toml:"api_key_env"` // Environment variable consulted when api_key is empty
	BaseURL   string `toml:"base_url"`    // Optional API base URL override
}

// EncounterConfig contains ambient encounter transcription settings
type EncounterConfig struct {
	Model              string `toml:"model"`                // Live model used for transcription
	PromptTemplatePath string `toml:"prompt_template_path"` // Optional override for the transcriptionist system instruction
	DefaultLanguage    string `toml:"default_language"`     // Language hint passed to the model
	DefaultSpeaker     string `toml:"default_speaker"`      // Speaker selected when capture starts (Doctor or Patient)
	FrameSamples       int    `toml:"frame_samples"`        // Samples per realtime input frame
	CaptureSampleRate  int    `toml:"capture_sample_rate"`  // Capture sample rate in Hz
	GraceDelayMillis   int    `toml:"grace_delay_millis"`   // Delay between stopping capture and starting synthesis
}

// AssistantConfig contains voice assistant hub settings
type AssistantConfig struct {
	Model              string `toml:"model"`                // Live model used for spoken dialogue
	Voice              string `toml:"voice"`                // Prebuilt voice name
	SystemPrompt       string `toml:"system_prompt"`        // System instruction for the voice session
	ChatProvider       string `toml:"chat_provider"`        // Typed chat provider: gemini or openai
	ChatModel          string `toml:"chat_model"`           // Model used for typed chat
	ChatSystemPrompt   string `toml:"chat_system_prompt"`   // System instruction for typed chat
	PlaybackSampleRate int    `toml:"playback_sample_rate"` // Sample rate of returned audio in Hz
	InterruptReset     string `toml:"interrupt_reset"`      // Playback cursor reset on barge-in: zero or clock
}

// SynthesisConfig contains clinical synthesis settings
type SynthesisConfig struct {
	Model              string `toml:"model"`                // Model used for schema-constrained synthesis
	PromptTemplatePath string `toml:"prompt_template_path"` // Optional override for the synthesis prompt
}

// NearbyCareConfig contains grounded search settings
type NearbyCareConfig struct {
	Model              string `toml:"model"`                // Model used for maps-grounded search
	PromptTemplatePath string `toml:"prompt_template_path"` // Optional override for the search prompt
	FallbackMessage    string `toml:"fallback_message"`     // Message shown when the search fails
	TimeoutSecs        int    `toml:"timeout_secs"`         // Upper bound on one search, location wait included
}

// GeolocationConfig contains location bias settings
type GeolocationConfig struct {
	TimeoutMillis int      `toml:"timeout_millis"` // Bounded wait for a location fix
	MaxAgeSecs    int      `toml:"max_age_secs"`   // Browser reports older than this are ignored
	Latitude      *float64 `toml:"latitude"`       // Static latitude (used instead of the browser when set)
	Longitude     *float64 `toml:"longitude"`      // Static longitude (used instead of the browser when set)
}

// CaptureConfig contains microphone capture settings
type CaptureConfig struct {
	Source                string `toml:"source"`                  // browser or ffmpeg
	PermissionTimeoutSecs int    `toml:"permission_timeout_secs"` // How long to wait for a browser capture socket
	FFmpegPath            string `toml:"ffmpeg_path"`             // ffmpeg binary (ffmpeg source only)
	FFmpegInputFormat     string `toml:"ffmpeg_input_format"`     // ffmpeg -f value, e.g. pulse, alsa, avfoundation
	FFmpegInputDevice     string `toml:"ffmpeg_input_device"`     // ffmpeg -i value, e.g. default
}

// PlaybackConfig contains audio playback settings
type PlaybackConfig struct {
	Sink string `toml:"sink"` // browser or speaker
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"` // Expose the metrics endpoint
	Path    string `toml:"path"`    // Path of the metrics endpoint
}

const (
	SpeakerDoctor  = "Doctor"
	SpeakerPatient = "Patient"

	InterruptResetZero  = "zero"
	InterruptResetClock = "clock"
)

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return &config, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// in order of preference: the explicit path, configs/config.toml, config.toml
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/clara.db"
	}

	if c.Gemini.APIKeyEnv == "" {
		c.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = os.Getenv(c.Gemini.APIKeyEnv)
	}
	if c.Gemini.LiveHost == "" {
		c.Gemini.LiveHost = "generativelanguage.googleapis.com"
	}
	if c.Gemini.HandshakeTimeoutSecs <= 0 {
		c.Gemini.HandshakeTimeoutSecs = 30
	}

	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv(c.OpenAI.APIKeyEnv)
	}

	if err := c.ValidateEncounter(); err != nil {
		return err
	}
	if err := c.ValidateAssistant(); err != nil {
		return err
	}

	if c.Synthesis.Model == "" {
		c.Synthesis.Model = "gemini-3-pro-preview"
	}
	if c.NearbyCare.Model == "" {
		c.NearbyCare.Model = "gemini-2.5-flash"
	}
	if c.NearbyCare.FallbackMessage == "" {
		c.NearbyCare.FallbackMessage = "Could not retrieve nearby facilities."
	}
	if c.NearbyCare.TimeoutSecs == 0 {
		c.NearbyCare.TimeoutSecs = 30
	}
	if c.NearbyCare.TimeoutSecs < 0 {
		return fmt.Errorf("invalid nearby_care timeout_secs: %d", c.NearbyCare.TimeoutSecs)
	}

	if err := c.ValidateGeolocation(); err != nil {
		return err
	}
	if err := c.ValidateCapture(); err != nil {
		return err
	}

	switch c.Playback.Sink {
	case "":
		c.Playback.Sink = "browser"
	case "browser", "speaker":
	default:
		return fmt.Errorf("invalid playback sink: %s (must be browser or speaker)", c.Playback.Sink)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %s", c.Metrics.Path)
	}

	if c.Gemini.APIKey == "" {
		fmt.Printf("WARN: No Gemini API key provided (set %s) - model features will fail until configured\n", c.Gemini.APIKeyEnv)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := map[int]bool{c.Server.Port: true}
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Server.StaticFilesDir == "" {
		c.Server.StaticFilesDir = "www"
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// ValidateEncounter validates the encounter configuration
func (c *Config) ValidateEncounter() error {
	if c.Encounter.Model == "" {
		c.Encounter.Model = "gemini-2.5-flash-native-audio-preview-12-2025"
	}
	if c.Encounter.DefaultLanguage == "" {
		c.Encounter.DefaultLanguage = "English"
	}
	switch c.Encounter.DefaultSpeaker {
	case "":
		c.Encounter.DefaultSpeaker = SpeakerPatient
	case SpeakerDoctor, SpeakerPatient:
	default:
		return fmt.Errorf("invalid default_speaker: %s (must be Doctor or Patient)", c.Encounter.DefaultSpeaker)
	}
	if c.Encounter.FrameSamples == 0 {
		c.Encounter.FrameSamples = 4096
	}
	if c.Encounter.FrameSamples < 0 {
		return fmt.Errorf("invalid frame_samples: %d", c.Encounter.FrameSamples)
	}
	if c.Encounter.CaptureSampleRate == 0 {
		c.Encounter.CaptureSampleRate = 16000
	}
	if c.Encounter.CaptureSampleRate < 8000 {
		return fmt.Errorf("invalid capture_sample_rate: %d", c.Encounter.CaptureSampleRate)
	}
	if c.Encounter.GraceDelayMillis == 0 {
		c.Encounter.GraceDelayMillis = 1000
	}
	if c.Encounter.GraceDelayMillis < 0 {
		return fmt.Errorf("invalid grace_delay_millis: %d (must be >= 0)", c.Encounter.GraceDelayMillis)
	}
	return nil
}

// ValidateAssistant validates the assistant configuration
func (c *Config) ValidateAssistant() error {
	if c.Assistant.Model == "" {
		c.Assistant.Model = "gemini-2.5-flash-native-audio-preview-12-2025"
	}
	if c.Assistant.Voice == "" {
		c.Assistant.Voice = "Zephyr"
	}
	if c.Assistant.SystemPrompt == "" {
		c.Assistant.SystemPrompt = "You are CLARA, a friendly and expert clinical assistant. You respond vocally to help clinicians with protocols, drug interactions, and medical logic. Keep responses professional, clear, and concise."
	}
	switch c.Assistant.ChatProvider {
	case "":
		c.Assistant.ChatProvider = "gemini"
	case "gemini":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("assistant chat_provider is openai but no OpenAI API key is configured")
		}
	default:
		return fmt.Errorf("invalid assistant chat_provider: %s (must be gemini or openai)", c.Assistant.ChatProvider)
	}
	if c.Assistant.ChatModel == "" {
		if c.Assistant.ChatProvider == "openai" {
			c.Assistant.ChatModel = "gpt-4o-mini"
		} else {
			c.Assistant.ChatModel = "gemini-3-flash-preview"
		}
	}
	if c.Assistant.ChatSystemPrompt == "" {
		c.Assistant.ChatSystemPrompt = "You are CLARA, an advanced clinical assistant."
	}
	if c.Assistant.PlaybackSampleRate == 0 {
		c.Assistant.PlaybackSampleRate = 24000
	}
	switch c.Assistant.InterruptReset {
	case "":
		c.Assistant.InterruptReset = InterruptResetZero
	case InterruptResetZero, InterruptResetClock:
	default:
		return fmt.Errorf("invalid interrupt_reset: %s (must be zero or clock)", c.Assistant.InterruptReset)
	}
	return nil
}

// ValidateGeolocation validates the geolocation configuration
func (c *Config) ValidateGeolocation() error {
	if c.Geolocation.TimeoutMillis == 0 {
		c.Geolocation.TimeoutMillis = 10000
	}
	if c.Geolocation.TimeoutMillis < 0 {
		return fmt.Errorf("invalid geolocation timeout_millis: %d", c.Geolocation.TimeoutMillis)
	}
	if c.Geolocation.MaxAgeSecs == 0 {
		c.Geolocation.MaxAgeSecs = 600
	}
	if (c.Geolocation.Latitude == nil) != (c.Geolocation.Longitude == nil) {
		return fmt.Errorf("geolocation latitude and longitude must be set together")
	}
	if c.Geolocation.Latitude != nil {
		if lat := *c.Geolocation.Latitude; lat < -90 || lat > 90 {
			return fmt.Errorf("invalid geolocation latitude: %f", lat)
		}
		if lon := *c.Geolocation.Longitude; lon < -180 || lon > 180 {
			return fmt.Errorf("invalid geolocation longitude: %f", lon)
		}
	}
	return nil
}

// ValidateCapture validates the capture configuration
func (c *Config) ValidateCapture() error {
	switch c.Capture.Source {
	case "":
		c.Capture.Source = "browser"
	case "browser":
	case "ffmpeg":
		if c.Capture.FFmpegInputFormat == "" {
			return fmt.Errorf("capture source ffmpeg requires ffmpeg_input_format")
		}
		if c.Capture.FFmpegInputDevice == "" {
			c.Capture.FFmpegInputDevice = "default"
		}
	default:
		return fmt.Errorf("invalid capture source: %s (must be browser or ffmpeg)", c.Capture.Source)
	}
	if c.Capture.FFmpegPath == "" {
		c.Capture.FFmpegPath = "ffmpeg"
	}
	if c.Capture.PermissionTimeoutSecs == 0 {
		c.Capture.PermissionTimeoutSecs = 15
	}
	return nil
}

// GraceDelay returns the stop-to-synthesis delay
func (c *EncounterConfig) GraceDelay() time.Duration {
	return time.Duration(c.GraceDelayMillis) * time.Millisecond
}

// Timeout returns the bounded location wait
func (c *GeolocationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// MaxAge returns how long a reported location stays usable
func (c *GeolocationConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSecs) * time.Second
}

// PermissionTimeout returns how long to wait for a capture device
func (c *CaptureConfig) PermissionTimeout() time.Duration {
	return time.Duration(c.PermissionTimeoutSecs) * time.Second
}

// Timeout returns the bound on a single nearby-care search
func (c *NearbyCareConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// HandshakeTimeout returns the live connection setup timeout
func (c *GeminiConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecs) * time.Second
}
