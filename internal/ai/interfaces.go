package ai

import (
	"context"

	"github.com/yegors/clara/internal/audio"
)

// Modality is the response modality requested from a live session
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// LiveConfig holds configuration for a bidirectional live session
type LiveConfig struct {
	Model               string
	ResponseModality    Modality
	Voice               string // empty means provider default, no speech config sent
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
	InputSampleRate     int
}

// LiveMessageKind discriminates the events carried by a LiveMessage
type LiveMessageKind int

const (
	MessageInputTranscript LiveMessageKind = iota
	MessageOutputTranscript
	MessageAudio
	MessageTurnComplete
	MessageInterrupted
)

func (k LiveMessageKind) String() string {
	switch k {
	case MessageInputTranscript:
		return "input_transcript"
	case MessageOutputTranscript:
		return "output_transcript"
	case MessageAudio:
		return "audio"
	case MessageTurnComplete:
		return "turn_complete"
	case MessageInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// LiveMessage is one decoded server event. Text is set for transcript
// messages, Audio holds raw PCM16 bytes for audio messages.
type LiveMessage struct {
	Kind  LiveMessageKind
	Text  string
	Audio []byte
}

// LiveConnection is an open duplex stream to the model
type LiveConnection interface {
	// SendAudio sends one encoded capture frame
	SendAudio(chunk audio.EncodedChunk) error

	// Receive blocks for the next server event. It returns io.EOF on a clean
	// remote close and another error on transport failure.
	Receive() (LiveMessage, error)

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// LiveProvider opens live streaming sessions
type LiveProvider interface {
	// ConnectLive dials the service and returns once setup is acknowledged
	ConnectLive(ctx context.Context, config LiveConfig) (LiveConnection, error)
}

// SchemaType names a JSON schema type
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is a provider-neutral response schema
type Schema struct {
	Type        SchemaType
	Description string
	Enum        []string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
}

// StructuredRequest asks for a JSON document conforming to Schema
type StructuredRequest struct {
	Model  string
	Prompt string
	Schema *Schema
}

// StructuredProvider performs one-shot schema-constrained completions
type StructuredProvider interface {
	// GenerateStructured returns the raw JSON text produced by the model
	GenerateStructured(ctx context.Context, req StructuredRequest) (string, error)
}

// LatLng is a WGS84 coordinate pair
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// GroundedSearchRequest asks for a map-grounded answer
type GroundedSearchRequest struct {
	Model    string
	Prompt   string
	Location *LatLng // optional retrieval bias
}

// Source is a grounding reference returned with a search answer
type Source struct {
	Title string
	URI   string
}

// GroundedResult is the answer text with its grounding sources
type GroundedResult struct {
	Text    string
	Sources []Source
}

// GroundedSearchProvider performs location-grounded searches
type GroundedSearchProvider interface {
	GroundedSearch(ctx context.Context, req GroundedSearchRequest) (GroundedResult, error)
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatProvider defines the interface for text-to-text chat completions
type ChatProvider interface {
	// ChatCompletion sends a conversation to the LLM and returns the text response
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (string, error)
}
