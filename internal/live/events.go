package live

import "github.com/yegors/clara/internal/ai"

// Direction tells which side of the dialogue a transcript belongs to
type Direction int

const (
	// Input is transcription of the captured microphone audio
	Input Direction = iota
	// Output is transcription of the model's spoken reply
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// EventKind discriminates Event
type EventKind int

const (
	EventPartialText EventKind = iota
	EventAudioChunk
	EventTurnComplete
	EventInterrupted
	EventError
	EventClosed
)

// Event is one notification from a session
type Event struct {
	Kind      EventKind
	Direction Direction
	Text      string
	Audio     []byte
	Err       error
}

// Handlers receives session events. Nil handlers are skipped.
type Handlers struct {
	OnPartialText  func(dir Direction, text string)
	OnAudioChunk   func(pcm []byte)
	OnTurnComplete func()
	OnInterrupted  func()
	OnError        func(err error)
	OnClosed       func()
}

func (h Handlers) dispatch(ev Event) {
	switch ev.Kind {
	case EventPartialText:
		if h.OnPartialText != nil {
			h.OnPartialText(ev.Direction, ev.Text)
		}
	case EventAudioChunk:
		if h.OnAudioChunk != nil {
			h.OnAudioChunk(ev.Audio)
		}
	case EventTurnComplete:
		if h.OnTurnComplete != nil {
			h.OnTurnComplete()
		}
	case EventInterrupted:
		if h.OnInterrupted != nil {
			h.OnInterrupted()
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(ev.Err)
		}
	case EventClosed:
		if h.OnClosed != nil {
			h.OnClosed()
		}
	}
}

func eventFromMessage(msg ai.LiveMessage) (Event, bool) {
	switch msg.Kind {
	case ai.MessageInputTranscript:
		return Event{Kind: EventPartialText, Direction: Input, Text: msg.Text}, true
	case ai.MessageOutputTranscript:
		return Event{Kind: EventPartialText, Direction: Output, Text: msg.Text}, true
	case ai.MessageAudio:
		return Event{Kind: EventAudioChunk, Audio: msg.Audio}, true
	case ai.MessageTurnComplete:
		return Event{Kind: EventTurnComplete}, true
	case ai.MessageInterrupted:
		return Event{Kind: EventInterrupted}, true
	}
	return Event{}, false
}
