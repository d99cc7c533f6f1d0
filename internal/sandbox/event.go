package sandbox

import "encoding/json"

const (
	EventStream = "stream"
	EventExit   = "exit"
	EventError  = "error"

	Stdout = "stdout"
	Stderr = "stderr"
)

// Event is one frame of command output. Every run ends with exactly one exit
// or error event, unless the client went away first.
type Event struct {
	Type    string
	Stream  string
	Text    string
	Code    int
	Message string
}

func StreamEvent(stream, text string) Event {
	return Event{Type: EventStream, Stream: stream, Text: text}
}

func ExitEvent(code int) Event {
	return Event{Type: EventExit, Code: code}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStream:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Stream string `json:"stream"`
			Text   string `json:"text"`
		}{e.Type, e.Stream, e.Text})
	case EventExit:
		return json.Marshal(struct {
			Type string `json:"type"`
			Code int    `json:"code"`
		}{e.Type, e.Code})
	default:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	}
}
