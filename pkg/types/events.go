package types

import "encoding/json"

// EventType names an event delivered to the caller during a request
type EventType string

const (
	EventThinking               EventType = "thinking"
	EventRationaleToken         EventType = "rationale_token"
	EventRationaleComplete      EventType = "rationale_complete"
	EventRationaleAnnotatedHTML EventType = "rationale_annotated_html"
	EventAnswerToken            EventType = "answer_token"
	EventAnswerComplete         EventType = "answer_complete"
	EventAnswerAnnotatedHTML    EventType = "answer_annotated_html"
	EventCitations              EventType = "citations"
	EventDone                   EventType = "done"
	EventError                  EventType = "error"
)

// Event is one message on the delivery channel
type Event struct {
	Type          EventType
	Token         string
	Rationale     string
	RationaleHTML string
	Answer        string
	AnswerHTML    string
	Citations     []Citation
	Message       string
}

// IsTerminal reports whether the event ends a request
func (e *Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON renders only the payload key that belongs to the event type
func (e *Event) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"type": e.Type}
	switch e.Type {
	case EventRationaleToken, EventAnswerToken:
		out["token"] = e.Token
	case EventRationaleComplete:
		out["rationale"] = e.Rationale
	case EventRationaleAnnotatedHTML:
		out["rationale_html"] = e.RationaleHTML
	case EventAnswerComplete:
		out["answer"] = e.Answer
	case EventAnswerAnnotatedHTML:
		out["answer_html"] = e.AnswerHTML
	case EventCitations:
		citations := e.Citations
		if citations == nil {
			citations = []Citation{}
		}
		out["citations"] = citations
	case EventError:
		out["message"] = e.Message
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat wire format back into an Event
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type          EventType  `json:"type"`
		Token         string     `json:"token"`
		Rationale     string     `json:"rationale"`
		RationaleHTML string     `json:"rationale_html"`
		Answer        string     `json:"answer"`
		AnswerHTML    string     `json:"answer_html"`
		Citations     []Citation `json:"citations"`
		Message       string     `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event(raw)
	return nil
}

// NewThinkingEvent signals that work has started
func NewThinkingEvent() *Event { return &Event{Type: EventThinking} }

// NewTokenEvent carries one streamed fragment of the rationale or the answer
func NewTokenEvent(eventType EventType, token string) *Event {
	return &Event{Type: eventType, Token: token}
}

// NewRationaleCompleteEvent carries the full rationale text
func NewRationaleCompleteEvent(rationale string) *Event {
	return &Event{Type: EventRationaleComplete, Rationale: rationale}
}

// NewRationaleHTMLEvent carries the citation-annotated rationale
func NewRationaleHTMLEvent(html string) *Event {
	return &Event{Type: EventRationaleAnnotatedHTML, RationaleHTML: html}
}

// NewAnswerCompleteEvent carries the full answer text
func NewAnswerCompleteEvent(answer string) *Event {
	return &Event{Type: EventAnswerComplete, Answer: answer}
}

// NewAnswerHTMLEvent carries the citation-annotated answer
func NewAnswerHTMLEvent(html string) *Event {
	return &Event{Type: EventAnswerAnnotatedHTML, AnswerHTML: html}
}

// NewCitationsEvent carries the resolved citations
func NewCitationsEvent(citations []Citation) *Event {
	return &Event{Type: EventCitations, Citations: citations}
}

// NewDoneEvent terminates a successful request
func NewDoneEvent() *Event { return &Event{Type: EventDone} }

// NewErrorEvent terminates a failed request
func NewErrorEvent(message string) *Event {
	return &Event{Type: EventError, Message: message}
}
