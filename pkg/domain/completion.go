package domain

// CompletionRequest is built per send and discarded once the provider
// exchange is over.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	History      []Turn
	UserText     string

	// OnReceive, when set, is called with the byte count every time data
	// arrives from the provider.
	OnReceive func(n int)
}

type StreamEventType string

const (
	StreamEventDelta  StreamEventType = "delta"
	StreamEventDone   StreamEventType = "done"
	StreamEventFailed StreamEventType = "failed"
)

// StreamEvent is emitted by the completion client: zero or more deltas
// followed by exactly one done or failed event.
type StreamEvent struct {
	Type   StreamEventType
	Text   string
	Reason FailureReason
	Err    error
}

func DeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: StreamEventDelta, Text: text}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventDone}
}

func FailedEvent(err error) StreamEvent {
	return StreamEvent{Type: StreamEventFailed, Reason: ReasonOf(err), Err: err}
}
