package domain

type SessionEventType string

const (
	SessionEventDelta     SessionEventType = "delta"
	SessionEventComplete  SessionEventType = "complete"
	SessionEventNoContent SessionEventType = "no_content"
	SessionEventError     SessionEventType = "error"
)

// SessionEvent is what a caller of a send observes.
type SessionEvent struct {
	Type SessionEventType
	Text string
	// Turn is the persisted assistant turn of a complete event.
	Turn Turn
	Err  error
}

func (e SessionEvent) Terminal() bool {
	return e.Type != SessionEventDelta
}

// Callbacks receives the outcome of a send. Nil callbacks are skipped.
type Callbacks struct {
	OnDelta     func(text string)
	OnComplete  func(turn Turn)
	OnNoContent func()
	OnError     func(err error)
}

func (c Callbacks) Dispatch(e SessionEvent) {
	switch e.Type {
	case SessionEventDelta:
		if c.OnDelta != nil {
			c.OnDelta(e.Text)
		}
	case SessionEventComplete:
		if c.OnComplete != nil {
			c.OnComplete(e.Turn)
		}
	case SessionEventNoContent:
		if c.OnNoContent != nil {
			c.OnNoContent()
		}
	case SessionEventError:
		if c.OnError != nil {
			c.OnError(e.Err)
		}
	}
}
