package response

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/character-chat/pkg/domain"
)

// SSEWriter writes a reply as OpenAI-compatible chat completion chunks so
// that existing stream clients can consume it.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) WriteHeader() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

// WriteEvent writes one session event. Terminal events are followed by the
// [DONE] sentinel.
func (s *SSEWriter) WriteEvent(e domain.SessionEvent) error {
	switch e.Type {
	case domain.SessionEventDelta:
		chunk := openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: e.Text},
			}},
		}
		return s.writeJSON("", chunk)
	case domain.SessionEventComplete:
		if err := s.writeJSON("complete", map[string]string{"turnId": e.Turn.ID}); err != nil {
			return err
		}
	case domain.SessionEventNoContent:
		if err := s.writeJSON("no_content", map[string]string{}); err != nil {
			return err
		}
	case domain.SessionEventError:
		payload := ErrorResponse{Error: MessageFor(e.Err), Reason: string(domain.ReasonOf(e.Err))}
		if err := s.writeJSON("error", payload); err != nil {
			return err
		}
	}
	return s.write("", "[DONE]")
}

func (s *SSEWriter) writeJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.write(event, string(data))
}

func (s *SSEWriter) write(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
