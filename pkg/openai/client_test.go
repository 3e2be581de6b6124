package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/character-chat/pkg/domain"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// chunkedBody hands out the given chunks one Read at a time, the way a
// chunked transfer does.
type chunkedBody struct {
	chunks []string
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if b.chunks[0] == "" {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error { return nil }

func streamingClient(t *testing.T, status int, chunks ...string) *client {
	t.Helper()

	hc := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: status,
				Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
				Body:       &chunkedBody{chunks: chunks},
				Request:    req,
			}, nil
		}),
	}

	c, err := NewClient(Config{Token: "test-token", BaseURL: "http://upstream/v1", HTTPClient: hc})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func deltaLine(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": text}}},
	})
	return "data: " + string(b) + "\n\n"
}

func collect(t *testing.T, events <-chan domain.StreamEvent) ([]string, domain.StreamEvent) {
	t.Helper()

	var (
		deltas   []string
		terminal domain.StreamEvent
		seen     int
	)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if seen != 1 {
					t.Fatalf("stream closed after %d terminal events", seen)
				}
				return deltas, terminal
			}
			if ev.Type == domain.StreamEventDelta {
				if seen > 0 {
					t.Fatalf("delta %q after terminal event", ev.Text)
				}
				deltas = append(deltas, ev.Text)
				continue
			}
			terminal = ev
			seen++
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func request() domain.CompletionRequest {
	return domain.CompletionRequest{SystemPrompt: "You are Sage", UserText: "hello"}
}

func TestOpenEmitsDeltasInOrder(t *testing.T) {
	c := streamingClient(t, http.StatusOK,
		deltaLine("Why"), deltaLine(" did"), deltaLine(" the chicken..."), "data: [DONE]\n\n")

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if strings.Join(deltas, "|") != "Why| did| the chicken..." {
		t.Fatalf("deltas = %q", deltas)
	}
	if terminal.Type != domain.StreamEventDone {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestOpenSplitLineMatchesWholeLine(t *testing.T) {
	whole := deltaLine("Hello") + deltaLine(", world") + "data: [DONE]\n\n"

	wantDeltas, _ := collect(t, streamingClient(t, http.StatusOK, whole).Open(context.Background(), request()))

	for split := 1; split < len(whole); split++ {
		c := streamingClient(t, http.StatusOK, whole[:split], whole[split:])
		got, terminal := collect(t, c.Open(context.Background(), request()))

		if strings.Join(got, "|") != strings.Join(wantDeltas, "|") {
			t.Fatalf("split at %d: deltas = %q, want %q", split, got, wantDeltas)
		}
		if terminal.Type != domain.StreamEventDone {
			t.Fatalf("split at %d: terminal = %+v", split, terminal)
		}
	}
}

func TestOpenByteAtATime(t *testing.T) {
	whole := "event: message\n" + deltaLine("é🐔") + ": keep-alive\n\n" + deltaLine("!") + "data: [DONE]\n"
	chunks := make([]string, 0, len(whole))
	for i := 0; i < len(whole); i++ {
		chunks = append(chunks, whole[i:i+1])
	}

	deltas, terminal := collect(t, streamingClient(t, http.StatusOK, chunks...).Open(context.Background(), request()))

	if strings.Join(deltas, "") != "é🐔!" {
		t.Fatalf("deltas = %q", deltas)
	}
	if terminal.Type != domain.StreamEventDone {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestOpenSkipsMalformedEvents(t *testing.T) {
	c := streamingClient(t, http.StatusOK,
		deltaLine("a"),
		"data: {not json\n\n",
		"data: \n\n",
		`data: {"choices":[{"delta":{}}]}`+"\n\n",
		deltaLine("b"),
		"data: [DONE]\n\n")

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if strings.Join(deltas, "") != "ab" {
		t.Fatalf("deltas = %q", deltas)
	}
	if terminal.Type != domain.StreamEventDone {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestOpenIgnoresBytesAfterSentinel(t *testing.T) {
	c := streamingClient(t, http.StatusOK,
		deltaLine("a"), "data: [DONE]\n\n", deltaLine("late"), "garbage")

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if strings.Join(deltas, "") != "a" {
		t.Fatalf("deltas = %q", deltas)
	}
	if terminal.Type != domain.StreamEventDone {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestOpenEOFWithoutSentinelIsDone(t *testing.T) {
	c := streamingClient(t, http.StatusOK, deltaLine("a"), deltaLine("b"))

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if strings.Join(deltas, "") != "ab" || terminal.Type != domain.StreamEventDone {
		t.Fatalf("deltas = %q, terminal = %+v", deltas, terminal)
	}
}

func TestOpenInStreamErrorFails(t *testing.T) {
	c := streamingClient(t, http.StatusOK,
		deltaLine("a"), deltaLine("b"), deltaLine("c"),
		`data: {"error":{"message":"overloaded","type":"server_error"}}`+"\n\n")

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if len(deltas) != 3 {
		t.Fatalf("deltas = %q", deltas)
	}
	if terminal.Type != domain.StreamEventFailed || terminal.Reason != domain.ReasonProviderError {
		t.Fatalf("terminal = %+v", terminal)
	}
	if !errors.Is(terminal.Err, domain.ErrProvider) {
		t.Fatalf("err = %v", terminal.Err)
	}
}

func TestOpenStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.FailureReason
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, domain.ReasonRateLimited},
		{"quota via 429", http.StatusTooManyRequests, `{"error":{"message":"no credit","type":"insufficient_quota","code":"insufficient_quota"}}`, domain.ReasonQuotaExceeded},
		{"payment required", http.StatusPaymentRequired, `{"error":"AI credits depleted"}`, domain.ReasonQuotaExceeded},
		{"server error", http.StatusInternalServerError, `oops`, domain.ReasonProviderError},
		{"bad gateway", http.StatusBadGateway, ``, domain.ReasonProviderError},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, domain.ReasonProviderError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := streamingClient(t, test.status, test.body)

			deltas, terminal := collect(t, c.Open(context.Background(), request()))

			if len(deltas) != 0 {
				t.Fatalf("deltas = %q", deltas)
			}
			if terminal.Type != domain.StreamEventFailed || terminal.Reason != test.want {
				t.Fatalf("terminal = %+v, want reason %q", terminal, test.want)
			}
		})
	}
}

func TestOpenTransportErrorIsProviderError(t *testing.T) {
	hc := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	c, err := NewClient(Config{Token: "t", HTTPClient: hc})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, terminal := collect(t, c.Open(context.Background(), request()))

	if terminal.Reason != domain.ReasonProviderError || !errors.Is(terminal.Err, domain.ErrProvider) {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestOpenSendsStreamingRequest(t *testing.T) {
	var got openai.ChatCompletionRequest
	var auth, path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, deltaLine("ok")+"data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewClient(Config{Token: "secret", BaseURL: srv.URL + "/v1/", Model: "default-model"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req := domain.CompletionRequest{
		SystemPrompt: "You are Sage",
		History: []domain.Turn{
			{Role: domain.RoleAssistant, Content: "Hi!"},
			{Role: domain.RoleUser, Content: "earlier"},
		},
		UserText: "Tell me a joke",
	}
	deltas, terminal := collect(t, c.Open(context.Background(), req))
	if strings.Join(deltas, "") != "ok" || terminal.Type != domain.StreamEventDone {
		t.Fatalf("deltas = %q, terminal = %+v", deltas, terminal)
	}

	if auth != "Bearer secret" || path != "/v1/chat/completions" {
		t.Fatalf("auth = %q, path = %q", auth, path)
	}
	if !got.Stream || got.Model != "default-model" {
		t.Fatalf("request = %+v", got)
	}
	wantRoles := []string{"system", "assistant", "user", "user"}
	if len(got.Messages) != len(wantRoles) {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i, role := range wantRoles {
		if got.Messages[i].Role != role {
			t.Fatalf("messages[%d].Role = %q, want %q", i, got.Messages[i].Role, role)
		}
	}
	if got.Messages[3].Content != "Tell me a joke" {
		t.Fatalf("last message = %+v", got.Messages[3])
	}
}

func TestOpenCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, deltaLine("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{Token: "t", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var received atomic.Int64
	req := request()
	req.OnReceive = func(n int) { received.Add(int64(n)) }

	ctx, cancel := context.WithCancel(context.Background())
	events := c.Open(ctx, req)

	first := <-events
	if first.Type != domain.StreamEventDelta || first.Text != "partial" {
		t.Fatalf("first event = %+v", first)
	}
	cancel()

	_, terminal := collect(t, events)
	if terminal.Reason != domain.ReasonCancelled || !errors.Is(terminal.Err, domain.ErrCancelled) {
		t.Fatalf("terminal = %+v", terminal)
	}
	if received.Load() == 0 {
		t.Fatal("OnReceive was never called")
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestOpenErrorEventFails(t *testing.T) {
	c := streamingClient(t, http.StatusOK, deltaLine("a"), "event: error\ndata: upstream exploded\n\n")

	deltas, terminal := collect(t, c.Open(context.Background(), request()))

	if strings.Join(deltas, "") != "a" || terminal.Reason != domain.ReasonProviderError {
		t.Fatalf("deltas = %q, terminal = %+v", deltas, terminal)
	}
}
