package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	Token string
	// BaseURL of an OpenAI-compatible API. Defaults to api.openai.com.
	BaseURL string
	// Model is used when a request names none.
	Model      string
	HTTPClient *http.Client
}

type client struct {
	token   string
	baseURL string
	model   string
	hc      *http.Client
}

func NewClient(cfg Config) (*client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = domain.DefaultModel
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &client{
		token:   cfg.Token,
		baseURL: baseURL,
		model:   model,
		hc:      hc,
	}, nil
}

// Open starts a streamed chat completion. The returned channel yields zero or
// more delta events followed by exactly one done or failed event and is then
// closed. The channel is unbuffered; the caller must drain it until closed.
// Nothing is retried.
func (c *client) Open(ctx context.Context, req domain.CompletionRequest) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent)

	go func() {
		defer close(events)
		c.stream(ctx, req, events)
	}()

	return events
}

func (c *client) stream(ctx context.Context, req domain.CompletionRequest, events chan<- domain.StreamEvent) {
	fail := func(err error) {
		events <- domain.FailedEvent(c.classify(ctx, err))
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.send(ctx, buildRequest(model, req))
	if err != nil {
		fail(err)
		return
	}
	defer resp.Body.Close()

	slog.DebugContext(ctx, "Completion stream opened", "model", model, "status", resp.StatusCode)

	var body io.Reader = resp.Body
	if req.OnReceive != nil {
		body = &receiveReader{r: resp.Body, onReceive: req.OnReceive}
	}
	sse := newSSEReader(body)

	for {
		ev, err := sse.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			// A closed body without the sentinel still ends the reply.
			slog.DebugContext(ctx, "Completion stream ended without sentinel")
			events <- domain.DoneEvent()
			return
		}
		if err != nil {
			fail(fmt.Errorf("reading stream: %w", err))
			return
		}

		if ev.data == doneSentinel {
			events <- domain.DoneEvent()
			return
		}
		if ev.data == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil && ev.name != "error" {
			slog.DebugContext(ctx, "Skipping malformed stream event", "data", ev.data, logger.Err(err))
			continue
		}

		if chunk.Error != nil || ev.name == "error" {
			fail(apiError(0, chunk.Error, ev.data))
			return
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			select {
			case events <- domain.DeltaEvent(choice.Delta.Content):
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}
	}
}

func (c *client) send(ctx context.Context, request openai.ChatCompletionRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing HTTP request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		var errResp openai.ErrorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)

		return nil, apiError(resp.StatusCode, errResp.Error, string(bodyBytes))
	}

	return resp, nil
}

// classify turns any failure into one of the domain reasons. Cancellation
// wins over whatever error the cancelled read produced.
func (c *client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx))
	}
	if domain.ReasonOf(err) == domain.ReasonProviderError && !errors.Is(err, domain.ErrProvider) {
		return fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return err
}

// apiError maps a provider failure to its reason. status is 0 for errors
// reported inside the stream.
func apiError(status int, apiErr *openai.APIError, raw string) error {
	var code, typ, msg string
	if apiErr != nil {
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		typ, msg = apiErr.Type, apiErr.Message
	}
	if msg == "" {
		msg = raw
	}

	var reason error
	switch {
	case code == "insufficient_quota" || typ == "insufficient_quota":
		reason = domain.ErrQuotaExceeded
	case status == http.StatusPaymentRequired:
		reason = domain.ErrQuotaExceeded
	case status == http.StatusTooManyRequests || code == "rate_limit_exceeded":
		reason = domain.ErrRateLimited
	default:
		reason = domain.ErrProvider
	}

	if status == 0 {
		return fmt.Errorf("%w: stream error: %s", reason, msg)
	}
	return fmt.Errorf("%w: status %d: %s", reason, status, msg)
}

type receiveReader struct {
	r         io.Reader
	onReceive func(n int)
}

func (r *receiveReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.onReceive(n)
	}
	return n, err
}
