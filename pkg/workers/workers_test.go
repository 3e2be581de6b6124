package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type funcWorker struct {
	name  string
	start func(ctx context.Context) error
}

func (f funcWorker) Name() string                    { return f.name }
func (f funcWorker) Start(ctx context.Context) error { return f.start(ctx) }

func TestGroupStopsOnFirstFailure(t *testing.T) {
	stopped := make(chan struct{})
	g := Group{
		funcWorker{name: "failing", start: func(context.Context) error { return errors.New("boom") }},
		funcWorker{name: "waiting", start: func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}},
	}

	err := g.Start(context.Background())

	if err == nil || !strings.Contains(err.Error(), "failing: boom") {
		t.Fatalf("err = %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Fatal("remaining worker was not stopped")
	}
}

func TestGroupAggregatesErrors(t *testing.T) {
	g := Group{
		funcWorker{name: "a", start: func(context.Context) error { return errors.New("first") }},
		funcWorker{name: "b", start: func(context.Context) error { return errors.New("second") }},
	}

	err := g.Start(context.Background())

	if err == nil || !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Fatalf("err = %v", err)
	}
}

func TestGroupReturnsNilOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := Group{funcWorker{name: "w", start: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}}

	cancel()
	if err := g.Start(ctx); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func TestHTTPServerServesUntilCancelled(t *testing.T) {
	addr := freeAddr(t)
	srv := NewHTTPServer(addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var body string
	for i := 0; i < 50; i++ {
		resp, err := http.Get("http://" + addr)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if body != "ok" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type fakeTelegram struct {
	updates chan tgbotapi.Update

	mu   sync.Mutex
	sent []string
}

func (f *fakeTelegram) GetUpdates() tgbotapi.UpdatesChannel { return f.updates }
func (f *fakeTelegram) StopUpdates()                        {}

func (f *fakeTelegram) SendText(_ context.Context, _ int64, _ int, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return len(f.sent), nil
}

type allowList map[string]bool

func (a allowList) IsAuthorized(userID string) bool { return a[userID] }

type recordingHandler struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingHandler) HandleUpdate(_ context.Context, update *tgbotapi.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, update.Message.Text)
}

func message(updateID int, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: userID},
			Text: text,
		},
	}
}

func TestTelegramUpdateListener(t *testing.T) {
	client := &fakeTelegram{updates: make(chan tgbotapi.Update)}
	handler := &recordingHandler{}
	listener, _ := NewTelegramUpdateListener(client, allowList{"tg:1": true}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Start(ctx) }()

	client.updates <- message(1, 1, "hello")
	client.updates <- message(2, 2, "let me in")
	client.updates <- tgbotapi.Update{UpdateID: 3}
	close(client.updates)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	cancel()

	if len(handler.texts) != 1 || handler.texts[0] != "hello" {
		t.Fatalf("handled = %v", handler.texts)
	}
	if len(client.sent) != 1 || client.sent[0] != fmt.Sprintf("User ID %d is not authorized", 2) {
		t.Fatalf("sent = %v", client.sent)
	}
}
