package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ssl-monitor/internal/conf"
	"ssl-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type capturedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

// captureServer records every request body. When gate is not nil each request waits for it.
func captureServer(t *testing.T, gate chan struct{}, response string) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	got := make(chan capturedRequest, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body}

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func receive(t *testing.T, ch chan capturedRequest) capturedRequest {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no request received")
		return capturedRequest{}
	}
}

func warningEvent(id primitive.ObjectID) domain.Event {
	days := 25
	nva := testNow.Add(25 * 24 * time.Hour)
	return domain.Event{
		ID:            "evt-1",
		Kind:          domain.EventEnteredWarning,
		UserID:        "alice",
		DomainID:      id,
		DomainName:    "example.com",
		ExpiresInDays: &days,
		Previous:      domain.StatusHealthy,
		Current:       domain.StatusWarning,
		NotValidAfter: &nva,
		OccurredAt:    testNow,
	}
}

func TestNotifier_Webhook(t *testing.T) {
	srv, got := captureServer(t, nil, `{}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Webhook: conf.WebhookConfig{Enabled: true, URL: srv.URL + "/hook", User: "ops", Password: "secret"},
	})
	require.NoError(t, err)
	defer n.Stop()

	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(primitive.NewObjectID())))

	req := receive(t, got)
	assert.Equal(t, "/hook", req.Path)
	assert.Equal(t, "Basic b3BzOnNlY3JldA==", req.Header.Get("Authorization"))

	text, _ := req.Body["text"].(string)
	assert.Contains(t, text, "example.com")
	assert.Contains(t, text, "Days left: 25")
	assert.Contains(t, text, "*[Certificate expiring]*")

	event, ok := req.Body["event"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "entered_warning", event["kind"])
}

func TestNotifier_TelegramUsesPerUserChat(t *testing.T) {
	srv, got := captureServer(t, nil, `{"ok":true}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Telegram: conf.TelegramConfig{
			Enabled:   true,
			BotToken:  "TOKEN",
			ChatID:    "100",
			UserChats: map[string]string{"alice": "200"},
		},
	})
	require.NoError(t, err)
	n.TelegramAPI = srv.URL
	defer n.Stop()

	require.NoError(t, n.Deliver(context.Background(), "Alice", warningEvent(primitive.NewObjectID())))
	req := receive(t, got)
	assert.Equal(t, "/botTOKEN/sendMessage", req.Path)
	assert.Equal(t, "200", req.Body["chat_id"])
	assert.Equal(t, "HTML", req.Body["parse_mode"])

	require.NoError(t, n.SendTest(context.Background(), "bob"))
	req = receive(t, got)
	assert.Equal(t, "100", req.Body["chat_id"])
	assert.Contains(t, req.Body["text"], "test notification")
}

func TestNotifier_Slack(t *testing.T) {
	srv, got := captureServer(t, nil, `{"ok":true}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Slack: conf.SlackConfig{Enabled: true, Token: "xoxb-1", Channel: "#certs", Template: "{{.Domain}} is {{.Status}}"},
	})
	require.NoError(t, err)
	n.SlackAPI = srv.URL
	defer n.Stop()

	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(primitive.NewObjectID())))
	req := receive(t, got)
	assert.Equal(t, "/chat.postMessage", req.Path)
	assert.Equal(t, "Bearer xoxb-1", req.Header.Get("Authorization"))
	assert.Equal(t, "#certs", req.Body["channel"])
	assert.Equal(t, "example.com is warning", req.Body["text"])
}

func TestNotifier_BadTemplate(t *testing.T) {
	_, err := NewNotifierService(conf.NotifierConfig{
		Slack: conf.SlackConfig{Enabled: true, Token: "t", Channel: "c", Template: "{{.Domain"},
	})
	assert.Error(t, err)
}

func TestNotifier_NoChannels(t *testing.T) {
	n, err := NewNotifierService(conf.NotifierConfig{})
	require.NoError(t, err)
	defer n.Stop()

	assert.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(primitive.NewObjectID())))
	assert.ErrorIs(t, n.SendTest(context.Background(), "alice"), ErrNoChannels)
}

func TestNotifier_CancelDomainDropsQueuedMessages(t *testing.T) {
	gate := make(chan struct{})
	srv, got := captureServer(t, gate, `{}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Webhook: conf.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	require.NoError(t, err)
	defer n.Stop()

	kept := primitive.NewObjectID()
	deleted := primitive.NewObjectID()

	// first message occupies the worker
	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(kept)))
	receive(t, got)

	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(deleted)))
	n.CancelDomain(deleted)

	ev := warningEvent(kept)
	ev.DomainName = "still-here.example.com"
	require.NoError(t, n.Deliver(context.Background(), "alice", ev))

	close(gate)

	req := receive(t, got)
	assert.Contains(t, req.Body["text"], "still-here.example.com")

	select {
	case extra := <-got:
		t.Fatalf("unexpected delivery: %v", extra.Body["text"])
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifier_QueueFull(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	srv, got := captureServer(t, gate, `{}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Webhook:   conf.WebhookConfig{Enabled: true, URL: srv.URL},
		QueueSize: 1,
	})
	require.NoError(t, err)
	defer n.Stop()

	id := primitive.NewObjectID()
	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(id)))
	receive(t, got)

	require.NoError(t, n.Deliver(context.Background(), "alice", warningEvent(id)))
	assert.ErrorIs(t, n.Deliver(context.Background(), "alice", warningEvent(id)), ErrQueueFull)
}

func TestNewEventTemplateData(t *testing.T) {
	data := newEventTemplateData(warningEvent(primitive.NewObjectID()))
	assert.Equal(t, "25", data.Days)
	assert.Equal(t, "2026-06-26", data.ExpiryDate)
	assert.Contains(t, data.Relative, "from now")
	assert.Equal(t, "healthy", data.Previous)

	failed := domain.Event{Kind: domain.EventProbeFailed, DomainName: "x.test", ErrorMessage: "connection refused", OccurredAt: testNow}
	data = newEventTemplateData(failed)
	assert.Equal(t, "-", data.Days)
	assert.Empty(t, data.ExpiryDate)
	assert.Equal(t, "connection refused", data.Error)
}

func TestNotifier_TelegramEscapesEventFields(t *testing.T) {
	tg, tgGot := captureServer(t, nil, `{"ok":true}`)
	hook, hookGot := captureServer(t, nil, `{}`)

	n, err := NewNotifierService(conf.NotifierConfig{
		Telegram: conf.TelegramConfig{Enabled: true, BotToken: "TOKEN", ChatID: "100"},
		Webhook:  conf.WebhookConfig{Enabled: true, URL: hook.URL},
	})
	require.NoError(t, err)
	n.TelegramAPI = tg.URL
	defer n.Stop()

	ev := domain.Event{
		Kind:         domain.EventProbeFailed,
		UserID:       "alice",
		DomainID:     primitive.NewObjectID(),
		DomainName:   "example.com",
		Previous:     domain.StatusHealthy,
		Current:      domain.StatusError,
		ErrorMessage: "remote error: <alert> & reset",
		OccurredAt:   testNow,
	}
	require.NoError(t, n.Deliver(context.Background(), "alice", ev))

	text, _ := receive(t, tgGot).Body["text"].(string)
	assert.Contains(t, text, "<b>[Check failed]</b>")
	assert.Contains(t, text, "remote error: &lt;alert&gt; &amp; reset")
	assert.NotContains(t, text, "<alert>")

	// plain-text channels get the raw message
	text, _ = receive(t, hookGot).Body["text"].(string)
	assert.Contains(t, text, "remote error: <alert> & reset")
}
