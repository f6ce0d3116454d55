package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"ssl-monitor/internal/conf"
	"ssl-monitor/internal/domain"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull  = errors.New("notification queue full")
	ErrNoChannels = errors.New("no notification channel enabled")
)

// Deliverer hands a transition event to the user's notification channels. Failures are
// reported to the caller for logging only; they never affect stored observations.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, ev domain.Event) error
}

const (
	channelTelegram = "telegram"
	channelSlack    = "slack"
	channelWebhook  = "webhook"
)

type notifyJob struct {
	DomainID primitive.ObjectID
	ChatID   string
	Message  string
	Event    *domain.Event
}

// WebhookPayload is the generic JSON body (Slack/Teams/Discord compatible "text").
type WebhookPayload struct {
	Text  string        `json:"text"`
	Event *domain.Event `json:"event,omitempty"`
}

// EventTemplateData is what message templates can reference, e.g. {{.Domain}}.
type EventTemplateData struct {
	Kind       string
	Domain     string
	Status     string
	Previous   string
	Days       string
	ExpiryDate string
	Relative   string
	Error      string
	Time       string
}

// Default templates, per event kind.
var defaultTemplates = map[domain.EventKind]string{
	domain.EventEnteredWarning:  "⚠️ <b>[Certificate expiring]</b>\nDomain: {{.Domain}}\nDays left: {{.Days}}\nExpires: {{.ExpiryDate}} ({{.Relative}})",
	domain.EventEnteredCritical: "🔥 <b>[Certificate expires this week]</b>\nDomain: {{.Domain}}\nDays left: {{.Days}}\nExpires: {{.ExpiryDate}} ({{.Relative}})",
	domain.EventEnteredExpired:  "❌ <b>[Certificate expired]</b>\nDomain: {{.Domain}}\nExpired: {{.ExpiryDate}} ({{.Relative}})",
	domain.EventRecovered:       "✅ <b>[Certificate healthy]</b>\nDomain: {{.Domain}}\nWas: {{.Previous}}\nExpires: {{.ExpiryDate}} ({{.Relative}})",
	domain.EventProbeFailed:     "🚫 <b>[Check failed]</b>\nDomain: {{.Domain}}\nReason: {{.Error}}",
}

const testMessage = "🔔 <b>[Test]</b> This is a test notification from ssl-monitor."

var htmlToMarkdown = strings.NewReplacer("<b>", "*", "</b>", "*")

type NotifierService struct {
	Config     conf.NotifierConfig
	HTTPClient *http.Client
	// Base URLs, replaceable in tests.
	TelegramAPI string
	SlackAPI    string

	queues    map[string]chan notifyJob
	templates map[string]*template.Template

	mu        sync.Mutex
	cancelled map[primitive.ObjectID]time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// NewNotifierService parses templates and starts one rate-limited worker per enabled channel.
func NewNotifierService(cfg conf.NotifierConfig) (*NotifierService, error) {
	ctx, cancel := context.WithCancel(context.Background())

	n := &NotifierService{
		Config:      cfg,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		TelegramAPI: "https://api.telegram.org",
		SlackAPI:    "https://slack.com/api",
		queues:      make(map[string]chan notifyJob),
		templates:   make(map[string]*template.Template),
		cancelled:   make(map[primitive.ObjectID]time.Time),
		ctx:         ctx,
		stop:        cancel,
	}

	// 1. Templates: per-channel override, or the per-kind defaults
	if err := n.parseTemplate(channelTelegram, cfg.Telegram.Template); err != nil {
		cancel()
		return nil, err
	}
	if err := n.parseTemplate(channelSlack, cfg.Slack.Template); err != nil {
		cancel()
		return nil, err
	}

	// 2. Workers
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 100
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		n.startWorker(channelTelegram, queueSize, n.sendTelegram)
	}
	if cfg.Slack.Enabled && cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		n.startWorker(channelSlack, queueSize, n.sendSlack)
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		n.startWorker(channelWebhook, queueSize, n.sendWebhook)
	}

	return n, nil
}

// ==========================================
// Public Methods
// ==========================================

// Deliver queues ev on every enabled channel. It never blocks on the network.
func (n *NotifierService) Deliver(ctx context.Context, userID string, ev domain.Event) error {
	if len(n.queues) == 0 {
		logrus.Debugf("[Notifier] no channel enabled, skipping %s for %s", ev.Kind, ev.DomainName)
		return nil
	}

	// 1. Template data once, shared by every channel
	data := newEventTemplateData(ev)
	event := ev

	var errs []error
	for name := range n.queues {
		// 2. Render; a broken custom template still gets a minimal message out
		msg, err := n.render(name, ev.Kind, data)
		if err != nil {
			logrus.Errorf("[Notifier] template error (%s): %v", name, err)
			msg = fmt.Sprintf("⚠️ %s: %s", ev.Kind, html.EscapeString(ev.DomainName))
		}

		// 3. Route: Telegram needs a chat for this user
		job := notifyJob{DomainID: ev.DomainID, Message: msg, Event: &event}
		if name == channelTelegram {
			job.ChatID = n.chatFor(userID)
			if job.ChatID == "" {
				continue
			}
		}

		// 4. Queue without blocking

		if err := n.enqueue(name, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendTest queues a test message on every enabled channel.
func (n *NotifierService) SendTest(ctx context.Context, userID string) error {
	if len(n.queues) == 0 {
		return ErrNoChannels
	}

	var errs []error
	for name := range n.queues {
		job := notifyJob{Message: testMessage}
		if name == channelTelegram {
			job.ChatID = n.chatFor(userID)
			if job.ChatID == "" {
				errs = append(errs, fmt.Errorf("telegram: no chat configured for user %q", userID))
				continue
			}
		}
		if err := n.enqueue(name, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelDomain drops every queued notification of a deleted domain.
func (n *NotifierService) CancelDomain(id primitive.ObjectID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	n.cancelled[id] = now

	// ids are never reused, an hour is plenty for the queues to drain
	for k, at := range n.cancelled {
		if now.Sub(at) > time.Hour {
			delete(n.cancelled, k)
		}
	}
}

// Stop ends the workers. Queued messages are discarded.
func (n *NotifierService) Stop() {
	n.closed.Do(func() {
		n.stop()
		n.wg.Wait()
		logrus.Info("[Notifier] workers stopped")
	})
}

// ==========================================
// Private Logic
// ==========================================

func (n *NotifierService) startWorker(name string, size int, send func(ctx context.Context, job notifyJob) error) {
	queue := make(chan notifyJob, size)
	n.queues[name] = queue

	limit := rate.Inf
	if n.Config.RateInterval > 0 {
		limit = rate.Every(n.Config.RateInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		logrus.Infof("[Notifier] %s worker started", name)

		for {
			select {
			case <-n.ctx.Done():
				return
			case job := <-queue:
				// 1. Rate limit per channel
				if err := limiter.Wait(n.ctx); err != nil {
					return
				}
				// 2. Domain deleted while queued
				if n.isCancelled(job.DomainID) {
					logrus.Debugf("[Notifier] dropping %s message for deleted domain %s", name, job.DomainID.Hex())
					continue
				}
				// 3. Send (failures are logged, never retried)
				if err := send(n.ctx, job); err != nil {
					notificationFailures.WithLabelValues(name).Inc()
					logrus.Errorf("[Notifier] %s delivery failed: %v", name, err)
				}
			}
		}
	}()
}

func (n *NotifierService) enqueue(name string, job notifyJob) error {
	select {
	case n.queues[name] <- job:
		logrus.Debugf("📥 [Queue] %s message queued (backlog: %d)", name, len(n.queues[name]))
		return nil
	default:
		notificationFailures.WithLabelValues(name).Inc()
		logrus.Warnf("🔥 [Queue] %s queue full, message dropped", name)
		return fmt.Errorf("%s: %w", name, ErrQueueFull)
	}
}

func (n *NotifierService) isCancelled(id primitive.ObjectID) bool {
	if id.IsZero() {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.cancelled[id]
	return ok
}

func (n *NotifierService) chatFor(userID string) string {
	if chat, ok := n.Config.Telegram.UserChats[strings.ToLower(userID)]; ok {
		return chat
	}
	return n.Config.Telegram.ChatID
}

func (n *NotifierService) parseTemplate(name, text string) error {
	if text == "" {
		return nil
	}
	t, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("parse %s template: %w", name, err)
	}
	n.templates[name] = t
	return nil
}

func (n *NotifierService) render(channel string, kind domain.EventKind, data EventTemplateData) (string, error) {
	// custom template for the channel, else the default for the event kind
	t, ok := n.templates[channel]
	if !ok {
		var err error
		t, err = template.New(string(kind)).Parse(defaultTemplates[kind])
		if err != nil {
			return "", err
		}
	}

	// Telegram parses the message as HTML
	if channel == channelTelegram {
		data = data.escaped()
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func newEventTemplateData(ev domain.Event) EventTemplateData {
	data := EventTemplateData{
		Kind:     string(ev.Kind),
		Domain:   ev.DomainName,
		Status:   string(ev.Current),
		Previous: string(ev.Previous),
		Days:     "-",
		Error:    ev.ErrorMessage,
		Time:     ev.OccurredAt.Format("2006-01-02 15:04:05"),
	}
	if ev.ExpiresInDays != nil {
		data.Days = humanize.Comma(int64(*ev.ExpiresInDays))
	}
	if ev.NotValidAfter != nil {
		data.ExpiryDate = ev.NotValidAfter.Format("2006-01-02")
		data.Relative = humanize.RelTime(*ev.NotValidAfter, ev.OccurredAt, "ago", "from now")
	}
	return data
}

// escaped returns a copy safe to interpolate into HTML markup.
func (d EventTemplateData) escaped() EventTemplateData {
	return EventTemplateData{
		Kind:       html.EscapeString(d.Kind),
		Domain:     html.EscapeString(d.Domain),
		Status:     html.EscapeString(d.Status),
		Previous:   html.EscapeString(d.Previous),
		Days:       html.EscapeString(d.Days),
		ExpiryDate: html.EscapeString(d.ExpiryDate),
		Relative:   html.EscapeString(d.Relative),
		Error:      html.EscapeString(d.Error),
		Time:       html.EscapeString(d.Time),
	}
}

// ==========================================
// Channels
// ==========================================

func (n *NotifierService) sendTelegram(ctx context.Context, job notifyJob) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", n.TelegramAPI, n.Config.Telegram.BotToken)
	return n.postJSON(ctx, apiURL, map[string]string{
		"chat_id":    job.ChatID,
		"text":       job.Message,
		"parse_mode": "HTML",
	}, nil)
}

func (n *NotifierService) sendSlack(ctx context.Context, job notifyJob) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+n.Config.Slack.Token)

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	err := n.postJSON(ctx, n.SlackAPI+"/chat.postMessage", map[string]string{
		"channel": n.Config.Slack.Channel,
		"text":    htmlToMarkdown.Replace(job.Message),
	}, header, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("slack: %s", resp.Error)
	}
	return nil
}

func (n *NotifierService) sendWebhook(ctx context.Context, job notifyJob) error {
	header := http.Header{}
	if n.Config.Webhook.User != "" || n.Config.Webhook.Password != "" {
		auth := n.Config.Webhook.User + ":" + n.Config.Webhook.Password
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}

	return n.postJSON(ctx, n.Config.Webhook.URL, WebhookPayload{
		Text:  htmlToMarkdown.Replace(job.Message),
		Event: job.Event,
	}, header)
}

// postJSON posts body and, when out is given, decodes the response into out[0].
func (n *NotifierService) postJSON(ctx context.Context, url string, body interface{}, header http.Header, out ...interface{}) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	if len(out) > 0 {
		return json.NewDecoder(resp.Body).Decode(out[0])
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
