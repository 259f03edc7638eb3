package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Channel types.
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// ChannelConfig describes one notification channel.
type ChannelConfig struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=log webhook email"`

	// webhook
	URL       string            `mapstructure:"url" yaml:"url,omitempty"`
	Headers   map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout   time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
	RateLimit float64           `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	Burst     int               `mapstructure:"burst" yaml:"burst,omitempty"`

	// email
	SMTPHost   string   `mapstructure:"smtp_host" yaml:"smtp_host,omitempty"`
	SMTPPort   int      `mapstructure:"smtp_port" yaml:"smtp_port,omitempty"`
	Username   string   `mapstructure:"username" yaml:"username,omitempty"`
	Password   string   `mapstructure:"password" yaml:"password,omitempty"`
	From       string   `mapstructure:"from" yaml:"from,omitempty"`
	Recipients []string `mapstructure:"recipients" yaml:"recipients,omitempty"`
}

// NewChannel builds a channel from its configuration.
func NewChannel(cfg ChannelConfig, logger *slog.Logger) (Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	switch cfg.Type {
	case ChannelLog:
		return NewLogChannel(name, logger), nil
	case ChannelWebhook:
		return NewWebhookChannel(name, cfg)
	case ChannelEmail:
		return NewEmailChannel(name, cfg)
	default:
		return nil, types.NewErrorf(types.CONFIG_UNKNOWN_CHANNEL, "unknown notification channel type %q", cfg.Type)
	}
}

// LogChannel writes alerts to the structured log at a level derived from
// the severity.
type LogChannel struct {
	name   string
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(name string, logger *slog.Logger) *LogChannel {
	return &LogChannel{name: name, logger: logger}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Send(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	switch {
	case a.State == AlertResolved || a.Severity == SeverityInfo:
		level = slog.LevelInfo
	case a.Severity == SeverityCritical:
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "alert",
		"rule", a.Rule,
		"state", string(a.State),
		"severity", string(a.Severity),
		"message", a.Message,
		"metric", a.Metric,
		"value", a.Value,
		"threshold", a.Threshold,
	)
	return nil
}

// WebhookChannel POSTs alerts as JSON.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookChannel creates a webhook channel. RateLimit is in requests per
// second; zero means one per second.
func NewWebhookChannel(name string, cfg ChannelConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, types.NewErrorf(types.CONFIG_MISSING_FIELD, "webhook channel %q requires url", name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.RateLimit
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &WebhookChannel{
		name:    name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, a Alert) error {
	if !c.limiter.Allow() {
		return fmt.Errorf("webhook %s: rate limit exceeded, alert %s dropped", c.name, a.Rule)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", c.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", c.name, resp.StatusCode)
	}
	return nil
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	name       string
	addr       string
	host       string
	username   string
	password   string
	from       string
	recipients []string
	send       sendMailFunc
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(name string, cfg ChannelConfig) (*EmailChannel, error) {
	if cfg.SMTPHost == "" {
		return nil, types.NewErrorf(types.CONFIG_MISSING_FIELD, "email channel %q requires smtp_host", name)
	}
	if len(cfg.Recipients) == 0 {
		return nil, types.NewErrorf(types.CONFIG_MISSING_FIELD, "email channel %q requires recipients", name)
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	from := cfg.From
	if from == "" {
		from = "tideflow@localhost"
	}
	return &EmailChannel{
		name:       name,
		addr:       net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port)),
		host:       cfg.SMTPHost,
		username:   cfg.Username,
		password:   cfg.Password,
		from:       from,
		recipients: cfg.Recipients,
		send:       smtp.SendMail,
	}, nil
}

func (c *EmailChannel) Name() string { return c.name }

func (c *EmailChannel) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	if err := c.send(c.addr, auth, c.from, c.recipients, c.message(a)); err != nil {
		return fmt.Errorf("email %s: %w", c.name, err)
	}
	return nil
}

func (c *EmailChannel) message(a Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [tideflow %s] %s %s\r\n", strings.ToUpper(string(a.Severity)), a.Rule, a.State)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", a.Message)
	fmt.Fprintf(&b, "Condition: %s %s %g\r\n", a.Metric, a.Operator, a.Threshold)
	fmt.Fprintf(&b, "Value: %g\r\n", a.Value)
	fmt.Fprintf(&b, "Activated: %s\r\n", a.ActivatedAt.UTC().Format(time.RFC3339))
	if a.ResolvedAt != nil {
		fmt.Fprintf(&b, "Resolved: %s\r\n", a.ResolvedAt.UTC().Format(time.RFC3339))
	}
	return []byte(b.String())
}
