package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"intake/internal/notification/models"
	"intake/internal/platform/config"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers notifications over SMTP.
type EmailChannel struct {
	addr     string
	from     string
	to       []string
	auth     smtp.Auth
	sendMail SendMailFunc
	now      func() time.Time
}

// EmailOption configures an EmailChannel.
type EmailOption func(*EmailChannel)

// WithSendMail replaces smtp.SendMail.
func WithSendMail(fn SendMailFunc) EmailOption {
	return func(c *EmailChannel) {
		if fn != nil {
			c.sendMail = fn
		}
	}
}

// NewEmailChannel returns nil when SMTP is not configured.
func NewEmailChannel(cfg config.Notifications, opts ...EmailOption) (*EmailChannel, error) {
	if cfg.SMTPAddr == "" {
		return nil, nil
	}
	if cfg.SMTPFrom == "" || len(cfg.SMTPTo) == 0 {
		return nil, fmt.Errorf("smtp channel needs a sender and at least one recipient")
	}
	c := &EmailChannel{
		addr:     cfg.SMTPAddr,
		from:     cfg.SMTPFrom,
		to:       cfg.SMTPTo,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if cfg.SMTPUser != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid smtp address %q: %w", cfg.SMTPAddr, err)
		}
		c.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, host)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, n *models.Notification) models.ChannelResult {
	if err := ctx.Err(); err != nil {
		return models.ChannelResult{Channel: c.Name(), Error: err.Error()}
	}
	if err := c.sendMail(c.addr, c.auth, c.from, c.to, c.message(n)); err != nil {
		return models.ChannelResult{Channel: c.Name(), Error: err.Error()}
	}
	at := c.now().UTC()
	return models.ChannelResult{Channel: c.Name(), Success: true, DeliveredAt: &at}
}

func (c *EmailChannel) message(n *models.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", n.Type, headerSafe(n.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message)
	b.WriteString("\r\n")
	if len(n.Metadata) > 0 {
		keys := make([]string, 0, len(n.Metadata))
		for k := range n.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\r\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, n.Metadata[k])
		}
	}
	return []byte(b.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
