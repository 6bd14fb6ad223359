package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"text/template"

	"github.com/dajohi/goemail"

	"upcontacts/internal/observability"
)

const (
	defaultFrom        = "UpContacts <noreply@upcontacts.local>"
	defaultFrontendURL = "http://localhost:8000"
)

type Config struct {
	Host        string
	User        string
	Password    string
	From        string
	FrontendURL string
	// SkipVerify disables TLS certificate verification of the SMTP host.
	SkipVerify bool
}

// Client sends account lifecycle emails over SMTPS. A Client built without
// SMTP credentials is disabled and only logs what it would have sent.
type Client struct {
	smtp        *goemail.SMTP
	mailName    string
	mailAddress string
	frontendURL string
	disabled    bool
	logger      *observability.Logger
	send        func(subject, body string, recipients []string) error
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	frontendURL := strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if frontendURL == "" {
		frontendURL = defaultFrontendURL
	}

	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		logger.Info("mail_disabled", nil)
		return &Client{disabled: true, frontendURL: frontendURL, logger: logger}, nil
	}

	u := &url.URL{
		Scheme: "smtps",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host,
	}

	from := cfg.From
	if strings.TrimSpace(from) == "" {
		from = defaultFrom
	}
	address, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse mail from address: %w", err)
	}

	smtp, err := goemail.NewSMTP(u.String(), &tls.Config{
		ServerName:         u.Hostname(),
		InsecureSkipVerify: cfg.SkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}

	logger.Info("mail_enabled", map[string]any{"host": cfg.Host, "from": address.Address})

	c := &Client{
		smtp:        smtp,
		mailName:    address.Name,
		mailAddress: address.Address,
		frontendURL: frontendURL,
		logger:      logger,
	}
	c.send = c.sendSMTP
	return c, nil
}

func (c *Client) IsEnabled() bool {
	return !c.disabled
}

func (c *Client) SendVerification(_ context.Context, email, token string) error {
	return c.sendTemplate(verifyTemplate, "Verify your email", email, templateData{
		Email: email,
		Link:  c.link("/auth/verify-email", token),
	})
}

func (c *Client) SendPasswordReset(_ context.Context, email, token string) error {
	return c.sendTemplate(resetTemplate, "Reset your password", email, templateData{
		Email: email,
		Link:  c.link("/auth/reset-password", token),
	})
}

func (c *Client) link(path, token string) string {
	return c.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (c *Client) sendTemplate(t *template.Template, subject, recipient string, data templateData) error {
	if c.disabled {
		c.logger.Info("mail_skipped", map[string]any{"template": t.Name(), "to": recipient})
		return nil
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s email: %w", t.Name(), err)
	}

	if err := c.send(subject, body.String(), []string{recipient}); err != nil {
		return fmt.Errorf("send %s email: %w", t.Name(), err)
	}
	return nil
}

func (c *Client) sendSMTP(subject, body string, recipients []string) error {
	msg := goemail.NewMessage(c.mailAddress, subject, body)
	msg.SetName(c.mailName)
	for _, v := range recipients {
		msg.AddBCC(v)
	}
	return c.smtp.Send(msg)
}
