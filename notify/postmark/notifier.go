// Package postmark delivers one-time codes by email through the Postmark
// transactional API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/MrEthical07/twofactor"
	"github.com/caarlos0/env/v11"
	"github.com/mrz1836/postmark"
)

// ErrInvalidConfig is returned by New for missing or malformed settings.
var ErrInvalidConfig = errors.New("postmark: invalid config")

// ErrSendFailed wraps every delivery failure.
var ErrSendFailed = errors.New("postmark: send failed")

// Config holds the Postmark credentials and message settings.
type Config struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail  string `env:"POSTMARK_SENDER_EMAIL,required"`
	SupportEmail string `env:"POSTMARK_SUPPORT_EMAIL"`
	Subject      string `env:"POSTMARK_SUBJECT" envDefault:"Your verification code"`
	Tag          string `env:"POSTMARK_TAG" envDefault:"two-factor"`
	// BaseURL overrides the API endpoint. Empty means the Postmark default.
	BaseURL string `env:"POSTMARK_BASE_URL"`
}

// ConfigFromEnv parses Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Notifier is a twofactor.Notifier backed by Postmark.
type Notifier struct {
	client *postmark.Client
	config Config
}

var _ twofactor.Notifier = (*Notifier)(nil)

// New validates cfg and returns a Notifier. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Notifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: AccountToken is required", ErrInvalidConfig)
	}
	if !isValidEmail(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.SupportEmail != "" && !isValidEmail(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Notifier{client: client, config: cfg}, nil
}

// SendCode implements twofactor.Notifier.
func (n *Notifier) SendCode(ctx context.Context, destination, code string) error {
	if !isValidEmail(destination) {
		return fmt.Errorf("%w: invalid destination", ErrSendFailed)
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.config.SenderEmail,
		ReplyTo:  n.config.SupportEmail,
		To:       destination,
		Subject:  n.config.Subject,
		Tag:      n.config.Tag,
		TextBody: textBody(code),
		HTMLBody: htmlBody(code),
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

func textBody(code string) string {
	return "Your verification code is " + code + ".\n\nIf you did not request it, you can ignore this message.\n"
}

func htmlBody(code string) string {
	return "<p>Your verification code is <strong>" + code + "</strong>.</p>" +
		"<p>If you did not request it, you can ignore this message.</p>"
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}
