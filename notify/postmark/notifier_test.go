package postmark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testConfig(url string) Config {
	return Config{
		ServerToken:  "server-token",
		AccountToken: "account-token",
		SenderEmail:  "security@example.com",
		SupportEmail: "support@example.com",
		Subject:      "Code",
		Tag:          "two-factor",
		BaseURL:      url,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server token", func(c *Config) { c.ServerToken = "" }},
		{"account token", func(c *Config) { c.AccountToken = "" }},
		{"sender", func(c *Config) { c.SenderEmail = "not-an-address" }},
		{"support", func(c *Config) { c.SupportEmail = "nope" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig("")
			tc.mutate(&cfg)
			if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("POSTMARK_SERVER_TOKEN", "s")
	t.Setenv("POSTMARK_ACCOUNT_TOKEN", "a")
	t.Setenv("POSTMARK_SENDER_EMAIL", "from@example.com")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv error: %v", err)
	}
	if cfg.Tag != "two-factor" || cfg.Subject == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestSendCodeDeliversMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Postmark-Server-Token") != "server-token" {
			t.Errorf("missing server token header")
		}
		if !strings.HasSuffix(r.URL.Path, "/email") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"user@example.com","MessageID":"m-1","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := n.SendCode(context.Background(), "user@example.com", "123456"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	if got["To"] != "user@example.com" || got["From"] != "security@example.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if body, _ := got["TextBody"].(string); !strings.Contains(body, "123456") {
		t.Fatalf("code missing from body %q", body)
	}
}

func TestSendCodeReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"Inactive recipient"}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	err = n.SendCode(context.Background(), "user@example.com", "123456")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestSendCodeRejectsBadDestination(t *testing.T) {
	n, err := New(testConfig("http://127.0.0.1:1"), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := n.SendCode(context.Background(), "nobody", "1"); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}
