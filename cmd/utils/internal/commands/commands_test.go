package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
)

const testConfig = `
auth:
  jwt:
    secret: cli-secret
gateway:
  key_secret: key-secret
  webhook_secret: webhook-secret
`

// run executes the root command with a temp config and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("cannot write config: %v", err)
	}

	var out bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", path, "--log-level", "error"}, args...))

	err := root.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestSignPayment(t *testing.T) {
	signer := auth.NewSigner("key-secret", "webhook-secret")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"configSecret", []string{"sign-payment", "order_1", "pay_1"}, signer.SignPayment("order_1", "pay_1")},
		{"flagSecret", []string{"sign-payment", "order_1", "pay_1", "--secret", "other"}, auth.NewSigner("other", "").SignPayment("order_1", "pay_1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, "", tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("signature = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := run(t, "", "sign-payment", "order_1"); err == nil {
		t.Error("expected an error with a missing payment id")
	}
}

func TestSignWebhook(t *testing.T) {
	payload := `{"event":"payment.captured"}`
	signer := auth.NewSigner("", "webhook-secret")

	file := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(file, []byte(payload), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"inline", "", []string{"sign-webhook", payload}},
		{"file", "", []string{"sign-webhook", "--file", file}},
		{"stdin", payload, []string{"sign-webhook"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !signer.VerifyWebhook([]byte(payload), got) {
				t.Errorf("signature %q does not verify", got)
			}
		})
	}

	if _, err := run(t, "", "sign-webhook", payload, "--file", file); err == nil {
		t.Error("expected an error when both inline and file payloads are given")
	}
}

func TestToken(t *testing.T) {
	verifier := auth.NewTokenVerifier("cli-secret")

	tests := []struct {
		name      string
		args      []string
		wantUser  string
		wantAdmin bool
	}{
		{"user", []string{"token", "--user", "demo-user-1", "--email", "asha@example.com"}, "demo-user-1", false},
		{"admin", []string{"token", "--user", "ops-1", "--role", "ADMIN"}, "ops-1", true},
		{"service", []string{"token", "--service", "payment"}, "svc:payment", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := run(t, "", tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			p, err := verifier.Verify(token)
			if err != nil {
				t.Fatalf("token does not verify: %v", err)
			}
			if p.UserID != tt.wantUser {
				t.Errorf("user = %q, want %q", p.UserID, tt.wantUser)
			}
			if p.IsAdmin() != tt.wantAdmin {
				t.Errorf("admin = %v, want %v", p.IsAdmin(), tt.wantAdmin)
			}
		})
	}

	if _, err := run(t, "", "token"); err == nil {
		t.Error("expected an error without --user or --service")
	}
}

func TestResetDBRequiresConfirmation(t *testing.T) {
	_, err := run(t, "", "reset-db")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected a confirmation error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	got, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fulfillment-utils version test" {
		t.Errorf("version output = %q", got)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	root := NewRootCommand("test")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "version"})

	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Error("expected an error for a missing --config file")
	}
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("UTILS_AUTH_JWT_SECRET", "env-secret")

	token, err := run(t, "", "token", "--user", "demo-user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := auth.NewTokenVerifier("env-secret").Verify(token); err != nil {
		t.Errorf("token should be signed with the env secret: %v", err)
	}
}

type mockBlockList struct {
	StartFunc func(ctx context.Context) error
	blocked   map[string]time.Duration
	stopped   bool
}

func (m *mockBlockList) Start(ctx context.Context) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil
}

func (m *mockBlockList) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func (m *mockBlockList) Block(_ context.Context, userID string, ttl time.Duration) error {
	if m.blocked == nil {
		m.blocked = map[string]time.Duration{}
	}
	m.blocked[userID] = ttl
	return nil
}

func (m *mockBlockList) Unblock(_ context.Context, userID string) error {
	delete(m.blocked, userID)
	return nil
}

func TestSetBlocked(t *testing.T) {
	e := &env{logger: apt.NewNoopLogger()}
	ctx := context.Background()
	list := &mockBlockList{}

	if err := setBlocked(ctx, list, e, "user-1", false, time.Hour); err != nil {
		t.Fatalf("block: %v", err)
	}
	if ttl, ok := list.blocked["user-1"]; !ok || ttl != time.Hour {
		t.Fatalf("user-1 blocked = %v (ttl %v), want blocked for 1h", ok, ttl)
	}
	if !list.stopped {
		t.Error("block list was not stopped")
	}

	if err := setBlocked(ctx, list, e, "user-1", true, 0); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, ok := list.blocked["user-1"]; ok {
		t.Error("user-1 is still blocked")
	}

	down := &mockBlockList{StartFunc: func(context.Context) error { return errors.New("connection refused") }}
	if err := setBlocked(ctx, down, e, "user-2", false, 0); err == nil {
		t.Error("expected an error when redis is unreachable")
	}
}
