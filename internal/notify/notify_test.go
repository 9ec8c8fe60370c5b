package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogNotifier_DoesNotLogSecret(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()
	if err := n.SendPasswordReset(ctx, "users", "a@x.com", "reset-secret-value"); err != nil {
		t.Fatal(err)
	}
	if err := n.SendEmailVerification(ctx, "users", "a@x.com", "424242"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "reset-secret-value") || strings.Contains(out, "424242") {
		t.Errorf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, "a@x.com") {
		t.Errorf("recipient missing from log: %s", out)
	}
}

type recordingNotifier struct {
	resets, codes []string
	err           error
}

func (r *recordingNotifier) SendPasswordReset(_ context.Context, _, _, token string) error {
	r.resets = append(r.resets, token)
	return r.err
}

func (r *recordingNotifier) SendEmailVerification(_ context.Context, _, _, code string) error {
	r.codes = append(r.codes, code)
	return r.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingNotifier{err: boom}, &recordingNotifier{}
	m := Multi{a, b}
	if err := m.SendPasswordReset(context.Background(), "users", "a@x.com", "t1"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if len(b.resets) != 1 {
		t.Error("second notifier must still be called")
	}
	_ = m.SendEmailVerification(context.Background(), "users", "a@x.com", "123456")
	if len(a.codes) != 1 || len(b.codes) != 1 {
		t.Error("verification must fan out")
	}
}
