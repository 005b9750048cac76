package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gopkg.in/gomail.v2"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakeNotifier) SendVerificationCode(ctx context.Context, in VerificationCodeInput) error {
	f.mu.Lock()
	f.calls++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func TestProtectedNotifier_OpensAfterThreshold(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("smtp down")}
	var results []string

	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{
		Timeout:          time.Second,
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnResult:         func(r string) { results = append(results, r) },
	})

	in := VerificationCodeInput{Email: "a@x.com", Code: "123456"}

	for i := 0; i < 2; i++ {
		if err := n.SendVerificationCode(context.Background(), in); err == nil {
			t.Fatalf("expected failure on attempt %d", i+1)
		}
	}

	if got := n.State(); got != "open" {
		t.Fatalf("expected open circuit, got %s", got)
	}

	if err := n.SendVerificationCode(context.Background(), in); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	if inner.calls != 2 {
		t.Fatalf("expected inner to be called twice, got %d", inner.calls)
	}

	want := []string{"failed", "failed", "rejected"}
	if len(results) != len(want) {
		t.Fatalf("expected results %v, got %v", want, results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("expected results %v, got %v", want, results)
		}
	}
}

func TestProtectedNotifier_HalfOpenRecovers(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("smtp down")}
	now := time.Now()

	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Second,
	})
	n.now = func() time.Time { return now }

	in := VerificationCodeInput{Email: "a@x.com", Code: "123456"}

	_ = n.SendVerificationCode(context.Background(), in)
	if n.State() != "open" {
		t.Fatalf("expected open circuit")
	}

	now = now.Add(11 * time.Second)
	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	if err := n.SendVerificationCode(context.Background(), in); err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}
	if n.State() != "closed" {
		t.Fatalf("expected closed circuit, got %s", n.State())
	}
}

func TestProtectedNotifier_Timeout(t *testing.T) {
	inner := &fakeNotifier{block: true}

	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{Timeout: 20 * time.Millisecond})

	err := n.SendVerificationCode(context.Background(), VerificationCodeInput{Email: "a@x.com", Code: "123456"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSMTPNotifier_BuildsMessage(t *testing.T) {
	d := &fakeDialer{}
	n := &SMTPNotifier{
		cfg:    SMTPConfig{From: "noreply@medcard.test", Subject: "Your Verification Code"},
		dialer: d,
	}

	err := n.SendVerificationCode(context.Background(), VerificationCodeInput{Email: "a@x.com", Code: "654321"})
	if err != nil {
		t.Fatalf("send error: %v", err)
	}

	if len(d.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(d.sent))
	}

	msg := d.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "a@x.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "noreply@medcard.test" {
		t.Fatalf("unexpected From header %v", got)
	}
}

func TestSMTPNotifier_WrapsError(t *testing.T) {
	boom := errors.New("connection refused")
	n := &SMTPNotifier{cfg: SMTPConfig{From: "noreply@medcard.test"}, dialer: &fakeDialer{err: boom}}

	err := n.SendVerificationCode(context.Background(), VerificationCodeInput{Email: "a@x.com", Code: "654321"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
}

func TestSMTPConfig_Validate(t *testing.T) {
	if err := (SMTPConfig{}).Validate(); err == nil {
		t.Fatalf("expected error for empty config")
	}

	cfg := SMTPConfig{Host: "smtp.test", Port: 465, Username: "u", Password: "p", From: "f@test"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
