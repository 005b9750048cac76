package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LogNotifier writes verification codes to the log instead of mailing them.
// Only meant for local development; the code is redacted unless ShowCode is set.
type LogNotifier struct {
	logger   *slog.Logger
	ShowCode bool
}

func NewLogNotifier(logger *slog.Logger, showCode bool) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, ShowCode: showCode}
}

func (n *LogNotifier) SendVerificationCode(ctx context.Context, in VerificationCodeInput) error {
	// Optional: simulate slow provider
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate provider outage
	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	code := "******"
	if n.ShowCode {
		code = in.Code
	}

	n.logger.InfoContext(ctx, "notification.verification_code", "email", in.Email, "code", code)
	return nil
}
