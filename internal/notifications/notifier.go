package notifications

import "context"

type VerificationCodeInput struct {
	Email string
	Code  string
}

type Notifier interface {
	SendVerificationCode(ctx context.Context, input VerificationCodeInput) error
}
