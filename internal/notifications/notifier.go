package notifications

import "context"

type PasswordResetInput struct {
	Email    string
	Name     string
	ResetURL string
}

type Notifier interface {
	SendPasswordReset(ctx context.Context, input PasswordResetInput) error
}
