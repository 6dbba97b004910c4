package notifications

import (
	"context"
	"fmt"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"
)

const resetSubject = "Your password reset token (valid for 10 min)"

type MailgunNotifier struct {
	client *mg.MailgunImpl
	sender string
}

func NewMailgunNotifier(domain, apiKey, sender string) *MailgunNotifier {
	return &MailgunNotifier{
		client: mg.NewMailgun(domain, apiKey),
		sender: sender,
	}
}

func (n *MailgunNotifier) SendPasswordReset(ctx context.Context, in PasswordResetInput) error {
	msg := n.client.NewMessage(n.sender, resetSubject, resetText(in), in.Email)

	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, _, err := n.client.Send(c, msg)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

func resetText(in PasswordResetInput) string {
	name := in.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hi %s,\n\nForgot your password? Submit a PATCH request with your new password and passwordConfirm to:\n%s\n\nIf you didn't forget your password, please ignore this email.\n",
		name, in.ResetURL,
	)
}
