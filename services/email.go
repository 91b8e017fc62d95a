package services

import (
	"context"

	"featureforge/utils"
)

// EmailSender delivers transactional email. Implementations log and swallow
// delivery failures.
type EmailSender interface {
	Dispatch(ctx context.Context, msg utils.EmailMessage)
}

func sendEmail(ctx context.Context, sender EmailSender, msg utils.EmailMessage) {
	if sender == nil || msg.To == "" {
		return
	}
	sender.Dispatch(ctx, msg)
}
