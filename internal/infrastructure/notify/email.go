package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// AdminEmail sends a copy of each escalation summary to the configured
// admin recipients through the outbound transport.
type AdminEmail struct {
	transport  ports.MailTransport
	from       string
	recipients []string
}

func NewAdminEmail(transport ports.MailTransport, from string, recipients []string) *AdminEmail {
	return &AdminEmail{transport: transport, from: from, recipients: recipients}
}

func (n *AdminEmail) NotifyEscalation(ctx context.Context, esc domain.Escalation) error {
	subject := fmt.Sprintf("[escalation:%s] %s", esc.Priority, esc.Subject)
	text := Summary(esc)
	if esc.DraftResponse != "" {
		text += "\n\ndraft reply:\n" + esc.DraftResponse
	}

	var errs []error
	for _, to := range n.recipients {
		err := n.transport.Send(ctx, domain.OutboundEmail{
			From:    n.from,
			To:      to,
			Subject: subject,
			Text:    text,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}
