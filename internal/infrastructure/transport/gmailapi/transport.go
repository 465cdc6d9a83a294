package gmailapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/transport/mailcompose"
)

// Transport sends replies with users.messages.send so they land in the
// mailbox's Sent folder and keep Gmail threading.
type Transport struct {
	svc *gmail.Service
	now func() time.Time
}

func New(ctx context.Context, tokens oauth2.TokenSource, opts ...option.ClientOption) (*Transport, error) {
	all := append([]option.ClientOption{option.WithTokenSource(oauth2.ReuseTokenSource(nil, tokens))}, opts...)
	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Transport{svc: svc, now: time.Now}, nil
}

func (t *Transport) Send(ctx context.Context, email domain.OutboundEmail) error {
	raw, err := mailcompose.Compose(email, t.now())
	if err != nil {
		return err
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := t.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return classifyGmailError(err)
	}
	return nil
}

func classifyGmailError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return domain.WrapError(domain.ErrAuth, "gmail send", err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return domain.WrapError(domain.ErrTemporary, "gmail send", err)
		default:
			return domain.WrapError(domain.ErrDispatch, "gmail send", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrDispatch, "gmail send", err)
	}
	return domain.WrapError(domain.ErrConnection, "gmail send", err)
}
