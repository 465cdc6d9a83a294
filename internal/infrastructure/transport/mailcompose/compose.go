// Package mailcompose renders outbound emails as RFC 5322 messages.
package mailcompose

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// Compose builds the raw message. Replies with an HTML body become
// multipart/alternative; plain notices stay single-part.
func Compose(email domain.OutboundEmail, now time.Time) ([]byte, error) {
	if strings.TrimSpace(email.To) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compose email", fmt.Errorf("recipient is empty"))
	}

	var h mail.Header
	h.SetDate(now)
	if err := setAddress(&h, "From", email.From); err != nil {
		return nil, err
	}
	if err := setAddress(&h, "To", email.To); err != nil {
		return nil, err
	}
	h.SetSubject(sanitizeHeader(email.Subject))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if v := sanitizeHeader(email.InReplyTo); v != "" {
		h.Set("In-Reply-To", v)
	}
	if v := sanitizeHeader(email.References); v != "" {
		h.Set("References", v)
	}
	h.Set("Auto-Submitted", "auto-replied")

	var buf bytes.Buffer
	if email.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message writer: %w", err)
		}
		if err := writeAndClose(w, email.Text); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	tw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	for _, part := range []struct {
		mediaType string
		body      string
	}{
		{"text/plain", email.Text},
		{"text/html", email.HTML},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.mediaType, err)
		}
		if err := writeAndClose(pw, part.body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// BareAddress returns the address portion of a header value, for use in the
// SMTP envelope.
func BareAddress(raw string) string {
	addr, err := mail.ParseAddress(sanitizeHeader(raw))
	if err != nil {
		return sanitizeHeader(raw)
	}
	return addr.Address
}

func setAddress(h *mail.Header, key, raw string) error {
	raw = sanitizeHeader(raw)
	if raw == "" {
		return domain.WrapError(domain.ErrInvalidInput, "compose email", fmt.Errorf("%s is empty", key))
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil || len(addrs) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "compose email", fmt.Errorf("invalid %s address %q", key, raw))
	}
	h.SetAddressList(key, addrs)
	return nil
}

func writeAndClose(w io.WriteCloser, body string) error {
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return nil
}

func sanitizeHeader(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(s))
}
