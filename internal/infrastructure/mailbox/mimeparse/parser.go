package mimeparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// maxPartBytes bounds how much of one text part is read.
const maxPartBytes = 1 << 20

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a domain message from raw RFC 5322 bytes. The first
// text/plain part is the body; HTML is converted only when no plain part
// exists. Attachments are ignored.
func (p *Parser) Parse(uid uint32, raw []byte) (domain.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.Message{}, domain.WrapError(domain.ErrParse, "parse message", err)
	}
	defer mr.Close()

	from, err := sender(mr.Header)
	if err != nil {
		return domain.Message{}, domain.WrapError(domain.ErrParse, "parse message", err)
	}
	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}
	messageID, err := mr.Header.MessageID()
	if err == nil && messageID != "" {
		messageID = "<" + messageID + ">"
	}
	// Zero when the Date header is missing or malformed.
	received, _ := mr.Header.Date()

	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return domain.Message{}, domain.WrapError(domain.ErrParse, "read message part", err)
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		switch {
		case contentType == "text/plain" && plain == "":
			plain = readPart(part.Body)
		case contentType == "text/html" && html == "":
			html = readPart(part.Body)
		}
	}

	body := strings.TrimSpace(plain)
	if body == "" && html != "" {
		body = HTMLToText(html)
	}

	return domain.Message{
		UID:        uid,
		MessageID:  messageID,
		Subject:    strings.TrimSpace(subject),
		Body:       body,
		From:       from,
		ReceivedAt: received.UTC(),
	}, nil
}

func sender(h mail.Header) (string, error) {
	addrs, err := h.AddressList("From")
	if err != nil {
		return "", fmt.Errorf("parse sender: %w", err)
	}
	if len(addrs) == 0 || addrs[0].Address == "" {
		return "", errors.New("message has no sender")
	}
	return strings.ToLower(addrs[0].Address), nil
}

func readPart(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxPartBytes))
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}
