package domain

import (
	"strconv"
	"time"
)

// Message is an inbound mail parsed from the watched mailbox. It is
// immutable once built by the ingestor.
type Message struct {
	UID        uint32    `json:"uid"`
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

// Key is the identity of the message within a mailbox. The sender-controlled
// Message-ID header is only used for threading.
func (m Message) Key(mailbox string) string {
	return mailbox + ":" + strconv.FormatUint(uint64(m.UID), 10)
}

// Watermark is the highest UID whose processing fully completed.
type Watermark struct {
	Mailbox string    `json:"mailbox"`
	LastUID uint32    `json:"last_uid"`
	Updated time.Time `json:"updated_at"`
}

// OutboundEmail is a reply handed to the outbound transport.
type OutboundEmail struct {
	From       string
	To         string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References string
}
