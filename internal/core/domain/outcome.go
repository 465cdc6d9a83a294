package domain

import "time"

type Disposition string

const (
	DispositionReplied   Disposition = "replied"
	DispositionEscalated Disposition = "escalated"
	DispositionDropped   Disposition = "dropped"
)

// ResponseOutcome is the single terminal record written for every processed
// message, keyed by mailbox and UID. ResponseText is set only when an
// automated reply went out.
type ResponseOutcome struct {
	Mailbox        string         `json:"mailbox"`
	UID            uint32         `json:"uid"`
	MessageID      string         `json:"message_id,omitempty"`
	Sender         string         `json:"sender"`
	Subject        string         `json:"subject"`
	Classification Classification `json:"classification"`
	Disposition    Disposition    `json:"disposition"`
	ResponseText   string         `json:"response_text,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	ResponseTimeMs *int64         `json:"response_time_ms,omitempty"`
	EscalationID   string         `json:"escalation_id,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

func (o ResponseOutcome) Key() string {
	return Message{UID: o.UID}.Key(o.Mailbox)
}

// CategoryCount aggregates outcomes for reporting.
type CategoryCount struct {
	Category    Category    `json:"category"`
	Disposition Disposition `json:"disposition"`
	Count       int         `json:"count"`
}
