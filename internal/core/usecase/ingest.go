package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// MessageIngestor turns mailbox search results into parsed messages above
// the processing watermark. It remembers the highest UID it has handed out
// so a message waiting in the queue is not enqueued a second time.
type MessageIngestor struct {
	mailbox    string
	watermarks ports.WatermarkStore
	parser     ports.MessageParser
	markSeen   bool

	mu              sync.Mutex
	enqueuedThrough uint32
}

func NewMessageIngestor(mailbox string, watermarks ports.WatermarkStore, parser ports.MessageParser, markSeen bool) *MessageIngestor {
	return &MessageIngestor{
		mailbox:    mailbox,
		watermarks: watermarks,
		parser:     parser,
		markSeen:   markSeen,
	}
}

// Ingest searches the session for unread mail and returns a lazy sequence of
// messages with UID strictly above the floor, in ascending UID order.
// Messages that fail to parse are logged and skipped. A fetch error is
// yielded once and ends the sequence.
func (i *MessageIngestor) Ingest(ctx context.Context, session ports.MailboxSession) (iter.Seq2[domain.Message, error], error) {
	watermark, err := i.watermarks.GetWatermark(ctx, i.mailbox)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	floor := max(watermark, i.floor())

	searchFrom := floor
	if i.markSeen {
		searchFrom = 0
	}
	found, err := session.SearchUnseen(ctx, searchFrom)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConnection, "search unseen", err)
	}

	if i.markSeen {
		i.markProcessedSeen(ctx, session, found, watermark)
	}
	uids := SelectUIDs(found, floor)

	if len(uids) > 0 {
		slog.Info("messages_found",
			"mailbox", i.mailbox,
			"watermark", watermark,
			"floor", floor,
			"count", len(uids),
		)
	}

	return func(yield func(domain.Message, error) bool) {
		for _, uid := range uids {
			if ctx.Err() != nil {
				return
			}
			raw, err := session.FetchRaw(ctx, uid)
			if err != nil {
				yield(domain.Message{}, domain.WrapError(domain.ErrConnection, "fetch message", err))
				return
			}
			msg, err := i.parser.Parse(uid, raw)
			if err != nil {
				slog.Warn("message_dropped_parse_error", "mailbox", i.mailbox, "uid", uid, "error", err)
				i.advanceFloor(uid)
				continue
			}
			i.advanceFloor(uid)
			if !yield(msg, nil) {
				return
			}
		}
	}, nil
}

// SelectUIDs keeps UIDs strictly above floor, sorted ascending without
// duplicates. Servers answer "N:*" with the highest UID even when it is
// below N, so the range is always re-checked here.
func SelectUIDs(found []uint32, floor uint32) []uint32 {
	out := make([]uint32, 0, len(found))
	for _, uid := range found {
		if uid > floor {
			out = append(out, uid)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (i *MessageIngestor) markProcessedSeen(ctx context.Context, session ports.MailboxSession, found []uint32, watermark uint32) {
	for _, uid := range found {
		if uid > watermark {
			continue
		}
		if err := session.MarkSeen(ctx, uid); err != nil {
			slog.Warn("mark_seen_failed", "mailbox", i.mailbox, "uid", uid, "error", err)
		}
	}
}

func (i *MessageIngestor) floor() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enqueuedThrough
}

func (i *MessageIngestor) advanceFloor(uid uint32) {
	i.mu.Lock()
	if uid > i.enqueuedThrough {
		i.enqueuedThrough = uid
	}
	i.mu.Unlock()
}
