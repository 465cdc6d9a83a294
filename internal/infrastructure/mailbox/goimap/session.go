package goimap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// Session is one selected IMAP connection. It is not safe for concurrent use.
type Session struct {
	client    *imapclient.Client
	updates   <-chan struct{}
	idleRenew time.Duration
}

// WaitForNewMail idles until the server reports a message count change.
func (s *Session) WaitForNewMail(ctx context.Context) error {
	for {
		select {
		case <-s.updates:
			return nil
		default:
		}

		idleCmd, err := s.client.Idle()
		if err != nil {
			return domain.WrapError(domain.ErrConnection, "imap idle", err)
		}
		done := make(chan error, 1)
		go func() { done <- idleCmd.Wait() }()

		timer := time.NewTimer(s.idleRenew)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = idleCmd.Close()
			<-done
			return ctx.Err()
		case <-s.updates:
			timer.Stop()
			_ = idleCmd.Close()
			if err := <-done; err != nil {
				return domain.WrapError(domain.ErrConnection, "imap idle", err)
			}
			return nil
		case err := <-done:
			timer.Stop()
			if err != nil {
				return domain.WrapError(domain.ErrConnection, "imap idle", err)
			}
			// Server ended IDLE on its own; a search is cheap and safe.
			return nil
		case <-timer.C:
			_ = idleCmd.Close()
			if err := <-done; err != nil {
				return domain.WrapError(domain.ErrConnection, "imap idle renew", err)
			}
		}
	}
}

func (s *Session) SearchUnseen(ctx context.Context, afterUID uint32) ([]uint32, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	data, err := s.client.UIDSearch(unseenCriteria(afterUID), nil).Wait()
	if err != nil {
		return nil, domain.WrapError(domain.ErrConnection, "imap search", err)
	}
	return toUint32(data.AllUIDs()), nil
}

// FetchRaw downloads the full RFC 5322 message without setting \Seen.
func (s *Session) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	})
	defer fetchCmd.Close()

	var raw []byte
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			section, ok := item.(imapclient.FetchItemDataBodySection)
			if !ok || section.Literal == nil {
				continue
			}
			// The literal must be drained before the next item is parsed.
			body, err := io.ReadAll(section.Literal)
			if err != nil {
				return nil, domain.WrapError(domain.ErrConnection, "imap fetch", err)
			}
			raw = body
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, domain.WrapError(domain.ErrConnection, "imap fetch", err)
	}
	if raw == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "imap fetch", fmt.Errorf("uid %d has no body", uid))
	}
	return raw, nil
}

func (s *Session) MarkSeen(ctx context.Context, uid uint32) error {
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagSeen},
		Silent: true,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return domain.WrapError(domain.ErrConnection, "imap store", err)
	}
	return nil
}

func (s *Session) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}

func unseenCriteria(afterUID uint32) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	if afterUID > 0 {
		var set imap.UIDSet
		set.AddRange(imap.UID(afterUID+1), 0)
		criteria.UID = []imap.UIDSet{set}
	}
	return criteria
}

func toUint32(uids []imap.UID) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out
}
