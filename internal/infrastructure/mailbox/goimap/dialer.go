package goimap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	// Password is used when no OAuth access token is supplied.
	Password string
	Folder   string
	// Writable selects the folder read-write so messages can be flagged seen.
	Writable bool
	// IdleRenew re-issues IDLE before servers drop it (RFC 2177 asks for
	// less than 29 minutes).
	IdleRenew time.Duration
}

type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.IdleRenew <= 0 {
		cfg.IdleRenew = 25 * time.Minute
	}
	return &Dialer{cfg: cfg}
}

// Dial connects, authenticates and selects the configured folder. An empty
// accessToken falls back to password login.
func (d *Dialer) Dial(ctx context.Context, accessToken string) (ports.MailboxSession, error) {
	updates := make(chan struct{}, 1)
	opts := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case updates <- struct{}{}:
				default:
				}
			},
		},
	}

	address := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	var (
		client *imapclient.Client
		err    error
	)
	if d.cfg.TLS {
		client, err = imapclient.DialTLS(address, opts)
	} else {
		client, err = imapclient.DialInsecure(address, opts)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrConnection, "imap dial", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := d.authenticate(client, accessToken); err != nil {
		_ = client.Close()
		return nil, err
	}

	if _, err := client.Select(d.cfg.Folder, &imap.SelectOptions{ReadOnly: !d.cfg.Writable}).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, domain.WrapError(domain.ErrConnection, "imap select", fmt.Errorf("%s: %w", d.cfg.Folder, err))
	}

	slog.Debug("imap_session_opened",
		"host", d.cfg.Host,
		"folder", d.cfg.Folder,
		"read_only", !d.cfg.Writable,
		"oauth", accessToken != "",
	)
	return &Session{client: client, updates: updates, idleRenew: d.cfg.IdleRenew}, nil
}

func (d *Dialer) authenticate(client *imapclient.Client, accessToken string) error {
	if accessToken != "" {
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: d.cfg.Username,
			Token:    accessToken,
			Host:     d.cfg.Host,
			Port:     d.cfg.Port,
		})
		if err := client.Authenticate(saslClient); err != nil {
			return domain.WrapError(domain.ErrAuth, "imap authenticate", err)
		}
		return nil
	}
	if d.cfg.Password == "" {
		return domain.WrapError(domain.ErrAuth, "imap login", errors.New("no access token or password configured"))
	}
	if err := client.Login(d.cfg.Username, d.cfg.Password).Wait(); err != nil {
		return domain.WrapError(domain.ErrAuth, "imap login", err)
	}
	return nil
}
