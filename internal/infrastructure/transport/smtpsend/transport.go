package smtpsend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/transport/mailcompose"
)

type Config struct {
	Host        string
	Port        int
	ImplicitTLS bool
	Username    string
	Password    string
	Timeout     time.Duration
}

type client interface {
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Transport sends replies over SMTP. With a token source it authenticates
// with OAUTHBEARER, otherwise with PLAIN.
type Transport struct {
	cfg    Config
	tokens ports.TokenSource
	dial   func(ctx context.Context) (client, error)
	now    func() time.Time
}

func New(cfg Config, tokens ports.TokenSource) *Transport {
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	t := &Transport{cfg: cfg, tokens: tokens, now: time.Now}
	t.dial = t.dialServer
	return t
}

func (t *Transport) Send(ctx context.Context, email domain.OutboundEmail) error {
	raw, err := mailcompose.Compose(email, t.now())
	if err != nil {
		return err
	}
	auth, err := t.auth(ctx)
	if err != nil {
		return err
	}

	c, err := t.dial(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrConnection, "smtp dial", err)
	}
	defer c.Close()

	if err := c.Auth(auth); err != nil {
		return classifySMTPError("smtp auth", err)
	}
	if err := c.Mail(mailcompose.BareAddress(email.From)); err != nil {
		return classifySMTPError("smtp mail", err)
	}
	if err := c.Rcpt(mailcompose.BareAddress(email.To)); err != nil {
		return classifySMTPError("smtp rcpt", err)
	}
	w, err := c.Data()
	if err != nil {
		return classifySMTPError("smtp data", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return classifySMTPError("smtp write", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTPError("smtp data close", err)
	}
	// The server accepted the message once DATA closed; a failed QUIT must
	// not trigger a resend.
	if err := c.Quit(); err != nil {
		slog.Warn("smtp_quit_failed", "host", t.cfg.Host, "error", err)
	}
	return nil
}

func (t *Transport) auth(ctx context.Context) (smtp.Auth, error) {
	if t.tokens == nil {
		return smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host), nil
	}
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("smtp access token: %w", err)
	}
	if token == "" {
		return smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host), nil
	}
	return saslAuth{client: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: t.cfg.Username,
		Token:    token,
		Host:     t.cfg.Host,
		Port:     t.cfg.Port,
	})}, nil
}

func (t *Transport) dialServer(ctx context.Context) (client, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: t.cfg.Host}

	var conn net.Conn
	var err error
	if t.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(t.cfg.Timeout))
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !t.cfg.ImplicitTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return c, nil
}

// saslAuth adapts a SASL client to net/smtp.
type saslAuth struct {
	client sasl.Client
}

func (a saslAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}

func classifySMTPError(op string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 535 || protoErr.Code == 534 || protoErr.Code == 530:
			return domain.WrapError(domain.ErrAuth, op, err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return domain.WrapError(domain.ErrTemporary, op, err)
		default:
			return domain.WrapError(domain.ErrDispatch, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.WrapError(domain.ErrConnection, op, err)
	}
	return domain.WrapError(domain.ErrDispatch, op, err)
}
