package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"github.com/pkg/errors"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// Enabled reports whether enough is set to send mail.
func (c EmailConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

type sendFunc func(ctx context.Context, msg *email.Email, addr string, auth smtp.Auth) error

// Email sends events over SMTP.
type Email struct {
	cfg  EmailConfig
	send sendFunc
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Email{
		cfg:  cfg,
		send: sendContext,
	}
}

func (n *Email) Notify(ctx context.Context, e Event) error {
	msg := email.NewEmail()
	msg.From = fmt.Sprintf("Visa Rebooker <%s>", n.cfg.From)
	msg.To = n.cfg.To
	msg.Subject = e.Subject()
	msg.Text = []byte(e.Text())

	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Server)
	}

	err := n.send(ctx, msg, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(ctx, msg, addr, nil)
	}
	return errors.Wrap(err, "send email")
}

// sendContext is email.Send bound to ctx: the connection is closed when ctx
// ends, so a silent server cannot hold the caller.
func sendContext(ctx context.Context, msg *email.Email, addr string, auth smtp.Auth) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return errors.Wrap(err, "sender")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = deliver(conn, host, from.Address, recipients(msg), raw, auth)
	if err != nil {
		if cerr := contextErr(ctx); cerr != nil {
			return errors.Wrap(cerr, err.Error())
		}
	}
	return err
}

// contextErr is ctx.Err, also reporting a deadline the connection hit a
// moment before ctx noticed it.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

func deliver(conn net.Conn, host, from string, to []string, raw []byte, auth smtp.Auth) error {
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func recipients(msg *email.Email) []string {
	var out []string
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, addr := range list {
			if parsed, err := mail.ParseAddress(addr); err == nil {
				out = append(out, parsed.Address)
			}
		}
	}
	return out
}
