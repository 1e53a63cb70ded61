package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Email sends messages through an SMTP relay.
type Email struct {
	cfg EmailConfig
	now func() time.Time
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, now: time.Now}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Enabled() bool {
	return e.cfg.Enabled && strings.TrimSpace(e.cfg.Host) != "" && len(recipients(e.cfg.To)) > 0
}

func (e *Email) from() string {
	if f := strings.TrimSpace(e.cfg.From); f != "" {
		return f
	}
	return strings.TrimSpace(e.cfg.Username)
}

func (e *Email) Send(ctx context.Context, subject, body string) error {
	to := recipients(e.cfg.To)
	if len(to) == 0 {
		return nil
	}
	from := e.from()
	if from == "" {
		return errors.New("email: no sender address (set from or username)")
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "email: dial %s", addr)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "email: handshake")
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		tc := &tls.Config{ServerName: e.cfg.Host, InsecureSkipVerify: e.cfg.InsecureSkipVerify} //nolint:gosec // opt-in
		if err := c.StartTLS(tc); err != nil {
			return errors.Wrap(err, "email: starttls")
		}
	}
	if e.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
				return errors.Wrap(err, "email: auth")
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return errors.Wrap(err, "email: MAIL FROM")
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "email: RCPT TO %s", rcpt)
		}
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "email: DATA")
	}
	if _, err := w.Write(buildMessage(from, to, subject, body, e.now())); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "email: write body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "email: end DATA")
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, body string, at time.Time) []byte {
	var b bytes.Buffer
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// recipients trims entries and splits comma-joined ones.
func recipients(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
