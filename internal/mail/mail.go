// Package mail delivers transactional email (account verification).
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"famlocator.app/internal/obs"
)

// ErrInvalidMessage is returned for messages without recipient or body.
var ErrInvalidMessage = errors.New("mail: invalid message")

// Message is a plain-text email with an optional HTML alternative.
type Message struct {
	FromName string
	To       string
	Subject  string
	Text     string
	HTML     string
}

func (m Message) validate() error {
	if !strings.Contains(m.To, "@") {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.ContainsAny(m.To+m.Subject+m.FromName, "\r\n") {
		return fmt.Errorf("%w: header contains a line break", ErrInvalidMessage)
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is used
// when no SMTP host is configured.
type LogSender struct {
	// LogBody also logs the text body, which includes verification tokens.
	LogBody bool
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	fields := []zap.Field{zap.String("to", msg.To), zap.String("subject", msg.Subject)}
	if s.LogBody {
		fields = append(fields, zap.String("text", msg.Text))
	}
	obs.Logger().Info("email not sent: smtp disabled", fields...)
	return nil
}

// render builds an RFC 5322 message with a multipart/alternative body.
func render(from string, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fromHeader := from
	if msg.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), from)
	}
	headers := []string{
		"From: " + fromHeader,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + now.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ctype)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
