package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/retry"
	"go.uber.org/zap"
)

// SMTPNotifier mails notifications to a fixed list of recipients
type SMTPNotifier struct {
	cfg         config.SMTPConfig
	policy      retry.Policy
	dialTimeout time.Duration
	tlsConfig   *tls.Config
	now         func() time.Time
	logger      *zap.Logger
}

// NewSMTPNotifier creates a notifier for the configured relay
func NewSMTPNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.SMTP.Address == "" {
		return nil, errors.New("notify.smtp.address is required")
	}
	if cfg.SMTP.From == "" || len(cfg.SMTP.To) == 0 {
		return nil, errors.New("notify.smtp.from and notify.smtp.to are required")
	}

	host, _, err := net.SplitHostPort(cfg.SMTP.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid notify.smtp.address: %w", err)
	}

	return &SMTPNotifier{
		cfg:         cfg.SMTP,
		policy:      retry.New(cfg.RetryAttempts, cfg.RetryDelay, logger),
		dialTimeout: 10 * time.Second,
		tlsConfig:   &tls.Config{ServerName: host},
		now:         time.Now,
		logger:      logger,
	}, nil
}

// Send renders the notification as a plain-text mail and relays it
func (s *SMTPNotifier) Send(ctx context.Context, n core.Notification) error {
	msg, err := s.render(n)
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, s.policy, "smtp notification", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deliver(ctx, msg)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Notification mailed",
		zap.String("title", n.Title),
		zap.Strings("recipients", s.cfg.To))
	return nil
}

func (s *SMTPNotifier) render(n core.Notification) ([]byte, error) {
	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	to, err := mail.ParseAddressList(strings.Join(s.cfg.To, ", "))
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(n.Title)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(textBody(n))); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func textBody(n core.Notification) string {
	var b strings.Builder
	status := "FAILURE"
	if n.Success {
		status = "SUCCESS"
	}
	fmt.Fprintf(&b, "Status: %s\r\n\r\n%s\r\n", status, n.Message)

	if len(n.Details) > 0 {
		keys := make([]string, 0, len(n.Details))
		for k := range n.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\r\nDetails:\r\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\r\n", k, detailValue(n.Details[k]))
		}
	}
	return b.String()
}

func detailValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func (s *SMTPNotifier) deliver(ctx context.Context, msg []byte) error {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := c.Mail(from.Address, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := 0
	for _, rcpt := range s.cfg.To {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			s.logger.Warn("Skipping invalid recipient", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		if err := c.Rcpt(addr.Address, nil); err != nil {
			s.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", addr.Address),
				zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.New("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

var _ core.Notifier = (*SMTPNotifier)(nil)
