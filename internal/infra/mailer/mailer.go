// Package mailer delivers one-time codes and welcome messages by email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"talentauth/internal/config"
	"talentauth/internal/domain/model"
)

// SMTP未設定
var ErrUnconfigured = errors.New("mailer is not configured")

type Mailer interface {
	SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error
	SendWelcomeEmail(ctx context.Context, to string, name string) error
}

// 設定に応じてSMTPかUnconfiguredを返す
func New(cfg config.SMTPConfig, timeout time.Duration) Mailer {
	if !cfg.Configured() {
		return Unconfigured{}
	}
	return NewSMTPMailer(cfg, timeout)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPMailer struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	send    sendFunc
}

func NewSMTPMailer(cfg config.SMTPConfig, timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, timeout: timeout, send: smtp.SendMail}
}

func (m *SMTPMailer) SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error {
	subject := "Your verification code"
	if purpose == model.OtpPurposeWalletLogin {
		subject = "Your wallet login code"
	}
	body := fmt.Sprintf("Your verification code is %s.\r\nIt expires in 10 minutes. If you did not request it, ignore this email.\r\n", code)
	return m.deliver(ctx, to, subject, body)
}

func (m *SMTPMailer) SendWelcomeEmail(ctx context.Context, to string, name string) error {
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account has been created.\r\n", name)
	return m.deliver(ctx, to, "Welcome", body)
}

// smtp.SendMailはcontextを受けないので別goroutineで待つ
func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient")
	}
	msg := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, m.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail: %w", ctx.Err())
	}
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// Unconfigured は常に ErrUnconfigured を返す
type Unconfigured struct{}

func (Unconfigured) SendOtpEmail(context.Context, string, string, model.OtpPurpose) error {
	return ErrUnconfigured
}

func (Unconfigured) SendWelcomeEmail(context.Context, string, string) error {
	return ErrUnconfigured
}
