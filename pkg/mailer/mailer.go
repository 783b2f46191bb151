package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"go.uber.org/zap"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers OTP emails over SMTP
type Mailer struct {
	config Config
	logger *zap.Logger
	send   sendFunc
	tmpl   *template.Template
}

// New creates a new Mailer instance
func New(cfg Config, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		config: cfg,
		logger: logger,
		send:   smtp.SendMail,
		tmpl:   template.Must(template.New("otp").Parse(otpTemplate)),
	}
}

// emailCopy holds the per-purpose wording of an OTP email
type emailCopy struct {
	Subject string
	Heading string
	Intro   string
	Footer  string
	Accent  string
}

var purposeCopy = map[model.OTPPurpose]emailCopy{
	model.OTPPurposeLogin: {
		Subject: "BotDesk - Your sign-in code",
		Heading: "Sign in",
		Intro:   "Use this code to sign in to your BotDesk dashboard:",
		Footer:  "If you didn't try to sign in, you can ignore this email.",
		Accent:  "#6366f1",
	},
	model.OTPPurposeSignup: {
		Subject: "BotDesk - Verify your email address",
		Heading: "Email Verification",
		Intro:   "Welcome to BotDesk! Your verification code is:",
		Footer:  "If you didn't create a BotDesk account, please ignore this email.",
		Accent:  "#6366f1",
	},
	model.OTPPurposeEmailVerify: {
		Subject: "BotDesk - Confirm your email address",
		Heading: "Email Verification",
		Intro:   "Confirm this address with the code below:",
		Footer:  "If you didn't request this, please ignore this email.",
		Accent:  "#6366f1",
	},
	model.OTPPurposePasswordReset: {
		Subject: "BotDesk - Reset your password",
		Heading: "Password Reset",
		Intro:   "We received a request to reset your password. Use this code:",
		Footer:  "If you didn't request a password reset, your password will remain unchanged.",
		Accent:  "#ef4444",
	},
}

// SendOTP renders the email for purpose and delivers it to one recipient
func (m *Mailer) SendOTP(ctx context.Context, to, code string, purpose model.OTPPurpose, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c, ok := purposeCopy[purpose]
	if !ok {
		c = purposeCopy[model.OTPPurposeLogin]
	}

	body, err := m.render(c, code, ttl)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return m.deliver(to, c.Subject, body)
}

func (m *Mailer) render(c emailCopy, code string, ttl time.Duration) (string, error) {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	err := m.tmpl.Execute(&buf, map[string]interface{}{
		"Copy":          c,
		"Code":          code,
		"ExpiryMinutes": minutes,
		"Year":          time.Now().Year(),
	})
	return buf.String(), err
}

// deliver sends an HTML email via SMTP
func (m *Mailer) deliver(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"utf-8\"",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg bytes.Buffer
	for _, k := range keys {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.From, []string{to}, msg.Bytes()); err != nil {
		m.logger.Error("❌ failed to send email", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("📧 email sent", zap.String("subject", subject))
	return nil
}

const otpTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#0f172a;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:500px;margin:40px auto;background:#111827;border-radius:16px;overflow:hidden;">
        <div style="background:{{.Copy.Accent}};padding:28px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:26px;font-weight:700;">💬 BotDesk</h1>
            <p style="color:rgba(255,255,255,0.85);margin:8px 0 0;font-size:14px;">{{.Copy.Heading}}</p>
        </div>
        <div style="padding:32px;">
            <p style="color:#cbd5e1;font-size:14px;line-height:1.6;margin:0 0 24px;">{{.Copy.Intro}}</p>
            <div style="border:2px dashed {{.Copy.Accent}};border-radius:12px;padding:24px;text-align:center;margin:0 0 24px;">
                <span style="font-size:36px;font-weight:800;letter-spacing:8px;color:#f8fafc;font-family:'Courier New',monospace;">{{.Code}}</span>
            </div>
            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0 0 8px;">
                ⏰ This code expires in <strong style="color:#f59e0b;">{{.ExpiryMinutes}} minutes</strong> and can be used once.
            </p>
            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0;">{{.Copy.Footer}}</p>
        </div>
        <div style="padding:16px 32px;border-top:1px solid #1f2937;text-align:center;">
            <p style="color:#475569;font-size:12px;margin:0;">© {{.Year}} BotDesk. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`
