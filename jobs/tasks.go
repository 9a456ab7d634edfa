package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/yuin/goldmark"

	jobmetrics "github.com/ciec-now/ciecnow/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeSessionPurge removes expired login records.
	TaskTypeSessionPurge = "sessions:purge"
)

// SendEmailPayload describes the information required to send an email.
// Body is Markdown and is rendered to HTML before delivery.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("jobs: email recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// NewSessionPurgeTask constructs the periodic purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSessionPurge, nil, asynq.MaxRetry(1))
}

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, composeMessage(m.cfg.From, to, subject, html))
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, html string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not sent, no SMTP relay configured", slog.String("to", to), slog.String("subject", subject), slog.Int("bytes", len(html)))
	return nil
}

func composeMessage(from, to, subject, html string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(html)
	return b.Bytes()
}

// EmailJob renders and delivers TaskTypeSendEmail tasks.
type EmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	md      goldmark.Markdown
}

// NewEmailJob constructs the email handler.
func NewEmailJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *EmailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailJob{Mailer: mailer, Logger: logger.With(slog.String("job", TaskTypeSendEmail)), Metrics: metrics, md: goldmark.New()}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("jobs: decode email: %v: %w", err, asynq.SkipRetry)
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskTypeSendEmail)
	html, err := RenderMarkdown(j.md, payload.Body)
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: render email: %v: %w", err, asynq.SkipRetry))
	}
	if err := j.Mailer.Send(ctx, payload.To, payload.Subject, html); err != nil {
		j.Logger.Warn("send email failed", slog.String("subject", payload.Subject), slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// RenderMarkdown converts a Markdown body to HTML.
func RenderMarkdown(md goldmark.Markdown, body string) (string, error) {
	if md == nil {
		md = goldmark.New()
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
