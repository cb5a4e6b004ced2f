package jobs

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

// Notifier is told about every job that failed.
type Notifier interface {
	JobFailed(ctx context.Context, job Job, cause error) error
}

type NopNotifier struct{}

func (NopNotifier) JobFailed(context.Context, Job, error) error {
	return nil
}

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && len(c.Recipients) > 0
}

// EmailNotifier mails job failures to the configured recipients.
type EmailNotifier struct {
	config SmtpConfig
}

func NewEmailNotifier(config SmtpConfig) EmailNotifier {
	if config.Port == 0 {
		config.Port = 587
	}
	return EmailNotifier{config: config}
}

func (n EmailNotifier) message(job Job, cause error) *email.Email {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("animeagg <%s>", n.config.EmailAddress)
	mail.To = n.config.Recipients
	mail.Subject = fmt.Sprintf("Scrape job %s failed", job.Type)
	mail.Text = []byte(fmt.Sprintf(`A scrape job failed after %d attempt(s).

id:     %s
type:   %s
target: %s
error:  %v
`, job.Attempts, job.ID, job.Type, job.Target, cause))
	return mail
}

func (n EmailNotifier) JobFailed(ctx context.Context, job Job, cause error) error {
	_, span := tracer.Start(ctx, "notifier:JobFailed")
	defer span.End()

	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	mail := n.message(job, cause)
	err := mail.Send(addr, smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
