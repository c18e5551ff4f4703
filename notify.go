package poingest

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Notification is the structured alert payload handed to the delivery
// collaborator.
type Notification struct {
	Job           string
	Mode          Mode
	Status        string
	RowsProcessed int
	Duration      time.Duration
	LastOffset    int
	Error         string
	Issues        []string
}

// NewNotification build the alert payload for a finished run.
func NewNotification(report *RunReport) *Notification {
	n := &Notification{
		Job:           report.JobName,
		Mode:          report.Mode,
		Status:        report.Status,
		RowsProcessed: report.RowsProcessed,
		Duration:      report.Duration(),
		LastOffset:    report.LastOffset,
		Issues:        report.Issues,
	}
	if report.Err != nil {
		n.Error = report.Err.Error()
	}
	return n
}

// Subject one-line summary for the delivery channel
func (n *Notification) Subject() string {
	tag := "Attention"
	if n.Status != StatusSuccess {
		tag = strings.ToUpper(n.Status)
	}
	return fmt.Sprintf("[ingest] %s - job=%s, mode=%s, rows=%d, dur=%.1fs", tag, n.Job, n.Mode, n.RowsProcessed, n.Duration.Seconds())
}

// Body plain-text rendering of the payload
func (n *Notification) Body() string {
	lines := []string{
		"Job: " + n.Job,
		"Mode: " + string(n.Mode),
		"Status: " + n.Status,
		fmt.Sprintf("Rows processed: %d", n.RowsProcessed),
		fmt.Sprintf("Duration: %.1f sec", n.Duration.Seconds()),
		fmt.Sprintf("Offset (last): %d", n.LastOffset),
	}
	if n.Error != "" {
		lines = append(lines, "Error: "+n.Error)
	}
	if len(n.Issues) > 0 {
		lines = append(lines, "Heuristics:")
		for _, issue := range n.Issues {
			lines = append(lines, " - "+issue)
		}
	}
	return strings.Join(lines, "\n")
}

// Notifier delivers alert notifications. Delivery failures must never crash
// the pipeline; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NopNotifier discards notifications; the default when alerting is not
// configured.
type NopNotifier struct{}

func (d *NopNotifier) Notify(ctx context.Context, n *Notification) error {
	DefaultLogger.Info(ctx, "alerting disabled, dropping notification, subject:%v", n.Subject())
	return nil
}

// SMTPNotifier delivers notifications by email.
type SMTPNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (s *SMTPNotifier) Notify(ctx context.Context, n *Notification) error {
	if s.Host == "" || len(s.To) == 0 {
		return NewIngestError(ErrCodeConfig, "smtp notifier missing host or recipients")
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + strings.Join(s.To, ", "),
		"Subject: " + n.Subject(),
		"",
		n.Body(),
	}, "\r\n")
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, s.To, []byte(msg)); err != nil {
		return NewIngestError(ErrCodeGeneral, "send alert email failed, host:%v", s.Host, err)
	}
	DefaultLogger.Info(ctx, "alert email sent, recipients:%v, subject:%v", len(s.To), n.Subject())
	return nil
}
