package report

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/relay-ci/revpipe/internal/classify"
)

// Mailer abstracts message delivery so EmailReporter and BuildErrorReporter
// are testable without a live SMTP server. No third-party mail client
// exists anywhere in the example corpus, so this is grounded on the
// standard library's net/smtp -- the one stdlib-only component in the
// reporting layer.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends mail through a configured relay via net/smtp.SendMail.
type SMTPMailer struct {
	Addr string
	Auth smtp.Auth
	From string
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.From, strings.Join(to, ", "), subject, body)
	return smtp.SendMail(m.Addr, m.Auth, m.From, to, []byte(msg))
}

// EmailReporter sends a single digest to a fixed address list, per §4.4
// including every issue regardless of publishability.
type EmailReporter struct {
	Mailer    Mailer
	Addresses []string
}

func (r *EmailReporter) Kind() string { return "email" }

func (r *EmailReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	if len(r.Addresses) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[%s] static analysis digest for %s", rc.Repository.Slug, rc.Revision.ProviderID)
	body := BuildDigest(rc, issues)
	if err := r.Mailer.Send(ctx, r.Addresses, subject, body); err != nil {
		return fmt.Errorf("email: send digest: %w", err)
	}
	return nil
}

// BuildDigest renders the full (not just publishable) issue set as a
// plain-text digest body.
func BuildDigest(rc RunContext, issues []classify.Classified) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Static analysis results for %s (revision %s, diff %s)\n\n",
		rc.Repository.Slug, rc.Revision.ProviderID, rc.Diff.ReviewTaskID)
	for _, c := range issues {
		line := "-"
		if c.Issue.Line != nil {
			line = fmt.Sprintf("%d", *c.Issue.Line)
		}
		fmt.Fprintf(&b, "[%s] %s:%s %s/%s: %s\n",
			c.Issue.Level, c.Issue.Path, line, c.Issue.Analyzer, c.Issue.Check, c.Issue.Message)
	}
	if len(issues) == 0 {
		b.WriteString("No issues found.\n")
	}
	return b.String()
}
