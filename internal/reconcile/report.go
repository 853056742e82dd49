package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
)

type EmailSender interface {
	SendText(ctx context.Context, from string, to []string, subject, body string) (string, error)
}

// SESReporter mails a sweep report to operators.
type SESReporter struct {
	sender EmailSender
	from   string
	to     []string
}

func NewSESReporter(sender EmailSender, from string, to []string) *SESReporter {
	return &SESReporter{sender: sender, from: from, to: to}
}

func (r *SESReporter) Send(ctx context.Context, report *Report) error {
	if _, err := r.sender.SendText(ctx, r.from, r.to, Subject(report), Format(report)); err != nil {
		return apperrors.NewNotificationSendFailedError("reconcile_report", err)
	}
	return nil
}

func Subject(report *Report) string {
	if report.Clean() {
		return fmt.Sprintf("Pass reconciliation %s: clean", report.To.Format("2006-01-02"))
	}
	return fmt.Sprintf("Pass reconciliation %s: %d gap(s)", report.To.Format("2006-01-02"), len(report.Gaps))
}

// Format renders the report as plain text.
func Format(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Window:      %s to %s\n", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339))
	fmt.Fprintf(&b, "Tenants:     %s\n", strings.Join(report.Tenants, ", "))
	fmt.Fprintf(&b, "Checked:     %d\n", report.Checked)
	fmt.Fprintf(&b, "Matched:     %d\n", report.Matched)
	fmt.Fprintf(&b, "Gaps:        %d\n", len(report.Gaps))
	fmt.Fprintf(&b, "Healed:      %d\n", report.Healed)
	fmt.Fprintf(&b, "Heal failed: %d\n", report.HealFailed)

	if len(report.Gaps) > 0 {
		b.WriteString("\nGaps:\n")
		for _, g := range report.Gaps {
			fmt.Fprintf(&b, "- tenant=%s txn=%s session=%s payment=%s beneficiary=%s product=%s amount=%d %s reason=%s",
				g.TenantID, g.TransactionID, dash(g.SessionID), dash(g.PaymentID), dash(g.BeneficiaryID), dash(g.ProductID),
				g.AmountMinor, strings.ToUpper(g.Currency), g.Reason)
			if g.HealOutcome != "" {
				fmt.Fprintf(&b, " heal=%s", g.HealOutcome)
			}
			if g.HealError != "" {
				fmt.Fprintf(&b, " (%s)", g.HealError)
			}
			b.WriteString("\n")
		}
	}

	if len(report.TenantErrors) > 0 {
		b.WriteString("\nTenants not swept:\n")
		for _, te := range report.TenantErrors {
			fmt.Fprintf(&b, "- %s: %s\n", te.TenantID, te.Error)
		}
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
