package notify

import (
	"fmt"
	"strings"
	"time"

	"busbot/internal/batch"
)

// FormatReport renders a batch report as the plain-text message sent to
// the chat. No markup: route names contain characters Telegram's parsers
// choke on.
func FormatReport(r batch.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reservation batch %s\n", r.FireAt.Format("Mon 15:04:05"))
	fmt.Fprintf(&b, "%d/%d reserved", r.Succeeded(), r.Total())
	if r.Succeeded() > 0 {
		fmt.Fprintf(&b, " (avg %s)", roundMS(r.AvgExecTook()))
	}
	b.WriteString("\n")

	for _, o := range r.Outcomes {
		if o.Succeeded() {
			fmt.Fprintf(&b, "OK  %s: seat %d, %s %s (conf %s, %s)\n",
				o.AccountID, o.SeatNo, o.Departure, o.Route, o.Confirmation, roundMS(o.ExecTook))
			continue
		}
		reason := o.Message
		if reason == "" {
			reason = string(o.FailKind)
		}
		fmt.Fprintf(&b, "ERR %s: %s [%s]\n", o.AccountID, reason, o.FailKind)
	}
	return strings.TrimRight(b.String(), "\n")
}

func roundMS(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
