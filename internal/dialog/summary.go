package dialog

import (
	"fmt"
	"html"
	"strings"
)

// FormatSummary renders the draft for review as Telegram HTML.
func FormatSummary(d *Draft) string {
	lines := []string{
		"📋 <b>Check the details:</b>",
		field("Operator", d.Operator.Name),
		field("Country", d.Country),
		field("Customer", d.CustomerHandle),
		"• <b>Screenshot:</b> " + proofLink(d.ProofRef),
		field("Date", d.TransactionAt),
		fmt.Sprintf("• <b>Amount:</b> %s %s (~%s EUR)",
			d.AmountLocal.StringFixed(2), html.EscapeString(d.Currency), d.AmountEUR.StringFixed(2)),
	}
	if d.PriceHint != "" {
		lines = append(lines, "• <i>Looks like: "+html.EscapeString(d.PriceHint)+"</i>")
	}
	lines = append(lines,
		field("Method", d.PaymentMethod),
		field("Product", d.Product),
	)
	return strings.Join(lines, "\n")
}

func field(name, value string) string {
	return "• <b>" + name + ":</b> " + html.EscapeString(value)
}

func proofLink(ref string) string {
	switch {
	case ref == ProofUploadFailed:
		return "❌ upload failed"
	case strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://"):
		return `<a href="` + html.EscapeString(ref) + `">link</a>`
	default:
		return "<code>" + html.EscapeString(ref) + "</code>"
	}
}
