// Package reply renders the quote sent back to a customer.
package reply

import (
	"fmt"
	"math"
	"strings"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

const (
	DefaultGreeting  = "Thanks for getting into contact with us!\n\nHere are the quotes for the requested items:"
	DefaultSignature = "Kind regards,\nThe Sales Team"
)

// Composer renders a fixed template. The zero value uses the defaults.
type Composer struct {
	Greeting  string
	Signature string
}

// Compose builds the reply for items. Callers only invoke it when at least
// one item matched.
func (c Composer) Compose(subject string, items []domain.CatalogItem) domain.ReplyDraft {
	greeting := c.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	signature := c.Signature
	if signature == "" {
		signature = DefaultSignature
	}

	var b strings.Builder
	b.WriteString(greeting)
	b.WriteString("\n\n")
	for _, it := range items {
		fmt.Fprintf(&b, "Item: %s, Price: £%s (Approx)\n", it.Name, FormatPrice(it.Price))
	}
	b.WriteString("\n")
	b.WriteString(signature)
	b.WriteString("\n")

	return domain.ReplyDraft{
		Subject: Subject(subject),
		Body:    b.String(),
	}
}

// Subject prefixes "Re: " to the original subject.
func Subject(original string) string {
	return "Re: " + original
}

// FormatPrice renders a price with two decimals. Values that slipped past the
// loader (NaN, infinities, negatives) render as 0.00.
func FormatPrice(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		p = 0
	}
	return fmt.Sprintf("%.2f", p)
}
