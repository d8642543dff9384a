package domain

// MatchResult is the decision for one email. Build it with NewMatchResult so
// Included is always derived from the two signals and nothing else.
type MatchResult struct {
	Email         Email
	MatchedItems  []CatalogItem
	SenderDomain  string
	DomainTrusted bool
	Included      bool
}

func NewMatchResult(email Email, items []CatalogItem, senderDomain string, trusted bool) MatchResult {
	return MatchResult{
		Email:         email,
		MatchedItems:  items,
		SenderDomain:  senderDomain,
		DomainTrusted: trusted,
		Included:      trusted || len(items) > 0,
	}
}

// HasMatch reports whether any catalog item was found in the body.
func (r MatchResult) HasMatch() bool {
	return len(r.MatchedItems) > 0
}

type ReplyDraft struct {
	Subject string
	Body    string
}

// AuditRecord is one row of the run report.
type AuditRecord struct {
	MessageID     string
	Sender        string
	Subject       string
	ItemNames     []string
	Prices        []float64
	DomainTrusted bool
	HasMatch      bool
	Replied       bool
	Filed         bool
	Error         string
}

// NewAuditRecord captures the decision part of a record. The orchestrator
// fills in Replied, Filed and Error as the message is handled.
func NewAuditRecord(r MatchResult) AuditRecord {
	rec := AuditRecord{
		MessageID:     r.Email.ID,
		Sender:        r.Email.From.Email,
		Subject:       r.Email.Subject,
		DomainTrusted: r.DomainTrusted,
		HasMatch:      r.HasMatch(),
	}
	for _, it := range r.MatchedItems {
		rec.ItemNames = append(rec.ItemNames, it.Name)
		rec.Prices = append(rec.Prices, it.Price)
	}
	return rec
}
