package domain

import "time"

type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Email is the provider-neutral snapshot of an inbound message. It is
// fetched once per run and never mutated by the matching code.
type Email struct {
	ID        string
	ThreadID  string
	MessageID string // RFC 5322 Message-ID header, used to thread replies
	From      Address
	Subject   string
	Body      string // plain text, or HTML stripped to text
	Date      time.Time
}

// SentReply is a ledger entry for a reply that went out successfully.
type SentReply struct {
	MessageID string
	Sender    string
	Subject   string
	SentAt    time.Time
}
