package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

// mapMessage converts a Gmail API Message to a domain Email. The body is the
// text/plain part when there is one, otherwise the HTML part reduced to text.
func mapMessage(msg *gmailapi.Message) *domain.Email {
	var headers []*gmailapi.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	text, html := extractBody(msg.Payload)
	if strings.TrimSpace(text) == "" && html != "" {
		text = htmlToText(html)
	}

	return &domain.Email{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		MessageID: findHeader(headers, "Message-ID"),
		From:      parseAddress(findHeader(headers, "From")),
		Subject:   findHeader(headers, "Subject"),
		Body:      text,
		Date:      parseDate(findHeader(headers, "Date")),
	}
}

// findHeader performs a case-insensitive lookup for a header value.
func findHeader(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseAddress parses an RFC 5322 address string into a domain Address.
// Falls back to treating the entire string as a bare email if parsing fails.
func parseAddress(s string) domain.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Address{}
	}

	addr, err := mail.ParseAddress(s)
	if err != nil {
		// Fallback: treat as bare email
		return domain.Address{Email: s}
	}
	return domain.Address{
		Name:  addr.Name,
		Email: addr.Address,
	}
}

// parseDate tries the date layouts seen in real mail headers.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t
	}

	formats := []string{
		time.RFC822Z,                            // "02 Jan 06 15:04 -0700"
		time.RFC822,                             // "02 Jan 06 15:04 MST"
		"2006-01-02T15:04:05Z07:00",             // ISO 8601
		"Mon, 02 Jan 2006 15:04:05 -0700 (MST)", // with parenthesized zone
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// extractBody recursively extracts text/plain and text/html content from a
// message payload. The first part of each kind wins.
func extractBody(payload *gmailapi.MessagePart) (text, html string) {
	if payload == nil {
		return "", ""
	}

	if len(payload.Parts) > 0 {
		for _, part := range payload.Parts {
			t, h := extractBody(part)
			if text == "" && t != "" {
				text = t
			}
			if html == "" && h != "" {
				html = h
			}
		}
		return text, html
	}

	// Attachments carry a filename; their content is never the body.
	if payload.Filename != "" {
		return "", ""
	}

	data := ""
	if payload.Body != nil {
		data = decodeBase64URL(payload.Body.Data)
	}

	switch strings.ToLower(payload.MimeType) {
	case "text/plain":
		return data, ""
	case "text/html":
		return "", data
	}
	return "", ""
}

// decodeBase64URL decodes Gmail's URL-safe base64 strings, with or without
// padding.
func decodeBase64URL(s string) string {
	if s == "" {
		return ""
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return ""
	}
	return string(data)
}
