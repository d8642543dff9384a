// Package match decides which catalog items an email asks for and whether
// its sender belongs to a known customer domain.
//
// The baseline strategy is case-insensitive whole-word matching: an item
// name matches only where the characters on either side of it are not
// letters or digits, so "Pen" never matches inside "happen". ModeFuzzy is an
// explicit alternate mode that additionally accepts near misses such as
// plurals; it never replaces the baseline silently.
package match

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

type Mode string

const (
	ModeExact Mode = "exact"
	ModeFuzzy Mode = "fuzzy"
)

// DefaultFuzzyThreshold is the minimum share of a body window that the item
// name has to cover for a fuzzy hit.
const DefaultFuzzyThreshold = 0.8

// ParseMode maps a config value to a Mode. Empty means ModeExact.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeExact:
		return ModeExact, nil
	case ModeFuzzy:
		return ModeFuzzy, nil
	}
	return "", fmt.Errorf("unknown match mode %q (use exact or fuzzy)", s)
}

// Matcher holds only immutable settings and is safe to share.
type Matcher struct {
	mode      Mode
	threshold float64
	log       zerolog.Logger
}

type Option func(*Matcher)

func WithMode(mode Mode) Option {
	return func(m *Matcher) { m.mode = mode }
}

// WithFuzzyThreshold sets the fuzzy coverage threshold. Values outside
// (0, 1] are ignored.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Matcher) { m.log = log }
}

func New(opts ...Option) *Matcher {
	m := &Matcher{
		mode:      ModeExact,
		threshold: DefaultFuzzyThreshold,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Mode() Mode { return m.mode }

// MatchItems returns the catalog items named in body, in catalog order, with
// at most one item per case-insensitive name. Items with a blank name are
// never matched.
func (m *Matcher) MatchItems(body string, catalog []domain.CatalogItem) []domain.CatalogItem {
	if strings.TrimSpace(body) == "" || len(catalog) == 0 {
		return nil
	}

	text := strings.ToLower(body)
	var words []string
	if m.mode == ModeFuzzy {
		words = splitWords(text)
	}

	seen := make(map[string]struct{}, len(catalog))
	var matched []domain.CatalogItem
	for _, item := range catalog {
		key := item.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if containsWord(text, key) || (m.mode == ModeFuzzy && m.fuzzyContains(words, key)) {
			seen[key] = struct{}{}
			matched = append(matched, item)
		}
	}
	return matched
}

// ClassifyDomain reports whether the sender's domain (the text after the
// last '@', lower-cased) is in trusted. An address without '@' is logged and
// treated as untrusted.
func (m *Matcher) ClassifyDomain(sender string, trusted domain.DomainSet) bool {
	d, ok := SenderDomain(sender)
	if !ok {
		m.log.Warn().Str("sender", sender).Msg("sender address has no domain part, treating as untrusted")
		return false
	}
	return trusted.Contains(d)
}

// Evaluate computes the full decision for one email.
func (m *Matcher) Evaluate(email domain.Email, catalog []domain.CatalogItem, trusted domain.DomainSet) domain.MatchResult {
	senderDomain, _ := SenderDomain(email.From.Email)
	isTrusted := m.ClassifyDomain(email.From.Email, trusted)
	items := m.MatchItems(email.Body, catalog)
	return domain.NewMatchResult(email, items, senderDomain, isTrusted)
}

// SenderDomain extracts the lower-cased domain of an address. ok is false
// when the address contains no '@'.
func SenderDomain(sender string) (d string, ok bool) {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(sender[at+1:])), true
}

// containsWord reports whether word occurs in text with no letter or digit
// directly before or after it. Both arguments must already be lower-cased.
func containsWord(text, word string) bool {
	start := 0
	for start <= len(text)-len(word) {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		if !isWordRune(lastRune(text[:i])) && !isWordRune(firstRune(text[end:])) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

// fuzzyContains slides a window with as many words as the name over the body
// and accepts the first window that is the name plus a plural "s" or "es",
// or that the name covers closely enough.
func (m *Matcher) fuzzyContains(words []string, key string) bool {
	nameWords := splitWords(key)
	n := len(nameWords)
	if n == 0 || len(words) < n {
		return false
	}
	pattern := strings.Join(nameWords, " ")

	windows := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		w := strings.Join(words[i:i+n], " ")
		// Short names never reach the coverage threshold as plurals.
		if w == pattern+"s" || w == pattern+"es" {
			return true
		}
		windows = append(windows, w)
	}

	patternLen := float64(utf8.RuneCountInString(pattern))
	for _, hit := range fuzzy.Find(pattern, windows) {
		if patternLen/float64(utf8.RuneCountInString(hit.Str)) >= m.threshold {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	if s == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	if s == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
