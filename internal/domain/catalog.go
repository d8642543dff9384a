package domain

import "strings"

// CatalogItem is one quotable product or service. Names are displayed as
// loaded but compared case-insensitively; duplicates are allowed.
type CatalogItem struct {
	ID    string
	Name  string
	Price float64
}

// Key returns the case-insensitive identity used to de-duplicate matches.
func (c CatalogItem) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// DomainSet holds lowercase customer email domains.
type DomainSet map[string]struct{}

// NewDomainSet builds a set, lower-casing and trimming each domain.
func NewDomainSet(domains ...string) DomainSet {
	s := make(DomainSet, len(domains))
	for _, d := range domains {
		s.Add(d)
	}
	return s
}

func (s DomainSet) Add(domain string) {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return
	}
	s[d] = struct{}{}
}

// Contains reports exact membership. Callers lower-case before asking.
func (s DomainSet) Contains(domain string) bool {
	_, ok := s[domain]
	return ok
}
