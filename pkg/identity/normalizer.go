package identity

import (
	"fmt"
	"sort"
	"strings"
)

// Rule describes how a mail provider aliases addresses onto one mailbox
type Rule struct {
	// CanonicalDomain replaces the domain part when set (e.g. googlemail.com -> gmail.com)
	CanonicalDomain string
	// StripDots removes "." from the local part
	StripDots bool
	// StripPlusTag drops everything from the first "+" in the local part
	StripPlusTag bool
}

// Rules maps a lowercase domain to its aliasing rule
type Rules map[string]Rule

// DefaultRules returns the built-in provider table
func DefaultRules() Rules {
	gmail := Rule{CanonicalDomain: "gmail.com", StripDots: true, StripPlusTag: true}
	return Rules{
		"gmail.com":      gmail,
		"googlemail.com": gmail,
	}
}

// ParseRules parses a rule table of the form
//
//	domain[>canonical]:flag|flag;domain:flag
//
// where flags are "dots" and "plus". An empty string yields DefaultRules.
func ParseRules(s string) (Rules, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRules(), nil
	}

	rules := Rules{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		domainPart, flagPart, _ := strings.Cut(entry, ":")
		domain, canonical, _ := strings.Cut(domainPart, ">")
		domain = strings.ToLower(strings.TrimSpace(domain))
		canonical = strings.ToLower(strings.TrimSpace(canonical))
		if domain == "" {
			return nil, fmt.Errorf("identity rule %q: missing domain", entry)
		}

		rule := Rule{CanonicalDomain: canonical}
		for _, flag := range strings.Split(flagPart, "|") {
			switch strings.ToLower(strings.TrimSpace(flag)) {
			case "":
			case "dots":
				rule.StripDots = true
			case "plus":
				rule.StripPlusTag = true
			default:
				return nil, fmt.Errorf("identity rule %q: unknown flag %q", entry, flag)
			}
		}
		rules[domain] = rule
	}
	return rules, nil
}

// String renders the table back into ParseRules syntax, sorted by domain
func (r Rules) String() string {
	domains := make([]string, 0, len(r))
	for d := range r {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		rule := r[d]
		var b strings.Builder
		b.WriteString(d)
		if rule.CanonicalDomain != "" {
			b.WriteString(">" + rule.CanonicalDomain)
		}
		var flags []string
		if rule.StripDots {
			flags = append(flags, "dots")
		}
		if rule.StripPlusTag {
			flags = append(flags, "plus")
		}
		b.WriteString(":" + strings.Join(flags, "|"))
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}

// Normalizer derives the string forms under which an email identity may be stored.
// It is safe for concurrent use; the rule table is never mutated after construction.
type Normalizer struct {
	rules Rules
}

// NewNormalizer creates a normalizer over a copy of the given rule table
func NewNormalizer(rules Rules) *Normalizer {
	copied := make(Rules, len(rules))
	for d, r := range rules {
		copied[strings.ToLower(d)] = r
	}
	return &Normalizer{rules: copied}
}

// Candidates returns the distinct forms of raw, canonical form last.
// The first element is always the lowercase-trimmed input.
func (n *Normalizer) Candidates(raw string) []string {
	plain := strings.ToLower(strings.TrimSpace(raw))
	candidates := []string{plain}

	if aliased, ok := n.apply(plain); ok && aliased != plain {
		candidates = append(candidates, aliased)
	}
	return candidates
}

// Canonical returns the form used for writes
func (n *Normalizer) Canonical(raw string) string {
	c := n.Candidates(raw)
	return c[len(c)-1]
}

func (n *Normalizer) apply(address string) (string, bool) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", false
	}
	local, domain := address[:at], address[at+1:]

	rule, ok := n.rules[domain]
	if !ok {
		return "", false
	}

	if rule.StripPlusTag {
		if i := strings.Index(local, "+"); i >= 0 {
			local = local[:i]
		}
	}
	if rule.StripDots {
		local = strings.ReplaceAll(local, ".", "")
	}
	if local == "" {
		return "", false
	}
	if rule.CanonicalDomain != "" {
		domain = rule.CanonicalDomain
	}
	return local + "@" + domain, true
}
