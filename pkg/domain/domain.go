// Package domain classifies tickets and accounts into product domains and
// rejects links between mutually exclusive ones.
package domain

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// Domain is a product area. Shared and Unclassified never conflict.
type Domain string

const (
	Unclassified Domain = "unclassified"
	Shared       Domain = "shared"
)

// IsSpecific reports whether d can conflict with another domain.
func (d Domain) IsSpecific() bool {
	return d != "" && d != Unclassified && d != Shared
}

var externalKeyPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)-(\d+)$`)

// DefaultPrefixDomains maps tracker project prefixes to domains.
var DefaultPrefixDomains = map[string]string{
	"MREQ":  "marine",
	"MAR":   "marine",
	"EDGE":  "storage",
	"STOR":  "storage",
	"TEL":   "telematics",
	"FLEET": "telematics",
	"PLAT":  "shared",
	"CORE":  "shared",
	"SUP":   "shared",
}

type keyword struct {
	term   string
	domain Domain
}

// Filter holds the prefix and keyword tables. It is immutable after construction.
type Filter struct {
	prefixes map[string]Domain
	keywords []keyword
}

// NewFilter builds a filter. prefixDomains maps project prefixes to domains,
// productDomains maps keywords found in account products or vertical to domains.
func NewFilter(prefixDomains, productDomains map[string]string) *Filter {
	if prefixDomains == nil {
		prefixDomains = DefaultPrefixDomains
	}
	f := &Filter{prefixes: make(map[string]Domain, len(prefixDomains))}
	for prefix, d := range prefixDomains {
		f.prefixes[strings.ToUpper(strings.TrimSpace(prefix))] = normalize(d)
	}
	for term, d := range productDomains {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		f.keywords = append(f.keywords, keyword{term: term, domain: normalize(d)})
	}
	sort.Slice(f.keywords, func(i, j int) bool { return f.keywords[i].term < f.keywords[j].term })
	return f
}

func normalize(d string) Domain {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return Unclassified
	}
	return Domain(d)
}

// TicketDomain derives a domain from the project prefix of a key like "MREQ-100".
func (f *Filter) TicketDomain(externalKey string) Domain {
	m := externalKeyPattern.FindStringSubmatch(strings.TrimSpace(externalKey))
	if m == nil {
		return Unclassified
	}
	if d, ok := f.prefixes[strings.ToUpper(m[1])]; ok {
		return d
	}
	return Unclassified
}

// AccountDomain matches configured keywords against products and vertical.
// Zero or several distinct domains leave the account unclassified.
func (f *Filter) AccountDomain(account models.Account) Domain {
	fields := ectolinq.Map(append(append([]string{}, account.Products...), account.Vertical), strings.ToLower)

	var found []Domain
	for _, kw := range f.keywords {
		for _, field := range fields {
			if field == "" || !strings.Contains(field, kw.term) {
				continue
			}
			if !ectolinq.Contains(found, kw.domain) {
				found = append(found, kw.domain)
			}
			break
		}
	}

	if len(found) != 1 {
		return Unclassified
	}
	return found[0]
}

// Allows reports whether a ticket and account domain may be linked.
func Allows(ticket, account Domain) bool {
	if !ticket.IsSpecific() || !account.IsSpecific() {
		return true
	}
	return ticket == account
}

// Classifier resolves ticket and account domains once per run and answers
// per-link checks.
type Classifier struct {
	filter   *Filter
	accounts map[string]Domain
	tickets  map[string]Domain
}

// NewClassifier precomputes the domain of every account and ticket.
func (f *Filter) NewClassifier(accounts []models.Account, tickets []models.Ticket) *Classifier {
	c := &Classifier{
		filter:   f,
		accounts: make(map[string]Domain, len(accounts)),
		tickets:  make(map[string]Domain, len(tickets)),
	}
	for _, a := range accounts {
		c.accounts[a.ID] = f.AccountDomain(a)
	}
	for _, t := range tickets {
		c.tickets[t.ID] = f.TicketDomain(t.ExternalKey)
	}
	return c
}

// AccountDomain returns the precomputed domain, Unclassified for unknown ids.
func (c *Classifier) AccountDomain(accountID string) Domain {
	if d, ok := c.accounts[accountID]; ok {
		return d
	}
	return Unclassified
}

// TicketDomain returns the precomputed domain, Unclassified for unknown ids.
func (c *Classifier) TicketDomain(ticketID string) Domain {
	if d, ok := c.tickets[ticketID]; ok {
		return d
	}
	return Unclassified
}

// Allows checks whether ticketID may be linked to accountID.
func (c *Classifier) Allows(ticketID, accountID string) bool {
	return Allows(c.TicketDomain(ticketID), c.AccountDomain(accountID))
}
