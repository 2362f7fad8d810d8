package models

import "slices"

// LinkFilter narrows the diagnostic link read. Empty fields match everything.
type LinkFilter struct {
	AccountID string   `json:"account_id,omitempty" query:"account_id"`
	TicketID  string   `json:"ticket_id,omitempty" query:"ticket_id"`
	Strategy  Strategy `json:"strategy,omitempty" query:"strategy"`
}

// Matches reports whether l passes the filter.
func (f LinkFilter) Matches(l Link) bool {
	if f.AccountID != "" && f.AccountID != l.AccountID {
		return false
	}
	if f.TicketID != "" && f.TicketID != l.TicketID {
		return false
	}
	if f.Strategy != "" && f.Strategy != l.Strategy {
		return false
	}
	return true
}

// ThemeLinkFilter narrows theme link reads. ThemeKeys matches any of the listed keys.
type ThemeLinkFilter struct {
	ThemeKeys []string
	TicketID  string
}

func (f ThemeLinkFilter) Matches(l ThemeLink) bool {
	if len(f.ThemeKeys) > 0 && !slices.Contains(f.ThemeKeys, l.ThemeKey) {
		return false
	}
	if f.TicketID != "" && f.TicketID != l.TicketID {
		return false
	}
	return true
}

type CaseFilter struct {
	AccountID string
	ThemeKey  string
}

func (f CaseFilter) Matches(c Case) bool {
	if f.AccountID != "" && f.AccountID != c.AccountID {
		return false
	}
	if f.ThemeKey != "" && (c.ThemeKey == nil || *c.ThemeKey != f.ThemeKey) {
		return false
	}
	return true
}

// TicketFilter restricts tickets to IDs when set. A non-nil empty IDs slice matches nothing.
type TicketFilter struct {
	IDs []string
}

func (f TicketFilter) Matches(t Ticket) bool {
	if f.IDs == nil {
		return true
	}
	return slices.Contains(f.IDs, t.ID)
}
