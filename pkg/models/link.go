package models

import (
	"math"
	"time"
)

// Strategy names the matcher that produced a link.
type Strategy string

const (
	StrategyDirectCaseID     Strategy = "direct_case_id"
	StrategyClientField      Strategy = "client_field"
	StrategyThemeAssociation Strategy = "theme_association"
)

// Rank orders strategies by reliability, lower is stronger. Unknown strategies rank last.
func (s Strategy) Rank() int {
	switch s {
	case StrategyDirectCaseID:
		return 0
	case StrategyClientField:
		return 1
	case StrategyThemeAssociation:
		return 2
	default:
		return 3
	}
}

// ClampConfidence bounds c to [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Link associates an account with a ticket. At most one per pair.
type Link struct {
	AccountID  string    `json:"account_id" db:"account_id" yaml:"account_id"`
	TicketID   string    `json:"ticket_id" db:"ticket_id" yaml:"ticket_id"`
	Strategy   Strategy  `json:"strategy" db:"strategy" yaml:"strategy"`
	Confidence float64   `json:"confidence" db:"confidence" yaml:"confidence"`
	UpdatedAt  time.Time `json:"updated_at,omitempty" db:"updated_at" yaml:"updated_at"`
}

// NewLink builds a Link with a clamped confidence.
func NewLink(accountID, ticketID string, strategy Strategy, confidence float64) Link {
	return Link{
		AccountID:  accountID,
		TicketID:   ticketID,
		Strategy:   strategy,
		Confidence: ClampConfidence(confidence),
	}
}

// PairKey identifies a link by (account, ticket).
type PairKey struct {
	AccountID string
	TicketID  string
}

func (l Link) Key() PairKey {
	return PairKey{AccountID: l.AccountID, TicketID: l.TicketID}
}

// ThemeLink associates a theme with a ticket. At most one per pair.
type ThemeLink struct {
	ThemeKey   string    `json:"theme_key" db:"theme_key" yaml:"theme_key"`
	TicketID   string    `json:"ticket_id" db:"ticket_id" yaml:"ticket_id"`
	Confidence float64   `json:"confidence" db:"confidence" yaml:"confidence"`
	UpdatedAt  time.Time `json:"updated_at,omitempty" db:"updated_at" yaml:"updated_at"`
}

func NewThemeLink(themeKey, ticketID string, confidence float64) ThemeLink {
	return ThemeLink{
		ThemeKey:   themeKey,
		TicketID:   ticketID,
		Confidence: ClampConfidence(confidence),
	}
}

// ThemePairKey identifies a theme link by (theme, ticket).
type ThemePairKey struct {
	ThemeKey string
	TicketID string
}

func (l ThemeLink) Key() ThemePairKey {
	return ThemePairKey{ThemeKey: l.ThemeKey, TicketID: l.TicketID}
}
