package models

import "time"

// Account is a CRM customer account. Read-only input.
type Account struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Products []string `json:"products,omitempty" yaml:"products"`
	Vertical string   `json:"vertical,omitempty" yaml:"vertical"`
}

// Case is a CRM support case. ID is the 18 character record id, which can
// itself appear in ticket text.
type Case struct {
	ID                 string  `json:"id" yaml:"id"`
	ExternalCaseNumber string  `json:"external_case_number" yaml:"external_case_number"`
	AccountID          string  `json:"account_id" yaml:"account_id"`
	ThemeKey           *string `json:"theme_key,omitempty" yaml:"theme_key"`
}

// Ticket is a product tracker issue.
type Ticket struct {
	ID             string         `json:"id" yaml:"id"`
	ExternalKey    string         `json:"external_key" yaml:"external_key"`
	CustomFields   map[string]any `json:"custom_fields,omitempty" yaml:"custom_fields"`
	Summary        string         `json:"summary" yaml:"summary"`
	Description    string         `json:"description" yaml:"description"`
	Status         string         `json:"status" yaml:"status"`
	ResolutionDate *time.Time     `json:"resolution_date,omitempty" yaml:"resolution_date"`
	Labels         []string       `json:"labels,omitempty" yaml:"labels"`
}

// Theme is a recurring problem category assigned to cases by an upstream classifier.
type Theme struct {
	Key    string   `json:"key" yaml:"key"`
	Label  string   `json:"label" yaml:"label"`
	Labels []string `json:"labels,omitempty" yaml:"labels"`
}

// ThemeAssignment is a classifier-proposed theme to ticket association.
type ThemeAssignment struct {
	ThemeKey   string  `json:"theme_key" yaml:"theme_key"`
	TicketID   string  `json:"ticket_id" yaml:"ticket_id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Source     string  `json:"source,omitempty" yaml:"source"`
}
