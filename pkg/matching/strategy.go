// Package matching proposes account candidates for a ticket through an
// ordered chain of strategies.
package matching

import (
	"context"

	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// Candidate is a proposed account/ticket association.
type Candidate struct {
	AccountID  string          `json:"account_id"`
	TicketID   string          `json:"ticket_id"`
	Strategy   models.Strategy `json:"strategy"`
	Confidence float64         `json:"confidence"`
	Evidence   string          `json:"evidence,omitempty"`
}

// Link converts the candidate into a clamped Link.
func (c Candidate) Link() models.Link {
	return models.NewLink(c.AccountID, c.TicketID, c.Strategy, c.Confidence)
}

// TicketContext is the per-ticket data strategies read beyond the ticket itself.
type TicketContext struct {
	Identifiers []extractor.Identifier
	ThemeLinks  []models.ThemeLink
}

// Strategy proposes candidates for a single ticket. Implementations read only
// immutable run data and are safe for concurrent use.
type Strategy interface {
	Name() models.Strategy
	Match(ctx context.Context, ticket *models.Ticket, tc *TicketContext) []Candidate
}

// bestPerAccount keeps one candidate per account, the highest confidence,
// preserving first-seen order.
type bestPerAccount struct {
	order []string
	best  map[string]Candidate
}

func newBestPerAccount() *bestPerAccount {
	return &bestPerAccount{best: map[string]Candidate{}}
}

func (b *bestPerAccount) add(c Candidate) {
	existing, ok := b.best[c.AccountID]
	if !ok {
		b.order = append(b.order, c.AccountID)
		b.best[c.AccountID] = c
		return
	}
	if c.Confidence > existing.Confidence {
		b.best[c.AccountID] = c
	}
}

func (b *bestPerAccount) candidates() []Candidate {
	if len(b.order) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.best[id])
	}
	return out
}
