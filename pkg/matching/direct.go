package matching

import (
	"context"

	"github.com/Ramsey-B/trellis/pkg/caseindex"
	"github.com/Ramsey-B/trellis/pkg/models"
)

const (
	DirectVerbatimConfidence   = 1.0
	DirectNormalizedConfidence = 0.95
)

// DirectCaseID links a ticket to the account owning a case whose number or
// record id appears in the ticket.
type DirectCaseID struct {
	index *caseindex.Index
}

func NewDirectCaseID(index *caseindex.Index) *DirectCaseID {
	return &DirectCaseID{index: index}
}

func (s *DirectCaseID) Name() models.Strategy {
	return models.StrategyDirectCaseID
}

func (s *DirectCaseID) Match(_ context.Context, ticket *models.Ticket, tc *TicketContext) []Candidate {
	if s.index == nil || tc == nil {
		return nil
	}

	best := newBestPerAccount()
	for _, id := range tc.Identifiers {
		hit, ok := s.index.Lookup(id.Value)
		if !ok {
			continue
		}
		confidence := DirectVerbatimConfidence
		if hit.Normalized {
			confidence = DirectNormalizedConfidence
		}
		best.add(Candidate{
			AccountID:  hit.AccountID,
			TicketID:   ticket.ID,
			Strategy:   models.StrategyDirectCaseID,
			Confidence: confidence,
			Evidence:   id.SourceField + ":" + id.Value,
		})
	}
	return best.candidates()
}
