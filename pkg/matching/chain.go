package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/caseindex"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// Result is the output of the chain for one ticket. Strategy is empty when
// no strategy produced a candidate.
type Result struct {
	Strategy   models.Strategy
	Candidates []Candidate
}

// Chain runs strategies in order and stops at the first one that proposes anything.
type Chain struct {
	strategies []Strategy
	logger     ectologger.Logger
}

func NewChain(logger ectologger.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		logger:     logger,
	}
}

// Options configures the default strategy chain.
type Options struct {
	ClientField         string
	MaxAccountsPerTheme int
}

// NewDefaultChain builds direct_case_id, client_field, theme_association in that order.
func NewDefaultChain(logger ectologger.Logger, opts Options, accounts []models.Account, cases []models.Case, index *caseindex.Index) (*Chain, error) {
	client, err := NewClientField(opts.ClientField, accounts)
	if err != nil {
		return nil, err
	}
	return NewChain(logger,
		NewDirectCaseID(index),
		client,
		NewThemeAssociation(cases, opts.MaxAccountsPerTheme),
	), nil
}

// Strategies lists the chain order.
func (c *Chain) Strategies() []models.Strategy {
	names := make([]models.Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

func (c *Chain) Match(ctx context.Context, ticket *models.Ticket, tc *TicketContext) Result {
	if ticket == nil {
		return Result{}
	}
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return Result{}
		}
		candidates := s.Match(ctx, ticket, tc)
		if len(candidates) == 0 {
			continue
		}
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"ticket_id":  ticket.ID,
			"strategy":   s.Name(),
			"candidates": len(candidates),
		}).Debug("Strategy matched ticket")
		return Result{Strategy: s.Name(), Candidates: candidates}
	}
	return Result{}
}
