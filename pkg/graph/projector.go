package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/reconcile"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const (
	wipeQuery = `MATCH (:Account {tenant_id: $tenant_id})-[r:LINKED_TO]->(:Ticket {tenant_id: $tenant_id}) DELETE r`

	mergeQuery = `UNWIND $links AS link
MERGE (a:Account {tenant_id: $tenant_id, id: link.account_id})
MERGE (t:Ticket {tenant_id: $tenant_id, id: link.ticket_id})
MERGE (a)-[r:LINKED_TO]->(t)
SET r.strategy = link.strategy, r.confidence = link.confidence`

	pruneQuery = `UNWIND $links AS link
MATCH (:Account {tenant_id: $tenant_id, id: link.account_id})-[r:LINKED_TO]->(:Ticket {tenant_id: $tenant_id, id: link.ticket_id})
DELETE r`
)

// Statement is one parameterized Cypher query.
type Statement struct {
	Query  string
	Params map[string]any
}

// Runner executes statements atomically.
type Runner interface {
	Run(ctx context.Context, statements []Statement) error
}

// Projector mirrors committed link changes into the graph.
type Projector struct {
	runner Runner
	logger ectologger.Logger
}

func NewProjector(runner Runner, logger ectologger.Logger) *Projector {
	return &Projector{runner: runner, logger: logger}
}

func (p *Projector) Name() string {
	return "graph"
}

func (p *Projector) Publish(ctx context.Context, change reconcile.Change) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Publish")
	defer span.End()

	statements := Statements(change)
	if len(statements) == 0 {
		return nil
	}
	if err := p.runner.Run(ctx, statements); err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": change.TenantID,
		"upserted":  len(change.Upserted),
		"pruned":    len(change.Pruned),
		"wiped":     change.Wiped,
	}).Debug("Projected links into graph")
	return nil
}

// Statements translates a change into Cypher, wipe first.
func Statements(change reconcile.Change) []Statement {
	var out []Statement

	if change.Wiped {
		out = append(out, Statement{
			Query:  wipeQuery,
			Params: map[string]any{"tenant_id": change.TenantID},
		})
	}

	if len(change.Upserted) > 0 {
		links := make([]map[string]any, 0, len(change.Upserted))
		for _, l := range change.Upserted {
			links = append(links, map[string]any{
				"account_id": l.AccountID,
				"ticket_id":  l.TicketID,
				"strategy":   string(l.Strategy),
				"confidence": l.Confidence,
			})
		}
		out = append(out, Statement{
			Query:  mergeQuery,
			Params: map[string]any{"tenant_id": change.TenantID, "links": links},
		})
	}

	if len(change.Pruned) > 0 {
		links := make([]map[string]any, 0, len(change.Pruned))
		for _, k := range change.Pruned {
			links = append(links, map[string]any{"account_id": k.AccountID, "ticket_id": k.TicketID})
		}
		out = append(out, Statement{
			Query:  pruneQuery,
			Params: map[string]any{"tenant_id": change.TenantID, "links": links},
		})
	}

	return out
}
