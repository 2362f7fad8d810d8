package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/reconcile"
)

type fakeRunner struct {
	runs [][]Statement
	err  error
}

func (r *fakeRunner) Run(_ context.Context, statements []Statement) error {
	r.runs = append(r.runs, statements)
	return r.err
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name    string
		change  reconcile.Change
		queries []string
	}{
		{
			name:    "empty change",
			change:  reconcile.Change{TenantID: "tenant"},
			queries: nil,
		},
		{
			name:    "wipe only",
			change:  reconcile.Change{TenantID: "tenant", Wiped: true},
			queries: []string{wipeQuery},
		},
		{
			name: "full run wipes before merging",
			change: reconcile.Change{
				TenantID: "tenant",
				Wiped:    true,
				Upserted: []models.Link{models.NewLink("acc", "t1", models.StrategyClientField, 0.8)},
			},
			queries: []string{wipeQuery, mergeQuery},
		},
		{
			name: "incremental run merges then prunes",
			change: reconcile.Change{
				TenantID: "tenant",
				Upserted: []models.Link{models.NewLink("acc", "t1", models.StrategyClientField, 0.8)},
				Pruned:   []models.PairKey{{AccountID: "acc", TicketID: "t2"}},
			},
			queries: []string{mergeQuery, pruneQuery},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, st := range Statements(tt.change) {
				got = append(got, st.Query)
				assert.Equal(t, "tenant", st.Params["tenant_id"])
			}
			assert.Equal(t, tt.queries, got)
		})
	}

	t.Run("merge params carry strategy and confidence", func(t *testing.T) {
		st := Statements(reconcile.Change{
			TenantID: "tenant",
			Upserted: []models.Link{models.NewLink("acc", "t1", models.StrategyDirectCaseID, 1.0)},
		})
		require.Len(t, st, 1)
		links := st[0].Params["links"].([]map[string]any)
		require.Len(t, links, 1)
		assert.Equal(t, "direct_case_id", links[0]["strategy"])
		assert.Equal(t, 1.0, links[0]["confidence"])
	})
}

func TestProjectorPublish(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("skips the runner for empty changes", func(t *testing.T) {
		runner := &fakeRunner{}
		require.NoError(t, NewProjector(runner, logger).Publish(context.Background(), reconcile.Change{TenantID: "tenant"}))
		assert.Empty(t, runner.runs)
	})

	t.Run("propagates runner errors", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("bolt: connection reset")}
		err := NewProjector(runner, logger).Publish(context.Background(), reconcile.Change{TenantID: "tenant", Wiped: true})
		assert.EqualError(t, err, "bolt: connection reset")
		assert.Len(t, runner.runs, 1)
	})
}
