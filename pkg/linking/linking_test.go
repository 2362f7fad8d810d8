package linking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/matching"
	"github.com/Ramsey-B/trellis/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeStore struct {
	mu         sync.Mutex
	calls      int
	failFirst  int
	failAlways map[string]bool
	links      []models.Link
	themeLinks []models.ThemeLink
}

func (s *fakeStore) UpsertLinks(_ context.Context, _ string, links []models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("transient")
	}
	for _, l := range links {
		if s.failAlways[l.TicketID] {
			return errors.New("constraint violation")
		}
	}
	s.links = append(s.links, links...)
	return nil
}

func (s *fakeStore) UpsertThemeLinks(_ context.Context, _ string, links []models.ThemeLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.themeLinks = append(s.themeLinks, links...)
	return nil
}

type denyGate map[models.PairKey]bool

func (g denyGate) Allows(ticketID, accountID string) bool {
	return !g[models.PairKey{AccountID: accountID, TicketID: ticketID}]
}

func candidate(account, ticket string, strategy models.Strategy, confidence float64) matching.Candidate {
	return matching.Candidate{AccountID: account, TicketID: ticket, Strategy: strategy, Confidence: confidence}
}

func TestDedupe(t *testing.T) {
	t.Run("keeps highest confidence and its strategy", func(t *testing.T) {
		kept, discarded := Dedupe([]matching.Candidate{
			candidate("A", "T", models.StrategyThemeAssociation, 0.60),
			candidate("A", "T", models.StrategyClientField, 0.90),
		})
		require.Len(t, kept, 1)
		assert.Equal(t, 0.90, kept[0].Confidence)
		assert.Equal(t, models.StrategyClientField, kept[0].Strategy)
		require.Len(t, discarded, 1)
		assert.Equal(t, 0.60, discarded[0].Confidence)
	})

	t.Run("ties go to the stronger strategy", func(t *testing.T) {
		kept, _ := Dedupe([]matching.Candidate{
			candidate("A", "T", models.StrategyClientField, 0.95),
			candidate("A", "T", models.StrategyDirectCaseID, 0.95),
		})
		require.Len(t, kept, 1)
		assert.Equal(t, models.StrategyDirectCaseID, kept[0].Strategy)
	})

	t.Run("preserves first-seen pair order and clamps", func(t *testing.T) {
		kept, discarded := Dedupe([]matching.Candidate{
			candidate("B", "T", models.StrategyClientField, 1.4),
			candidate("A", "T", models.StrategyClientField, 0.8),
		})
		assert.Empty(t, discarded)
		require.Len(t, kept, 2)
		assert.Equal(t, "B", kept[0].AccountID)
		assert.Equal(t, 1.0, kept[0].Confidence)
	})
}

func TestDedupeThemeLinks(t *testing.T) {
	kept, discarded := DedupeThemeLinks([]models.ThemeLink{
		{ThemeKey: "x", TicketID: "T", Confidence: 0.4},
		{ThemeKey: "x", TicketID: "T", Confidence: 0.9},
		{ThemeKey: "y", TicketID: "T", Confidence: -1},
	})
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, 0.0, kept[1].Confidence)
	assert.Equal(t, 1, discarded)
}

func TestWriter_WriteLinks(t *testing.T) {
	ctx := context.Background()

	t.Run("filters conflicts and writes in batches", func(t *testing.T) {
		store := &fakeStore{}
		w := NewWriter(testLogger(), Config{BatchSize: 2, MaxAttempts: 3}, store, store)

		res := w.WriteLinks(ctx, "tenant", denyGate{{AccountID: "B", TicketID: "T1"}: true}, []matching.Candidate{
			candidate("A", "T1", models.StrategyDirectCaseID, 1),
			candidate("B", "T1", models.StrategyDirectCaseID, 1),
			candidate("A", "T2", models.StrategyClientField, 0.8),
			candidate("A", "T2", models.StrategyClientField, 0.95),
			candidate("C", "T3", models.StrategyThemeAssociation, 0.6),
		})

		assert.Equal(t, 1, res.Filtered)
		assert.Equal(t, 1, res.Discarded)
		assert.Empty(t, res.FailedBatches)
		assert.Len(t, res.Written, 3)
		assert.Len(t, store.links, 3)
		assert.Equal(t, 2, store.calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		store := &fakeStore{failFirst: 2}
		w := NewWriter(testLogger(), Config{BatchSize: 10, MaxAttempts: 3}, store, store)

		res := w.WriteLinks(ctx, "tenant", nil, []matching.Candidate{
			candidate("A", "T1", models.StrategyDirectCaseID, 1),
		})

		assert.Empty(t, res.FailedBatches)
		assert.Len(t, res.Written, 1)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("reports batches that exhaust retries and keeps the rest", func(t *testing.T) {
		store := &fakeStore{failAlways: map[string]bool{"T2": true}}
		w := NewWriter(testLogger(), Config{BatchSize: 1, MaxAttempts: 3}, store, store)

		res := w.WriteLinks(ctx, "tenant", nil, []matching.Candidate{
			candidate("A", "T1", models.StrategyDirectCaseID, 1),
			candidate("A", "T2", models.StrategyDirectCaseID, 1),
			candidate("A", "T3", models.StrategyDirectCaseID, 1),
		})

		require.Len(t, res.FailedBatches, 1)
		assert.Equal(t, models.FailedBatch{Kind: models.BatchKindLinks, Index: 1, Size: 1, Error: "constraint violation"}, res.FailedBatches[0])
		assert.Len(t, res.Written, 2)
		assert.Equal(t, 5, store.calls)
	})
}

func TestWriter_WriteThemeLinks(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(testLogger(), DefaultConfig(), store, store)

	res := w.WriteThemeLinks(context.Background(), "tenant", []models.ThemeLink{
		{ThemeKey: "x", TicketID: "T", Confidence: 0.5},
		{ThemeKey: "x", TicketID: "T", Confidence: 0.7},
	})

	assert.Empty(t, res.FailedBatches)
	assert.Equal(t, 1, res.Discarded)
	require.Len(t, store.themeLinks, 1)
	assert.Equal(t, 0.7, store.themeLinks[0].Confidence)
}
