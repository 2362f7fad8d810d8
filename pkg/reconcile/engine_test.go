package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/internal/repositories/memory"
	"github.com/Ramsey-B/trellis/pkg/linking"
	"github.com/Ramsey-B/trellis/pkg/models"
)

const clientPath = "customFields.customfield_10100"

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func themeKey(key string) *string {
	return &key
}

func dataset() memory.Dataset {
	return memory.Dataset{
		Accounts: []models.Account{
			{ID: "acc-marine", Name: "Acme Marine", Products: []string{"Marine Suite"}},
			{ID: "acc-storage", Name: "Globex Storage", Products: []string{"Edge Storage"}},
			{ID: "acc-plain", Name: "Initech"},
		},
		Cases: []models.Case{
			{ID: "500Ab00000XyZ11111", ExternalCaseNumber: "00123456", AccountID: "acc-marine"},
			{ID: "500Ab00000XyZ22222", ExternalCaseNumber: "00777777", AccountID: "acc-storage", ThemeKey: themeKey("gps")},
		},
		Tickets: []models.Ticket{
			{ID: "t1", ExternalKey: "MREQ-1", Summary: "Crash reported in case 00123456"},
			{
				ID: "t2", ExternalKey: "PLAT-2", Summary: "Case 00777777 escalated",
				CustomFields: map[string]any{"customfield_10100": "Initech"},
			},
			{ID: "t3", ExternalKey: "MREQ-3", Description: "See 00777777"},
			{ID: "t4", ExternalKey: "PLAT-4", Summary: "Position jumps", Labels: []string{"GPS"}},
			{ID: "t5", ExternalKey: "CORE-5", CustomFields: map[string]any{"customfield_10100": "initech"}},
			{ID: "t6", ExternalKey: "", Summary: "00123456"},
		},
		Themes: []models.Theme{{Key: "gps", Label: "GPS drift", Labels: []string{"gps"}}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientField = clientPath
	cfg.ProductDomains = map[string]string{"marine": "marine", "storage": "storage"}
	cfg.Writer = linking.Config{BatchSize: 2, MaxAttempts: 2, Backoff: time.Millisecond}
	return cfg
}

func newTestEngine(t *testing.T, store Store, sinks ...Sink) *Engine {
	t.Helper()
	engine, err := NewEngine(testLogger(), testConfig(), store, nil, sinks...)
	require.NoError(t, err)
	return engine
}

func linkMap(links []models.Link) map[models.PairKey]models.Link {
	out := make(map[models.PairKey]models.Link, len(links))
	for _, l := range links {
		out[l.Key()] = l
	}
	return out
}

type derivedRow struct {
	strategy   models.Strategy
	confidence float64
}

// derivedState flattens a tenant's links and theme links, ignoring timestamps.
func derivedState(t *testing.T, store *memory.Store) map[string]derivedRow {
	t.Helper()
	ctx := context.Background()
	links, err := store.ListLinks(ctx, "tenant", models.LinkFilter{})
	require.NoError(t, err)
	themeLinks, err := store.ListThemeLinks(ctx, "tenant", models.ThemeLinkFilter{})
	require.NoError(t, err)

	out := make(map[string]derivedRow, len(links)+len(themeLinks))
	for _, l := range links {
		out["link:"+l.AccountID+"/"+l.TicketID] = derivedRow{strategy: l.Strategy, confidence: l.Confidence}
	}
	for _, l := range themeLinks {
		out["theme:"+l.ThemeKey+"/"+l.TicketID] = derivedRow{confidence: l.Confidence}
	}
	return out
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()

	t.Run("derives links with strategy precedence and domain gating", func(t *testing.T) {
		store := memory.NewStore()
		store.Seed("tenant", dataset())
		engine := newTestEngine(t, store)

		report, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)

		links, err := engine.Links(ctx, "tenant", models.LinkFilter{})
		require.NoError(t, err)
		byKey := linkMap(links)

		direct := byKey[models.PairKey{AccountID: "acc-marine", TicketID: "t1"}]
		assert.Equal(t, models.StrategyDirectCaseID, direct.Strategy)
		assert.Equal(t, 1.0, direct.Confidence)

		// t2 names a client but also carries a case number, so only the case wins.
		assert.Contains(t, byKey, models.PairKey{AccountID: "acc-storage", TicketID: "t2"})
		assert.NotContains(t, byKey, models.PairKey{AccountID: "acc-plain", TicketID: "t2"})

		// marine ticket pointing at a storage account is dropped
		assert.NotContains(t, byKey, models.PairKey{AccountID: "acc-storage", TicketID: "t3"})

		themed := byKey[models.PairKey{AccountID: "acc-storage", TicketID: "t4"}]
		assert.Equal(t, models.StrategyThemeAssociation, themed.Strategy)
		assert.InDelta(t, 0.68, themed.Confidence, 1e-9)

		client := byKey[models.PairKey{AccountID: "acc-plain", TicketID: "t5"}]
		assert.Equal(t, models.StrategyClientField, client.Strategy)
		assert.Equal(t, 0.95, client.Confidence)

		assert.Len(t, links, 4)
		assert.Equal(t, 4, report.LinksWritten)
		assert.Equal(t, 1, report.ThemeLinksWritten)
		assert.Equal(t, 1, report.CandidatesFiltered)
		assert.Equal(t, 6, report.TicketsTotal)
		assert.Equal(t, 1, report.TicketsSkipped)
		assert.Equal(t, 3, report.CandidatesByStrategy[models.StrategyDirectCaseID])
		assert.Equal(t, 1, report.CandidatesByStrategy[models.StrategyClientField])
		assert.Equal(t, 1, report.CandidatesByStrategy[models.StrategyThemeAssociation])
		assert.False(t, report.Partial)
		assert.Empty(t, report.FailedBatches)
	})

	t.Run("repeated runs are idempotent", func(t *testing.T) {
		store := memory.NewStore()
		store.Seed("tenant", dataset())
		engine := newTestEngine(t, store)

		_, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)
		first, err := engine.Links(ctx, "tenant", models.LinkFilter{})
		require.NoError(t, err)

		report, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)
		second, err := engine.Links(ctx, "tenant", models.LinkFilter{})
		require.NoError(t, err)

		assert.Equal(t, 0, report.LinksPruned)
		require.Len(t, second, len(first))
		for key, l := range linkMap(first) {
			got := linkMap(second)[key]
			assert.Equal(t, l.Strategy, got.Strategy)
			assert.Equal(t, l.Confidence, got.Confidence)
		}
	})

	t.Run("incremental run prunes links no longer derived", func(t *testing.T) {
		store := memory.NewStore()
		data := dataset()
		data.Links = []models.Link{models.NewLink("acc-plain", "t1", models.StrategyClientField, 0.8)}
		store.Seed("tenant", data)
		sink := &recordingSink{name: "recorder"}
		engine := newTestEngine(t, store, sink)

		report, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)
		assert.Equal(t, 1, report.LinksPruned)

		links, err := engine.Links(ctx, "tenant", models.LinkFilter{TicketID: "t1"})
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, "acc-marine", links[0].AccountID)

		require.Len(t, sink.changes(), 1)
		change := sink.changes()[0]
		assert.Equal(t, []models.PairKey{{AccountID: "acc-plain", TicketID: "t1"}}, change.Pruned)
		assert.Len(t, change.Upserted, 4)
		assert.False(t, change.Wiped)
		assert.Same(t, report, change.Report)
	})

	t.Run("incremental run after evidence changes matches a full recompute", func(t *testing.T) {
		store := memory.NewStore()
		store.Seed("tenant", dataset())
		engine := newTestEngine(t, store)

		_, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)

		// t1 loses its case number but names the client, t4 loses its label
		// and keeps a weaker explicit assignment.
		changed := dataset()
		changed.Tickets[0].Summary = "Crash reported"
		changed.Tickets[0].CustomFields = map[string]any{"customfield_10100": "Acme Marine"}
		changed.Tickets[3].Labels = nil
		changed.ThemeAssignments = []models.ThemeAssignment{{ThemeKey: "gps", TicketID: "t4", Confidence: 0.5}}
		store.Seed("tenant", changed)

		_, err = engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)

		fresh := memory.NewStore()
		fresh.Seed("tenant", changed)
		_, err = newTestEngine(t, fresh).Run(ctx, "tenant", models.RunModeFull)
		require.NoError(t, err)

		assert.Equal(t, derivedState(t, fresh), derivedState(t, store))

		links, err := engine.Links(ctx, "tenant", models.LinkFilter{TicketID: "t1"})
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, models.StrategyClientField, links[0].Strategy)
		assert.Equal(t, 0.95, links[0].Confidence)

		themed, err := store.ListThemeLinks(ctx, "tenant", models.ThemeLinkFilter{TicketID: "t4"})
		require.NoError(t, err)
		require.Len(t, themed, 1)
		assert.Equal(t, 0.5, themed[0].Confidence)
	})

	t.Run("full run wipes before recomputing", func(t *testing.T) {
		store := memory.NewStore()
		data := dataset()
		data.Links = []models.Link{models.NewLink("acc-marine", "t1", models.StrategyClientField, 1.0)}
		store.Seed("tenant", data)
		engine := newTestEngine(t, store)

		_, err := engine.Run(ctx, "tenant", models.RunModeFull)
		require.NoError(t, err)

		links, err := engine.Links(ctx, "tenant", models.LinkFilter{TicketID: "t1"})
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, models.StrategyDirectCaseID, links[0].Strategy)
	})

	t.Run("failed batches mark the run partial and skip pruning", func(t *testing.T) {
		store := memory.NewStore()
		data := dataset()
		data.Links = []models.Link{models.NewLink("acc-plain", "t1", models.StrategyClientField, 0.8)}
		store.Seed("tenant", data)
		engine := newTestEngine(t, &failingStore{Store: store, failUpsertLinks: true})

		report, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)
		assert.True(t, report.Partial)
		require.NotEmpty(t, report.FailedBatches)
		assert.Equal(t, models.BatchKindLinks, report.FailedBatches[0].Kind)
		assert.Equal(t, 0, report.LinksPruned)

		links, err := store.ListLinks(ctx, "tenant", models.LinkFilter{})
		require.NoError(t, err)
		assert.Contains(t, linkMap(links), models.PairKey{AccountID: "acc-plain", TicketID: "t1"})

		latest, err := engine.LatestRun(ctx, "tenant")
		require.NoError(t, err)
		assert.True(t, latest.Partial)
	})

	t.Run("load failure aborts the run", func(t *testing.T) {
		store := memory.NewStore()
		store.Seed("tenant", dataset())
		engine := newTestEngine(t, &failingStore{Store: store, failLoad: true})

		_, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load accounts")
	})

	t.Run("sink errors are reported without failing the run", func(t *testing.T) {
		store := memory.NewStore()
		store.Seed("tenant", dataset())
		engine := newTestEngine(t, store, &recordingSink{name: "broken", err: errors.New("broker down")})

		report, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
		require.NoError(t, err)
		assert.Equal(t, []string{"broken: broker down"}, report.SinkErrors)
		assert.Equal(t, 4, report.LinksWritten)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		engine := newTestEngine(t, memory.NewStore())

		_, err := engine.Run(ctx, "", models.RunModeIncremental)
		assert.ErrorIs(t, err, ErrTenantRequired)

		_, err = engine.Run(ctx, "tenant", models.RunMode("sideways"))
		assert.ErrorIs(t, err, ErrInvalidMode)
	})

	t.Run("empty tenant produces an empty report", func(t *testing.T) {
		engine := newTestEngine(t, memory.NewStore())

		report, err := engine.Run(ctx, "nobody", models.RunModeIncremental)
		require.NoError(t, err)
		assert.Equal(t, 0, report.TicketsTotal)
		assert.Equal(t, 0, report.LinksWritten)
	})
}

func TestEngineRunCancelledDuringMatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// t6 is the last ticket and is malformed, so with one worker the cancel
	// lands after every worker has already started.
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if msg.Message == "Skipping malformed ticket" {
			cancel()
		}
	})

	store := memory.NewStore()
	data := dataset()
	data.Links = []models.Link{models.NewLink("acc-plain", "t1", models.StrategyClientField, 0.8)}
	store.Seed("tenant", data)

	cfg := testConfig()
	cfg.WorkerCount = 1
	engine, err := NewEngine(logger, cfg, store, nil)
	require.NoError(t, err)

	_, err = engine.Run(ctx, "tenant", models.RunModeIncremental)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	links, err := store.ListLinks(context.Background(), "tenant", models.LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "acc-plain", links[0].AccountID)

	_, err = store.LatestRun(context.Background(), "tenant")
	assert.Error(t, err)
}

func TestEngineLocking(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.Seed("t1", dataset())
	store.Seed("t2", dataset())

	locks := NewTenantLocks(testLogger(), nil, time.Minute, 0)
	engine, err := NewEngine(testLogger(), testConfig(), store, locks)
	require.NoError(t, err)

	release, err := locks.Acquire(ctx, "t1")
	require.NoError(t, err)

	t.Run("same tenant is rejected while a run holds the lock", func(t *testing.T) {
		_, err := engine.Run(ctx, "t1", models.RunModeIncremental)
		assert.ErrorIs(t, err, ErrRunInProgress)

		_, err = engine.Wipe(ctx, "t1")
		assert.ErrorIs(t, err, ErrRunInProgress)
	})

	t.Run("other tenants are not blocked", func(t *testing.T) {
		_, err := engine.Run(ctx, "t2", models.RunModeIncremental)
		assert.NoError(t, err)
	})

	t.Run("tenant is free after release", func(t *testing.T) {
		release()
		release()
		_, err := engine.Run(ctx, "t1", models.RunModeIncremental)
		assert.NoError(t, err)
	})
}

func TestTenantLocksWait(t *testing.T) {
	locks := NewTenantLocks(testLogger(), nil, time.Minute, time.Second)
	release, err := locks.Acquire(context.Background(), "t")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	second, err := locks.Acquire(context.Background(), "t")
	require.NoError(t, err)
	second()
}

func TestEngineWipe(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.Seed("tenant", dataset())
	sink := &recordingSink{name: "recorder"}
	engine := newTestEngine(t, store, sink)

	_, err := engine.Run(ctx, "tenant", models.RunModeIncremental)
	require.NoError(t, err)

	res, err := engine.Wipe(ctx, "tenant")
	require.NoError(t, err)
	assert.Equal(t, 4, res.DeletedLinks)
	assert.Equal(t, 1, res.DeletedThemeLinks)

	links, err := engine.Links(ctx, "tenant", models.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)

	changes := sink.changes()
	require.Len(t, changes, 2)
	assert.True(t, changes[1].Wiped)
	assert.Nil(t, changes[1].Report)
}

type recordingSink struct {
	mu   sync.Mutex
	name string
	err  error
	seen []Change
}

func (s *recordingSink) Name() string {
	return s.name
}

func (s *recordingSink) Publish(_ context.Context, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, change)
	return s.err
}

func (s *recordingSink) changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.seen...)
}

type failingStore struct {
	*memory.Store
	failUpsertLinks bool
	failLoad        bool
}

func (s *failingStore) UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error {
	if s.failUpsertLinks {
		return errors.New("write timeout")
	}
	return s.Store.UpsertLinks(ctx, tenantID, links)
}

func (s *failingStore) ListAccounts(ctx context.Context, tenantID string) ([]models.Account, error) {
	if s.failLoad {
		return nil, errors.New("connection refused")
	}
	return s.Store.ListAccounts(ctx, tenantID)
}
