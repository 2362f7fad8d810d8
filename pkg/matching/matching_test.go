package matching

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/caseindex"
	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/models"
)

const clientPath = "customFields.customfield_10100"

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func theme(key string) *string {
	return &key
}

var (
	accounts = []models.Account{
		{ID: "acc-a", Name: "Acme Marine"},
		{ID: "acc-b", Name: "Northwind Shipping Company"},
		{ID: "acc-c", Name: "Contoso"},
	}
	cases = []models.Case{
		{ID: "500Ab00000XyZ12345", ExternalCaseNumber: "00123456", AccountID: "acc-a", ThemeKey: theme("gps-drift")},
		{ID: "500Ab00000XyZ22222", ExternalCaseNumber: "2222222", AccountID: "acc-b", ThemeKey: theme("gps-drift")},
		{ID: "500Ab00000XyZ33333", ExternalCaseNumber: "33333333", AccountID: "acc-c", ThemeKey: theme("login")},
	}
)

func identifiers(values ...string) *TicketContext {
	tc := &TicketContext{}
	for _, v := range values {
		tc.Identifiers = append(tc.Identifiers, extractor.Identifier{Value: v, SourceField: "summary"})
	}
	return tc
}

func TestDirectCaseID(t *testing.T) {
	s := NewDirectCaseID(caseindex.Build(cases))
	ticket := &models.Ticket{ID: "t1", ExternalKey: "MREQ-1"}

	t.Run("verbatim hit scores 1.0", func(t *testing.T) {
		got := s.Match(context.Background(), ticket, identifiers("00123456"))
		require.Len(t, got, 1)
		assert.Equal(t, "acc-a", got[0].AccountID)
		assert.Equal(t, "t1", got[0].TicketID)
		assert.Equal(t, 1.0, got[0].Confidence)
		assert.Equal(t, models.StrategyDirectCaseID, got[0].Strategy)
	})

	t.Run("normalized hit scores 0.95", func(t *testing.T) {
		got := s.Match(context.Background(), ticket, identifiers("02222222"))
		require.Len(t, got, 1)
		assert.Equal(t, "acc-b", got[0].AccountID)
		assert.Equal(t, 0.95, got[0].Confidence)
	})

	t.Run("keeps the best hit per account", func(t *testing.T) {
		got := s.Match(context.Background(), ticket, identifiers("0123456", "500Ab00000XyZ12345"))
		require.Len(t, got, 1)
		assert.Equal(t, 1.0, got[0].Confidence)
	})

	t.Run("no identifiers yields nothing", func(t *testing.T) {
		assert.Empty(t, s.Match(context.Background(), ticket, &TicketContext{}))
	})
}

func TestClientField(t *testing.T) {
	s, err := NewClientField(clientPath, accounts)
	require.NoError(t, err)

	tests := []struct {
		name   string
		value  any
		expect map[string]float64
	}{
		{name: "exact case-insensitive", value: "acme marine", expect: map[string]float64{"acc-a": 0.95}},
		{name: "client contains account name", value: "Contoso Ltd (EU)", expect: map[string]float64{"acc-c": 0.80}},
		{name: "account name contains client", value: "Northwind Shipping", expect: map[string]float64{"acc-b": 0.80}},
		{name: "significant tokens", value: "Shipping & Northwind", expect: map[string]float64{"acc-b": 0.80}},
		{name: "short names do not substring match", value: "Acm", expect: map[string]float64{}},
		{name: "multiple clients split on delimiters", value: "Acme Marine; Contoso", expect: map[string]float64{"acc-a": 0.95, "acc-c": 0.95}},
		{name: "array values", value: []any{"Contoso", "unknown corp"}, expect: map[string]float64{"acc-c": 0.95}},
		{name: "missing field", value: nil, expect: map[string]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := &models.Ticket{ID: "t1", CustomFields: map[string]any{}}
			if tt.value != nil {
				ticket.CustomFields["customfield_10100"] = tt.value
			}

			got := map[string]float64{}
			for _, c := range s.Match(context.Background(), ticket, nil) {
				got[c.AccountID] = c.Confidence
				assert.Equal(t, models.StrategyClientField, c.Strategy)
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestClientField_Disabled(t *testing.T) {
	s, err := NewClientField("", accounts)
	require.NoError(t, err)
	ticket := &models.Ticket{ID: "t1", CustomFields: map[string]any{"customfield_10100": "Contoso"}}
	assert.Empty(t, s.Match(context.Background(), ticket, nil))
}

func TestThemeAssociation(t *testing.T) {
	ticket := &models.Ticket{ID: "t1"}

	t.Run("scales with theme link confidence", func(t *testing.T) {
		s := NewThemeAssociation(cases, 5)
		got := s.Match(context.Background(), ticket, &TicketContext{
			ThemeLinks: []models.ThemeLink{{ThemeKey: "gps-drift", TicketID: "t1", Confidence: 0.5}},
		})
		require.Len(t, got, 2)
		assert.Equal(t, "acc-a", got[0].AccountID)
		assert.Equal(t, "acc-b", got[1].AccountID)
		assert.InDelta(t, 0.60, got[0].Confidence, 1e-9)
	})

	t.Run("skips themes spread over too many accounts", func(t *testing.T) {
		s := NewThemeAssociation(cases, 1)
		got := s.Match(context.Background(), ticket, &TicketContext{
			ThemeLinks: []models.ThemeLink{
				{ThemeKey: "gps-drift", TicketID: "t1", Confidence: 1},
				{ThemeKey: "login", TicketID: "t1", Confidence: 1},
			},
		})
		require.Len(t, got, 1)
		assert.Equal(t, "acc-c", got[0].AccountID)
		assert.InDelta(t, 0.70, got[0].Confidence, 1e-9)
	})
}

func TestChain_Cascades(t *testing.T) {
	index := caseindex.Build(cases)
	chain, err := NewDefaultChain(testLogger(), Options{ClientField: clientPath, MaxAccountsPerTheme: 5}, accounts, cases, index)
	require.NoError(t, err)

	assert.Equal(t, []models.Strategy{
		models.StrategyDirectCaseID,
		models.StrategyClientField,
		models.StrategyThemeAssociation,
	}, chain.Strategies())

	ticket := &models.Ticket{
		ID:           "t1",
		CustomFields: map[string]any{"customfield_10100": "Contoso"},
	}
	tc := identifiers("00123456")
	tc.ThemeLinks = []models.ThemeLink{{ThemeKey: "gps-drift", TicketID: "t1", Confidence: 1}}

	t.Run("direct hit suppresses later strategies", func(t *testing.T) {
		res := chain.Match(context.Background(), ticket, tc)
		assert.Equal(t, models.StrategyDirectCaseID, res.Strategy)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "acc-a", res.Candidates[0].AccountID)
	})

	t.Run("falls through to client field", func(t *testing.T) {
		res := chain.Match(context.Background(), ticket, &TicketContext{ThemeLinks: tc.ThemeLinks})
		assert.Equal(t, models.StrategyClientField, res.Strategy)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "acc-c", res.Candidates[0].AccountID)
	})

	t.Run("falls through to theme association", func(t *testing.T) {
		plain := &models.Ticket{ID: "t1"}
		res := chain.Match(context.Background(), plain, &TicketContext{ThemeLinks: tc.ThemeLinks})
		assert.Equal(t, models.StrategyThemeAssociation, res.Strategy)
		assert.Len(t, res.Candidates, 2)
	})

	t.Run("nothing matches", func(t *testing.T) {
		res := chain.Match(context.Background(), &models.Ticket{ID: "t2"}, &TicketContext{})
		assert.Empty(t, res.Strategy)
		assert.Empty(t, res.Candidates)
	})
}
