package caseindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func TestIndex_Lookup(t *testing.T) {
	idx := Build([]models.Case{
		{ID: "500Ab00000XyZ12345", ExternalCaseNumber: "00123456", AccountID: "acc-a"},
		{ID: "500Ab00000XyZ99999", ExternalCaseNumber: "7654321", AccountID: "acc-b"},
	})

	t.Run("verbatim case number", func(t *testing.T) {
		hit, ok := idx.Lookup("00123456")
		require.True(t, ok)
		assert.False(t, hit.Normalized)
		assert.Equal(t, Entry{AccountID: "acc-a", CaseID: "500Ab00000XyZ12345"}, hit.Entry)
	})

	t.Run("record id", func(t *testing.T) {
		hit, ok := idx.Lookup("500Ab00000XyZ99999")
		require.True(t, ok)
		assert.False(t, hit.Normalized)
		assert.Equal(t, "acc-b", hit.AccountID)
	})

	t.Run("padded identifier hits through normalized form", func(t *testing.T) {
		hit, ok := idx.Lookup("07654321")
		require.True(t, ok)
		assert.True(t, hit.Normalized)
		assert.Equal(t, "acc-b", hit.AccountID)
	})

	t.Run("unknown identifier misses", func(t *testing.T) {
		_, ok := idx.Lookup("99999999")
		assert.False(t, ok)
		_, ok = idx.Lookup("")
		assert.False(t, ok)
	})
}

func TestIndex_IdentifiersFor(t *testing.T) {
	idx := Build([]models.Case{
		{ID: "case-2", ExternalCaseNumber: "22222222", AccountID: "acc-a"},
		{ID: "case-1", ExternalCaseNumber: "11111111", AccountID: "acc-a"},
	})

	assert.Equal(t, []string{"11111111", "22222222", "case-1", "case-2"}, idx.IdentifiersFor("acc-a"))
	assert.Empty(t, idx.IdentifiersFor("acc-missing"))
	assert.Equal(t, 4, idx.Len())
}

func TestIndex_AmbiguousKeysAreDropped(t *testing.T) {
	idx := Build([]models.Case{
		{ID: "case-1", ExternalCaseNumber: "00000042", AccountID: "acc-a"},
		{ID: "case-2", ExternalCaseNumber: "0000042", AccountID: "acc-b"},
		{ID: "case-3", ExternalCaseNumber: "33333333", AccountID: "acc-a"},
		{ID: "case-4", ExternalCaseNumber: "33333333", AccountID: "acc-a"},
	})

	hit, ok := idx.Lookup("00000042")
	require.True(t, ok)
	assert.Equal(t, "acc-a", hit.AccountID)

	_, ok = idx.Lookup("00042")
	assert.False(t, ok, "normalized form is shared by two accounts")

	hit, ok = idx.Lookup("33333333")
	require.True(t, ok, "same account owning a key twice is not ambiguous")
	assert.Equal(t, "case-3", hit.CaseID)
	assert.Equal(t, 1, idx.Ambiguous())
}
