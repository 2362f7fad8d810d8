package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

const fixturesPath = "../../testdata/fixtures.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReconcileWithFixtures(t *testing.T) {
	out, err := execute(t, "--fixtures", fixturesPath, "reconcile", "--tenant", "acme")
	require.NoError(t, err)

	var report models.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "acme", report.TenantID)
	assert.Equal(t, models.RunModeIncremental, report.Mode)
	assert.Equal(t, 3, report.TicketsTotal)
	assert.False(t, report.Partial)
	assert.GreaterOrEqual(t, report.LinksWritten, 2)
	assert.Equal(t, 1, report.CandidatesByStrategy[models.StrategyDirectCaseID])
	assert.Equal(t, 1, report.CandidatesByStrategy[models.StrategyClientField])
}

func TestRollupWithFixtures(t *testing.T) {
	out, err := execute(t, "--fixtures", fixturesPath, "rollup", "--tenant", "acme", "--account", "acc-marine")
	require.NoError(t, err)

	var rollup models.Rollup
	require.NoError(t, json.Unmarshal([]byte(out), &rollup))
	assert.Equal(t, models.Rollup{}, rollup)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "reconcile needs tenant", args: []string{"--fixtures", fixturesPath, "reconcile"}, wantErr: "tenant"},
		{name: "rollup needs a target", args: []string{"--fixtures", fixturesPath, "rollup", "--tenant", "acme"}, wantErr: "account"},
		{
			name:    "rollup targets are exclusive",
			args:    []string{"--fixtures", fixturesPath, "rollup", "--tenant", "acme", "--account", "a", "--theme", "b"},
			wantErr: "none of the others",
		},
		{name: "migrate refuses fixtures", args: []string{"--fixtures", fixturesPath, "migrate"}, wantErr: "cannot run with --fixtures"},
		{name: "load refuses fixtures", args: []string{"--fixtures", fixturesPath, "load", "x.yaml"}, wantErr: "cannot run with --fixtures"},
		{name: "missing fixtures file", args: []string{"--fixtures", "nope.yaml", "links", "--tenant", "acme"}, wantErr: "failed to read fixtures"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
