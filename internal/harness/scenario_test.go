package harness

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validScenario = `
name: valid
description: a settled table
service_charge_percent: "12.5"
seed:
  tables:
    - {id: t-1, hall: main, name: Table 1}
  products:
    - {id: p-plov, name: Plov, price: 10000, unit: piece, destination: kitchen}
setup:
  - action: open_shift
    args: {cashier: u-1}
flow:
  - action: add_item
    ref: plov
    args: {table: t-1, product: p-plov, qty: "1"}
  - action: return_item
    args: {item: plov, qty: "2"}
    expect:
      case: OVER_RETURN
assertions:
  - type: row_count
    table: item_returns
    count: 0
`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, "12.5", s.ServiceChargePercent)
	require.Len(t, s.Seed.Tables, 1)
	assert.Equal(t, "main", s.Seed.Tables[0].HallID)
	require.Len(t, s.Flow, 2)
	assert.Equal(t, "plov", s.Flow[0].Ref)
	assert.Equal(t, "OVER_RETURN", s.Flow[1].Expect.Case)
	assert.Equal(t, 0, s.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, validScenario+"\nextra: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nflow: [{action: sync}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nflow: [{action: sync}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "description is required",
		},
		{
			name:    "empty flow",
			yaml:    "name: n\ndescription: d\nflow: []\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "flow list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "negative service charge",
			yaml:    "name: n\ndescription: d\nservice_charge_percent: \"-1\"\nflow: [{action: sync}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "must not be negative",
		},
		{
			name:    "bad service charge",
			yaml:    "name: n\ndescription: d\nservice_charge_percent: ten\nflow: [{action: sync}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "service_charge_percent",
		},
		{
			name:    "unknown action",
			yaml:    "name: n\ndescription: d\nflow: [{action: refund}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: `unknown action "refund"`,
		},
		{
			name:    "expect without case",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync, expect: {result: {sent: 1}}}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "case is required",
		},
		{
			name:    "ref on wrong action",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync, ref: x}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "ref is only valid on add_item",
		},
		{
			name:    "duplicate ref",
			yaml:    "name: n\ndescription: d\nflow: [{action: add_item, ref: x}, {action: add_item, ref: x}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: `ref "x" defined twice`,
		},
		{
			name:    "setup with expect",
			yaml:    "name: n\ndescription: d\nsetup: [{action: sync, expect: {case: ok}}]\nflow: [{action: sync}]\nassertions: [{type: trace_count, action: sync, count: 1}]\n",
			wantErr: "setup steps cannot carry expect",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\nassertions: [{type: eventually}]\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "trace_order too short",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\nassertions: [{type: trace_order, actions: [sync]}]\n",
			wantErr: "at least 2 actions",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\nassertions: [{type: final_state, table: shifts}]\n",
			wantErr: "final_state requires expect",
		},
		{
			name:    "row_count without table",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\nassertions: [{type: row_count, count: 1}]\n",
			wantErr: "row_count requires table",
		},
		{
			name:    "unknown db",
			yaml:    "name: n\ndescription: d\nflow: [{action: sync}]\nassertions: [{type: row_count, db: warehouse, table: t, count: 1}]\n",
			wantErr: `unknown db "warehouse"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir_SortedByFileName(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "scenario_a_cash_settlement")
}

func TestLoadDir_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o600))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestActions_CoverTillOperations(t *testing.T) {
	got := Actions()
	for _, want := range []string{"open_shift", "close_shift", "add_item", "settle", "quote", "sync"} {
		assert.Contains(t, got, want)
	}
}
