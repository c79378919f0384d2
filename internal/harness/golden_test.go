package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_JSONLines(t *testing.T) {
	r := NewResult()
	r.AddInvocationTrace("settle", map[string]interface{}{"table": "t-1", "amount": 5}, 1)
	r.AddCompletionTrace("settle", "AMOUNT_MISMATCH", map[string]interface{}{"remainder": "1"}, 2)
	r.AddInvocationTrace("sync", nil, 3)

	got, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"invocation","action":"settle","args":{"amount":5,"table":"t-1"},"seq":1}`+"\n"+
			`{"type":"completion","action":"settle","case":"AMOUNT_MISMATCH","result":{"remainder":"1"},"seq":2}`+"\n"+
			`{"type":"invocation","action":"sync","seq":3}`+"\n",
		string(got))
}

func TestSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/scenario_b_discount_split_tender.yaml")
	require.NoError(t, err)

	first, err := RunWithGolden(t, s, WithDir(t.TempDir()))
	require.NoError(t, err)
	second, err := RunWithGolden(t, s, WithDir(t.TempDir()))
	require.NoError(t, err)

	a, err := Snapshot(first)
	require.NoError(t, err)
	b, err := Snapshot(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshot_Empty(t *testing.T) {
	got, err := Snapshot(NewResult())
	require.NoError(t, err)
	assert.Empty(t, got)
}
