package oracle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/oracle/oracletest"
)

func TestRouted(t *testing.T) {
	ctx := context.Background()
	reply := func(s string) func(*oracle.Request) (*oracle.Text, error) {
		return func(*oracle.Request) (*oracle.Text, error) { return &oracle.Text{Content: s}, nil }
	}
	base := &oracletest.Scripted{RefineFunc: reply("base"), ClassifyFunc: reply("flowchart")}
	refiner := &oracletest.Scripted{RefineFunc: reply("refined")}

	r := &oracle.Routed{Default: base, Refiner: refiner}

	txt, err := r.Refine(ctx, &oracle.Request{})
	require.NoError(t, err)
	assert.Equal(t, "refined", txt.Content)

	txt, err = r.Classify(ctx, &oracle.Request{})
	require.NoError(t, err)
	assert.Equal(t, "flowchart", txt.Content)

	_, err = r.FindInitialFocus(ctx, &oracle.Request{})
	require.NoError(t, err)

	assert.Equal(t, 0, base.Calls(oracle.OpRefine))
	assert.Equal(t, 1, refiner.Calls(oracle.OpRefine))
	assert.Equal(t, 1, base.Calls(oracle.OpClassify))
	assert.Equal(t, 1, base.Calls(oracle.OpInitialFocus))
}
