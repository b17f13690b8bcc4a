package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenThenRun(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, gen(&out, genOptions{dir: dir, stations: 8, width: 3, relations: 14, count: 3, seed: 4}))
	assert.Contains(t, out.String(), "wrote 3 instances")

	instances, err := filepath.Glob(filepath.Join(dir, "instance-*.json"))
	require.NoError(t, err)
	require.Len(t, instances, 3)

	out.Reset()
	err = run(context.Background(), &out, runOptions{
		interference: filepath.Join(dir, "interference.json"),
		runs:         2,
		oracles:      []string{"gini", "gophersat"},
		bounds:       []string{"none", "exact"},
		budget:       5 * time.Second,
		parallel:     2,
		shareCache:   true,
	}, instances)
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "--- oracle=gini bound=none cache=true ---")
	assert.Contains(t, out.String(), "--- oracle=gophersat bound=exact cache=true ---")
	assert.NotContains(t, out.String(), "DISAGREEMENT")
}
