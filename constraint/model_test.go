package constraint

import (
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stationpacking/packing"
)

func co(a, b packing.Station, c packing.Channel) Interference {
	return Interference{Subject: a, Target: b, Channel: c, Offset: CoChannel}
}

func adj(a, b packing.Station, c packing.Channel, k Offset) Interference {
	return Interference{Subject: a, Target: b, Channel: c, Offset: k}
}

func TestScenarioA(t *testing.T) {
	m, err := New([]Interference{co(1, 2, 10)})
	require.NoError(t, err)

	assert.True(t, m.IsSatisfying(packing.Assignment{10: {2, 3}, 11: {1}}))
	assert.False(t, m.IsSatisfying(packing.Assignment{10: {1, 2}, 11: {3}}))
	// the relation is restricted to channel 10
	assert.True(t, m.IsSatisfying(packing.Assignment{11: {1, 2}, 10: {3}}))
}

func TestScenarioB(t *testing.T) {
	m, err := New([]Interference{adj(1, 2, 10, AdjPlusOne)})
	require.NoError(t, err)

	assert.False(t, m.IsSatisfying(packing.Assignment{10: {1}, 11: {2}}))
	assert.True(t, m.IsSatisfying(packing.Assignment{11: {1}, 10: {2}}))
	assert.Equal(t, []packing.Station{2}, m.AdjInterferers(1, 10, AdjPlusOne))
	assert.Empty(t, m.AdjInterferers(2, 10, AdjPlusOne))
	assert.Empty(t, m.AdjInterferers(1, 10, CoChannel))
}

func TestCoChannelSymmetry(t *testing.T) {
	forward, err := New([]Interference{co(1, 2, 10)})
	require.NoError(t, err)
	backward, err := New([]Interference{co(2, 1, 10)})
	require.NoError(t, err)
	both, err := New([]Interference{co(2, 1, 10), co(1, 2, 10)})
	require.NoError(t, err)

	bad := packing.Assignment{10: {1, 2}}
	swapped := packing.Assignment{10: {2, 1}}
	for _, m := range []*Model{forward, backward, both} {
		assert.False(t, m.IsSatisfying(bad))
		assert.False(t, m.IsSatisfying(swapped))
		assert.Equal(t, 1, m.Relations())
		assert.Equal(t, []packing.Station{2}, m.CoInterferers(1, 10))
		assert.Empty(t, m.CoInterferers(2, 10))
	}
}

func TestVerifyDuplicateAssignment(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	err = m.Verify(packing.Assignment{10: {5}, 12: {5}})
	require.Error(t, err)
	assert.Equal(t, ErrViolation, errors.Cause(err))
}

func TestMissingEntriesAreEmpty(t *testing.T) {
	m, err := New([]Interference{co(1, 2, 10)})
	require.NoError(t, err)
	assert.Empty(t, m.CoInterferers(99, 10))
	assert.Empty(t, m.CoInterferers(1, 99))
	assert.Empty(t, m.Neighbors(99))
	assert.True(t, m.IsSatisfying(packing.Assignment{10: {98, 99}}))
}

func TestNewRejectsMalformed(t *testing.T) {
	for _, r := range []Interference{co(1, 1, 10), adj(1, 2, 10, 3), adj(1, 2, 10, -1)} {
		_, err := New([]Interference{r})
		require.Error(t, err)
		assert.Equal(t, packing.ErrMalformed, errors.Cause(err))
	}
}

func TestRelevantConstraints(t *testing.T) {
	m, err := New([]Interference{
		co(1, 2, 10),
		co(1, 2, 11),
		adj(2, 3, 11, AdjPlusOne),
		adj(3, 4, 12, AdjPlusTwo),
	})
	require.NoError(t, err)

	domains := packing.Domains{1: {10}, 2: {10, 11}, 3: {13}}
	got := slices.Collect(m.RelevantConstraints(domains))
	assert.Equal(t, []Interference{co(1, 2, 10)}, got)

	domains = packing.Domains{1: {10, 11}, 2: {11}, 3: {12}}
	got = slices.Collect(m.RelevantConstraints(domains))
	assert.Equal(t, []Interference{co(1, 2, 11), adj(2, 3, 11, AdjPlusOne)}, got)
}

func TestCanAssign(t *testing.T) {
	m, err := New([]Interference{co(1, 2, 10), adj(3, 1, 9, AdjPlusOne), adj(1, 4, 10, AdjPlusTwo)})
	require.NoError(t, err)

	assert.False(t, m.CanAssign(packing.Witness{2: 10}, 1, 10))
	assert.True(t, m.CanAssign(packing.Witness{2: 11}, 1, 10))
	assert.False(t, m.CanAssign(packing.Witness{1: 10}, 2, 10))
	assert.False(t, m.CanAssign(packing.Witness{3: 9}, 1, 10))
	assert.False(t, m.CanAssign(packing.Witness{4: 12}, 1, 10))
	assert.True(t, m.CanAssign(packing.Witness{4: 11}, 1, 10))
	assert.True(t, m.CanAssign(packing.Witness{}, 42, 10))
}

func TestEdgesBothDirections(t *testing.T) {
	m, err := New([]Interference{co(1, 2, 10), adj(3, 1, 9, AdjPlusOne)})
	require.NoError(t, err)

	edges := slices.Collect(m.Edges(1))
	assert.ElementsMatch(t, []Edge{
		{Neighbor: 2, Own: 10, Other: 10},
		{Neighbor: 3, Own: 10, Other: 9},
	}, edges)
	assert.ElementsMatch(t, []Edge{{Neighbor: 1, Own: 10, Other: 10}}, slices.Collect(m.Edges(2)))
	assert.Equal(t, []packing.Station{2, 3}, m.Neighbors(1))
}
