package packing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainsNormalizes(t *testing.T) {
	d := NewDomains(map[Station][]Channel{1: {11, 10, 11}, 2: {14}})
	assert.Equal(t, []Channel{10, 11}, d[1])
	assert.True(t, d.Allows(1, 10))
	assert.False(t, d.Allows(1, 12))
	assert.False(t, d.Allows(3, 10))
	assert.Equal(t, []Station{1, 2}, d.Stations())
}

func TestDomainsValidate(t *testing.T) {
	tests := []struct {
		name    string
		domains Domains
		wantErr bool
	}{
		{name: "ok", domains: Domains{1: {10}}},
		{name: "no stations", domains: Domains{}, wantErr: true},
		{name: "empty domain", domains: Domains{1: {10}, 2: nil}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.domains.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, ErrMalformed, errors.Cause(err))
		})
	}
}

func TestAssignmentWitnessRoundTrip(t *testing.T) {
	a := Assignment{10: {2, 3}, 11: {1}}
	w, err := a.Witness()
	require.NoError(t, err)
	assert.Equal(t, Witness{1: 11, 2: 10, 3: 10}, w)
	assert.Equal(t, a, w.Assignment())
}

func TestAssignmentDuplicateStation(t *testing.T) {
	_, err := Assignment{10: {1}, 11: {1}}.Witness()
	require.Error(t, err)
}

func TestWitnessMergeRejectsOverlap(t *testing.T) {
	w := Witness{1: 10}
	require.NoError(t, w.Merge(Witness{2: 11}))
	err := w.Merge(Witness{2: 12})
	require.Error(t, err)
	assert.Equal(t, ErrInconsistent, errors.Cause(err))
}

func TestWitnessFits(t *testing.T) {
	d := Domains{1: {10, 11}, 2: {10}}
	assert.True(t, Witness{1: 11, 2: 10}.Fits(d))
	assert.False(t, Witness{1: 11}.Fits(d))
	assert.False(t, Witness{1: 11, 2: 11}.Fits(d))
}

func TestDomainsCovers(t *testing.T) {
	d := Domains{1: {10, 11, 12}}
	assert.True(t, d.Covers(1, []Channel{10, 12}))
	assert.False(t, d.Covers(1, []Channel{10, 13}))
}
