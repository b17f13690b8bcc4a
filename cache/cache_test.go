package cache

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stationpacking/constraint"
	"stationpacking/internal/packingtest"
	"stationpacking/packing"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func co(a, b packing.Station, c packing.Channel) constraint.Interference {
	return constraint.Interference{Subject: a, Target: b, Channel: c, Offset: constraint.CoChannel}
}

func stationRange(lo, hi int) []packing.Station {
	var out []packing.Station
	for s := lo; s <= hi; s++ {
		out = append(out, packing.Station(s))
	}
	return out
}

func newCache(t *testing.T, relations []constraint.Interference, stations []packing.Station, options ...Option) *Cache {
	m, err := constraint.New(relations)
	require.NoError(t, err)
	u := NewUniverse(stations)
	c, err := New(m, u, RandomPermutations(u.Size(), 4, 1), nil, nil, append([]Option{WithLogger(quietLogger())}, options...)...)
	require.NoError(t, err)
	return c
}

func TestSATBySuperset(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, []constraint.Interference{co(5, 9, 11), co(5, 42, 12)}, stationRange(1, 10))
	_, err := c.AddSAT(ctx, packing.Witness{5: 10, 9: 10, 7: 11})
	require.NoError(t, err)

	w, ok := c.ProveSATBySuperset(packing.Domains{5: {10, 12}, 9: {9, 10}})
	require.True(t, ok)
	assert.Equal(t, packing.Witness{5: 10, 9: 10}, w)

	_, ok = c.ProveSATBySuperset(packing.Domains{5: {10}, 9: {10}, 7: {11}})
	assert.True(t, ok, "exact match")

	_, ok = c.ProveSATBySuperset(packing.Domains{5: {12}, 9: {10}})
	assert.False(t, ok, "witness channel outside query domain")

	_, ok = c.ProveSATBySuperset(packing.Domains{5: {10}, 6: {10}})
	assert.False(t, ok, "query not covered")

	_, ok = c.ProveSATBySuperset(packing.Domains{5: {10}, 42: {10}})
	assert.False(t, ok, "constrained station outside universe")

	w, ok = c.ProveSATBySuperset(packing.Domains{5: {10}, 50: {14, 13}})
	require.True(t, ok, "unconstrained station outside universe")
	assert.Equal(t, packing.Witness{5: 10, 50: 13}, w)
}

func TestUNSATBySubset(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, []constraint.Interference{co(1, 2, 10)}, stationRange(1, 5))
	_, err := c.AddUNSAT(ctx, packing.Domains{1: {10}, 2: {10, 11}})
	require.NoError(t, err)

	e, ok := c.ProveUNSATBySubset(packing.Domains{1: {10}, 2: {11}, 3: {10, 11}})
	require.True(t, ok)
	assert.Equal(t, []packing.Station{1, 2}, e.Stations())

	_, ok = c.ProveUNSATBySubset(packing.Domains{1: {10}, 2: {10, 11}})
	assert.True(t, ok, "exact match")

	_, ok = c.ProveUNSATBySubset(packing.Domains{1: {10, 11}, 2: {10}, 3: {10}})
	assert.False(t, ok, "query domain wider than the recorded one")

	_, ok = c.ProveUNSATBySubset(packing.Domains{1: {10}})
	assert.False(t, ok, "entry not contained in query")
}

func TestAddRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, []constraint.Interference{co(1, 2, 10), co(2, 7, 10)}, stationRange(1, 3))

	_, err := c.AddSAT(ctx, packing.Witness{1: 10, 2: 10})
	assert.ErrorIs(t, err, constraint.ErrViolation)

	_, err = c.AddSAT(ctx, packing.Witness{8: 11})
	assert.ErrorIs(t, err, ErrUnknownStation)

	_, err = c.AddUNSAT(ctx, packing.Domains{1: {10}, 2: {10}, 7: {10}})
	assert.ErrorIs(t, err, ErrUnknownStation)

	_, err = c.AddUNSAT(ctx, packing.Domains{1: {}})
	assert.ErrorIs(t, err, packing.ErrMalformed)

	assert.Equal(t, Stats{}, c.Stats())
}

func TestAddTrimsStationsOutsideUniverse(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, []constraint.Interference{co(1, 2, 10), co(2, 7, 10)}, stationRange(1, 3))

	e, err := c.AddSAT(ctx, packing.Witness{1: 10, 7: 11})
	require.NoError(t, err)
	assert.Equal(t, packing.Witness{1: 10}, e.Witness)

	u, err := c.AddUNSAT(ctx, packing.Domains{1: {10}, 2: {10}, 9: {10}})
	require.NoError(t, err)
	assert.Equal(t, []packing.Station{1, 2}, u.Stations())

	_, ok := c.ProveUNSATBySubset(packing.Domains{1: {10}, 2: {10}, 7: {10, 11}})
	assert.True(t, ok, "stations outside the universe are ignored by subset queries")
	assert.Equal(t, Stats{SAT: 1, UNSAT: 1}, c.Stats())
}

func TestNewSkipsInvalidEntries(t *testing.T) {
	m, err := constraint.New([]constraint.Interference{co(1, 2, 10)})
	require.NoError(t, err)
	u := NewUniverse(stationRange(1, 3))
	sat := []*SATEntry{
		{ID: "good", Witness: packing.Witness{1: 10, 2: 11}},
		{ID: "bad", Witness: packing.Witness{1: 10, 2: 10}},
	}
	unsat := []*UNSATEntry{{ID: "foreign", Domains: packing.Domains{9: {10}}}}
	c, err := New(m, u, RandomPermutations(3, 2, 1), sat, unsat, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, Stats{SAT: 1}, c.Stats())

	_, err = New(m, u, RandomPermutations(4, 2, 1), nil, nil)
	assert.Error(t, err)
}

// scanSAT and scanUNSAT are linear references for the indexed lookups.
func scanSAT(entries []*SATEntry, domains packing.Domains) bool {
	for _, e := range entries {
		if _, ok := satMatch(e, domains.Stations(), domains); ok {
			return true
		}
	}
	return false
}

func scanUNSAT(entries []*UNSATEntry, domains packing.Domains) bool {
	for _, e := range entries {
		contained := true
		for s := range e.Domains {
			if _, ok := domains[s]; !ok {
				contained = false
				break
			}
		}
		if contained && unsatMatch(e, domains) {
			return true
		}
	}
	return false
}

func randomSubproblem(rng *rand.Rand, d packing.Domains) packing.Domains {
	out := packing.Domains{}
	for _, s := range d.Stations() {
		if rng.Intn(2) == 0 {
			continue
		}
		var chans []packing.Channel
		for _, c := range d[s] {
			if rng.Intn(4) > 0 {
				chans = append(chans, c)
			}
		}
		if len(chans) == 0 {
			chans = append(chans, d[s][0])
		}
		out[s] = chans
	}
	if len(out) == 0 {
		s := d.Stations()[0]
		out[s] = d[s]
	}
	return out
}

func TestLookupsAgreeWithLinearScan(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	for range 20 {
		inst := packingtest.Random(rng, 9, 4, 18)
		c := newCache(t, inst.Relations, inst.Domains.Stations())
		m := c.model

		var sat []*SATEntry
		var unsat []*UNSATEntry
		for range 30 {
			sub := randomSubproblem(rng, inst.Domains)
			if w, ok := packingtest.Solve(m, sub); ok {
				e, err := c.AddSAT(ctx, w)
				require.NoError(t, err)
				sat = append(sat, e)
			} else {
				e, err := c.AddUNSAT(ctx, sub)
				require.NoError(t, err)
				unsat = append(unsat, e)
			}
		}
		require.Equal(t, Stats{SAT: len(sat), UNSAT: len(unsat)}, c.Stats())

		for range 60 {
			q := randomSubproblem(rng, inst.Domains)
			_, feasible := packingtest.Solve(m, q)

			w, ok := c.ProveSATBySuperset(q)
			require.Equal(t, scanSAT(sat, q), ok, "SAT lookup for %v", q)
			if ok {
				require.True(t, feasible)
				require.True(t, w.Fits(q))
				require.NoError(t, m.Verify(w.Assignment()))
			}

			_, ok = c.ProveUNSATBySubset(q)
			require.Equal(t, scanUNSAT(unsat, q), ok, "UNSAT lookup for %v", q)
			if ok {
				require.False(t, feasible)
			}
		}
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, nil, stationRange(1, 64))

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 50 {
				s := packing.Station(1 + (g*50+i)%64)
				_, err := c.AddSAT(ctx, packing.Witness{s: 20})
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := range 200 {
				s := packing.Station(1 + i%64)
				if w, ok := c.ProveSATBySuperset(packing.Domains{s: {20}}); ok {
					assert.Equal(t, packing.Witness{s: 20}, w)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, c.Stats().SAT)
	for s := 1; s <= 64; s++ {
		_, ok := c.ProveSATBySuperset(packing.Domains{packing.Station(s): {20}})
		assert.True(t, ok, "station %d", s)
	}
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Load(context.Context) ([]*SATEntry, []*UNSATEntry, error) {
	return nil, nil, errStoreDown
}

func (failingStore) AppendSAT(context.Context, *SATEntry) error { return errStoreDown }

func (failingStore) AppendUNSAT(context.Context, *UNSATEntry) error { return errStoreDown }

func TestFailingStoreDegrades(t *testing.T) {
	ctx := context.Background()
	m, err := constraint.New(nil)
	require.NoError(t, err)
	u := NewUniverse(stationRange(1, 3))

	c, err := Open(ctx, m, u, RandomPermutations(3, 2, 1), failingStore{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, c.Stats())

	_, err = c.AddSAT(ctx, packing.Witness{1: 10})
	require.NoError(t, err)
	_, ok := c.ProveSATBySuperset(packing.Domains{1: {10}})
	assert.True(t, ok)
}

func TestMemoryStoreReload(t *testing.T) {
	ctx := context.Background()
	m, err := constraint.New([]constraint.Interference{co(1, 2, 10)})
	require.NoError(t, err)
	u := NewUniverse(stationRange(1, 3))
	store := &MemoryStore{}

	first, err := Open(ctx, m, u, RandomPermutations(3, 3, 5), store, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = first.AddSAT(ctx, packing.Witness{1: 10, 2: 11})
	require.NoError(t, err)
	_, err = first.AddUNSAT(ctx, packing.Domains{1: {10}, 2: {10}})
	require.NoError(t, err)

	second, err := Open(ctx, m, u, RandomPermutations(3, 3, 6), store, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, Stats{SAT: 1, UNSAT: 1}, second.Stats())
	_, ok := second.ProveSATBySuperset(packing.Domains{2: {11}})
	assert.True(t, ok)
	_, ok = second.ProveUNSATBySubset(packing.Domains{1: {10}, 2: {10}, 3: {10}})
	assert.True(t, ok)
}
