package oracle

import (
	"math/rand"

	"github.com/pkg/errors"

	"stationpacking/constraint"
	"stationpacking/packing"
)

type placement struct {
	station packing.Station
	channel packing.Channel
}

// CNF is a clause set over one boolean per (station, domain channel) pair.
// Literals use DIMACS numbering: variable i is Vars[i-1], negative means
// negated.
type CNF struct {
	Clauses [][]int

	vars     []placement
	index    map[placement]int
	stations []packing.Station
	domains  packing.Domains
}

// Encode builds the feasibility formula for domains under m: every station
// takes at least one and at most one of its channels, and every relevant
// interference relation forbids its channel pair. seed shuffles the order in
// which stations are numbered.
func Encode(m *constraint.Model, domains packing.Domains, seed int64) *CNF {
	stations := domains.Stations()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(stations), func(i, j int) { stations[i], stations[j] = stations[j], stations[i] })

	f := &CNF{index: map[placement]int{}, stations: stations, domains: domains}
	for _, s := range stations {
		lits := make([]int, 0, len(domains[s]))
		for _, c := range domains[s] {
			p := placement{s, c}
			f.vars = append(f.vars, p)
			f.index[p] = len(f.vars)
			lits = append(lits, len(f.vars))
		}
		f.Clauses = append(f.Clauses, lits)
		for i := range lits {
			for j := i + 1; j < len(lits); j++ {
				f.Clauses = append(f.Clauses, []int{-lits[i], -lits[j]})
			}
		}
	}
	for r := range m.RelevantConstraints(domains) {
		a := f.index[placement{r.Subject, r.Channel}]
		b := f.index[placement{r.Target, r.TargetChannel()}]
		f.Clauses = append(f.Clauses, []int{-a, -b})
	}
	return f
}

func (f *CNF) NumVars() int {
	return len(f.vars)
}

// Lit returns the positive literal for s on c.
func (f *CNF) Lit(s packing.Station, c packing.Channel) (int, bool) {
	v, ok := f.index[placement{s, c}]
	return v, ok
}

// Hint returns the positive literals of the stations w places inside their
// domain.
func (f *CNF) Hint(w packing.Witness) []int {
	var lits []int
	for _, s := range f.stations {
		c, ok := w[s]
		if !ok {
			continue
		}
		if v, ok := f.Lit(s, c); ok {
			lits = append(lits, v)
		}
	}
	return lits
}

// Decode reads a witness off a model. value reports the truth of a variable.
func (f *CNF) Decode(value func(v int) bool) (packing.Witness, error) {
	w := packing.Witness{}
	for _, s := range f.stations {
		for _, c := range f.domains[s] {
			if value(f.index[placement{s, c}]) {
				w[s] = c
				break
			}
		}
		if _, ok := w[s]; !ok {
			return nil, errors.Wrapf(packing.ErrInconsistent, "model places no channel for station %d", s)
		}
	}
	return w, nil
}
