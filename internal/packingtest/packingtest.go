// Package packingtest provides random instances and a brute-force reference
// solver for tests.
package packingtest

import (
	"math/rand"

	"stationpacking/constraint"
	"stationpacking/packing"
)

type Instance struct {
	Relations []constraint.Interference
	Domains   packing.Domains
}

// Random builds an instance over stations 1..n with channels drawn from
// [base, base+width).
func Random(rng *rand.Rand, n, width, relations int) Instance {
	const base = 14
	inst := Instance{Domains: packing.Domains{}}
	for s := 1; s <= n; s++ {
		var chans []packing.Channel
		for c := range width {
			if rng.Intn(3) > 0 {
				chans = append(chans, packing.Channel(base+c))
			}
		}
		if len(chans) == 0 {
			chans = append(chans, packing.Channel(base+rng.Intn(width)))
		}
		inst.Domains[packing.Station(s)] = chans
	}
	for range relations {
		a := packing.Station(1 + rng.Intn(n))
		b := packing.Station(1 + rng.Intn(n))
		if a == b {
			continue
		}
		inst.Relations = append(inst.Relations, constraint.Interference{
			Subject: a,
			Target:  b,
			Channel: packing.Channel(base + rng.Intn(width)),
			Offset:  constraint.Offset(rng.Intn(3)),
		})
	}
	return inst
}

// Solve decides domains by exhaustive backtracking.
func Solve(m *constraint.Model, domains packing.Domains) (packing.Witness, bool) {
	stations := domains.Stations()
	w := packing.Witness{}
	var place func(i int) bool
	place = func(i int) bool {
		if i == len(stations) {
			return true
		}
		s := stations[i]
		for _, c := range domains[s] {
			if !m.CanAssign(w, s, c) {
				continue
			}
			w[s] = c
			if place(i + 1) {
				return true
			}
			delete(w, s)
		}
		return false
	}
	if !place(0) {
		return nil, false
	}
	return w, true
}
