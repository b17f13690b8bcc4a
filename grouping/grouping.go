// Package grouping splits a packing instance into independent connected
// components.
package grouping

import (
	"cmp"
	"slices"

	"stationpacking/constraint"
	"stationpacking/packing"
)

// Components partitions the stations of domains into connected components of
// the graph whose edges are the relevant constraints under domains. Stations
// within a component are ascending and components are ordered by their
// smallest station, so equal domain maps give equal partitions.
func Components(m *constraint.Model, domains packing.Domains) [][]packing.Station {
	stations := domains.Stations()
	idx := make(map[packing.Station]int, len(stations))
	for i, s := range stations {
		idx[s] = i
	}

	uf := make([]int, len(stations))
	for i := range uf {
		uf[i] = i
	}
	var ufFind func(int) int
	ufFind = func(x int) int {
		if uf[x] != x {
			uf[x] = ufFind(uf[x])
		}
		return uf[x]
	}
	for r := range m.RelevantConstraints(domains) {
		ra, rb := ufFind(idx[r.Subject]), ufFind(idx[r.Target])
		if ra == rb {
			continue
		}
		// smaller root wins so the root is the smallest member
		if ra < rb {
			uf[rb] = ra
		} else {
			uf[ra] = rb
		}
	}

	groups := map[int][]packing.Station{}
	var roots []int
	for i, s := range stations {
		root := ufFind(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], s)
	}
	out := make([][]packing.Station, len(roots))
	for i, root := range roots {
		out[i] = groups[root]
	}
	return out
}

// BySize orders components smallest first, ties broken by smallest station.
func BySize(components [][]packing.Station) [][]packing.Station {
	out := slices.Clone(components)
	slices.SortStableFunc(out, func(a, b []packing.Station) int {
		return cmp.Or(cmp.Compare(len(a), len(b)), cmp.Compare(a[0], b[0]))
	})
	return out
}

// Split projects domains onto each component.
func Split(domains packing.Domains, components [][]packing.Station) []packing.Domains {
	out := make([]packing.Domains, len(components))
	for i, c := range components {
		out[i] = domains.Restrict(c)
	}
	return out
}
