// Package underconstrained finds stations that can always be packed no
// matter where their neighbours land, so they can be left out of the hard
// core of an instance and put back afterwards with a linear scan.
package underconstrained

import (
	"context"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"stationpacking/constraint"
	"stationpacking/packing"
)

// Blocker describes what one neighbour can take away from a station: for each
// channel the neighbour may occupy, the station's channels it would rule out.
type Blocker struct {
	Neighbor packing.Station
	Blocks   map[packing.Channel][]packing.Channel
}

// A Bound is a test run after the blocked-set test fails. It must only
// answer true when every joint placement of the blockers leaves some channel
// of domain free.
type Bound interface {
	Name() string
	Underconstrained(domain []packing.Channel, blockers []Blocker) bool
}

type Finder struct {
	model  *constraint.Model
	bounds []Bound
	log    logrus.FieldLogger
}

func NewFinder(m *constraint.Model, log logrus.FieldLogger, bounds ...Bound) *Finder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Finder{model: m, bounds: bounds, log: log.WithField("component", "underconstrained")}
}

// Find returns the removable stations of domains in removal order. Each round
// only revisits the neighbours of what the previous round removed. When ctx
// ends between rounds, the stations found so far are returned with ctx's
// error; they are still safe to remove.
func (f *Finder) Find(ctx context.Context, domains packing.Domains) ([]packing.Station, error) {
	working := maps.Clone(domains)
	candidates := domains.Stations()
	var removed []packing.Station
	for round := 1; len(candidates) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		var found []packing.Station
		for _, s := range candidates {
			if _, ok := working[s]; !ok {
				continue
			}
			if f.Underconstrained(s, working) {
				found = append(found, s)
			}
		}
		if len(found) == 0 {
			break
		}
		for _, s := range found {
			delete(working, s)
		}
		removed = append(removed, found...)

		next := map[packing.Station]struct{}{}
		for _, s := range found {
			for _, n := range f.model.Neighbors(s) {
				if _, ok := working[n]; ok {
					next[n] = struct{}{}
				}
			}
		}
		candidates = lo.Keys(next)
		slices.Sort(candidates)
		f.log.WithFields(logrus.Fields{
			"round":   round,
			"removed": len(found),
			"recheck": len(candidates),
		}).Debug("underconstrained round")
	}
	return removed, nil
}

// Underconstrained runs the blocked-set test on s against domains and then
// each configured bound.
func (f *Finder) Underconstrained(s packing.Station, domains packing.Domains) bool {
	domain := domains[s]
	blockers := f.Blockers(s, domains)
	if len(blockers) == 0 {
		return true
	}
	blocked := map[packing.Channel]struct{}{}
	for _, b := range blockers {
		for _, own := range b.Blocks {
			for _, c := range own {
				blocked[c] = struct{}{}
			}
		}
	}
	if len(blocked) < len(domain) {
		return true
	}
	for _, b := range f.bounds {
		if b.Underconstrained(domain, blockers) {
			f.log.WithFields(logrus.Fields{"station": s, "bound": b.Name()}).Debug("freed by bound")
			return true
		}
	}
	return false
}

// Blockers lists, per neighbour of s present in domains, which channels of s
// each of the neighbour's domain channels would rule out.
func (f *Finder) Blockers(s packing.Station, domains packing.Domains) []Blocker {
	byNeighbor := map[packing.Station]map[packing.Channel][]packing.Channel{}
	for e := range f.model.Edges(s) {
		if !domains.Allows(s, e.Own) || !domains.Allows(e.Neighbor, e.Other) {
			continue
		}
		blocks, ok := byNeighbor[e.Neighbor]
		if !ok {
			blocks = map[packing.Channel][]packing.Channel{}
			byNeighbor[e.Neighbor] = blocks
		}
		blocks[e.Other] = append(blocks[e.Other], e.Own)
	}
	out := make([]Blocker, 0, len(byNeighbor))
	for n, blocks := range byNeighbor {
		for c, own := range blocks {
			slices.Sort(own)
			blocks[c] = slices.Compact(own)
		}
		out = append(out, Blocker{Neighbor: n, Blocks: blocks})
	}
	slices.SortFunc(out, func(a, b Blocker) int { return int(a.Neighbor) - int(b.Neighbor) })
	return out
}

// Reinsert places the removed stations into w, latest removal first, each on
// the first channel of its domain that conflicts with nothing placed. A
// station with no such channel means the removal was unsound.
func Reinsert(m *constraint.Model, w packing.Witness, removed []packing.Station, domains packing.Domains) error {
	for i := len(removed) - 1; i >= 0; i-- {
		s := removed[i]
		placed := false
		for _, c := range domains[s] {
			if m.CanAssign(w, s, c) {
				w[s] = c
				placed = true
				break
			}
		}
		if !placed {
			return errors.Wrapf(packing.ErrInconsistent, "no free channel to reinsert underconstrained station %d", s)
		}
	}
	return nil
}
