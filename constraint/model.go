// Package constraint is the in-memory index of interference relations
// between stations.
//
// Stations are assigned dense indices in ascending id order when the model is
// built, and each relation kind is kept in flat per-index tables. Co-channel
// relations are symmetric and live once, under the smaller station. Adjacent
// relations are kept in a forward table keyed by the subject and a backward
// table keyed by the target so that both endpoints reach them directly.
package constraint

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/pkg/errors"

	"stationpacking/packing"
)

// Offset is the channel distance an interference relation spans.
type Offset int

const (
	CoChannel  Offset = 0
	AdjPlusOne Offset = 1
	AdjPlusTwo Offset = 2

	numOffsets = 3
)

func (o Offset) String() string {
	switch o {
	case CoChannel:
		return "CO"
	case AdjPlusOne:
		return "ADJ+1"
	case AdjPlusTwo:
		return "ADJ+2"
	}
	return fmt.Sprintf("Offset(%d)", int(o))
}

// ErrViolation is returned by Verify for assignments that break a relation.
var ErrViolation = errors.New("interference violated")

// Interference states that Subject on Channel forbids Target on
// Channel+Offset.
type Interference struct {
	Subject packing.Station
	Target  packing.Station
	Channel packing.Channel
	Offset  Offset
}

func (i Interference) TargetChannel() packing.Channel {
	return i.Channel + packing.Channel(i.Offset)
}

func (i Interference) String() string {
	return fmt.Sprintf("%s %d@%d -> %d@%d", i.Offset, i.Subject, i.Channel, i.Target, i.TargetChannel())
}

func (i Interference) canonical() Interference {
	if i.Offset == CoChannel && i.Target < i.Subject {
		i.Subject, i.Target = i.Target, i.Subject
	}
	return i
}

// Edge is an incident relation seen from one station: that station on Own
// conflicts with Neighbor on Other.
type Edge struct {
	Neighbor packing.Station
	Own      packing.Channel
	Other    packing.Channel
}

type table []map[packing.Channel][]int32

type Model struct {
	index     map[packing.Station]int32
	stations  []packing.Station
	fwd       [numOffsets]table
	bwd       [numOffsets]table
	neighbors [][]int32
	relations int
}

func New(relations []Interference) (*Model, error) {
	seen := make(map[Interference]struct{}, len(relations))
	var canon []Interference
	for _, r := range relations {
		if r.Subject == r.Target {
			return nil, errors.Wrapf(packing.ErrMalformed, "station %d interferes with itself", r.Subject)
		}
		if r.Offset < CoChannel || r.Offset > AdjPlusTwo {
			return nil, errors.Wrapf(packing.ErrMalformed, "relation %d -> %d has offset %d", r.Subject, r.Target, r.Offset)
		}
		r = r.canonical()
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		canon = append(canon, r)
	}
	slices.SortFunc(canon, compareInterference)

	m := &Model{index: map[packing.Station]int32{}}
	for _, r := range canon {
		m.stations = append(m.stations, r.Subject, r.Target)
	}
	slices.Sort(m.stations)
	m.stations = slices.Compact(m.stations)
	for i, s := range m.stations {
		m.index[s] = int32(i)
	}

	n := len(m.stations)
	for k := range numOffsets {
		m.fwd[k] = make(table, n)
		m.bwd[k] = make(table, n)
	}
	nbrs := make([]map[int32]struct{}, n)
	for i := range nbrs {
		nbrs[i] = map[int32]struct{}{}
	}
	for _, r := range canon {
		si, ti := m.index[r.Subject], m.index[r.Target]
		m.fwd[r.Offset].add(si, r.Channel, ti)
		m.bwd[r.Offset].add(ti, r.TargetChannel(), si)
		nbrs[si][ti] = struct{}{}
		nbrs[ti][si] = struct{}{}
	}
	m.neighbors = make([][]int32, n)
	for i, set := range nbrs {
		for j := range set {
			m.neighbors[i] = append(m.neighbors[i], j)
		}
		slices.Sort(m.neighbors[i])
	}
	m.relations = len(canon)
	return m, nil
}

func compareInterference(a, b Interference) int {
	return cmp.Or(
		cmp.Compare(a.Subject, b.Subject),
		cmp.Compare(a.Channel, b.Channel),
		cmp.Compare(a.Offset, b.Offset),
		cmp.Compare(a.Target, b.Target),
	)
}

func (t table) add(idx int32, c packing.Channel, other int32) {
	if t[idx] == nil {
		t[idx] = map[packing.Channel][]int32{}
	}
	t[idx][c] = append(t[idx][c], other)
}

func (m *Model) lookup(k Offset, s packing.Station, c packing.Channel) []int32 {
	idx, ok := m.index[s]
	if !ok {
		return nil
	}
	return m.fwd[k][idx][c]
}

func (m *Model) toStations(idxs []int32) []packing.Station {
	out := make([]packing.Station, len(idxs))
	for i, idx := range idxs {
		out[i] = m.stations[idx]
	}
	return out
}

// CoInterferers lists the stations that may not share channel c with s. The
// relation is stored under the smaller station only, so the larger endpoint
// of a pair does not list the smaller one.
func (m *Model) CoInterferers(s packing.Station, c packing.Channel) []packing.Station {
	return m.toStations(m.lookup(CoChannel, s, c))
}

// AdjInterferers lists the stations that may not sit on c+offset while s is on c.
func (m *Model) AdjInterferers(s packing.Station, c packing.Channel, offset Offset) []packing.Station {
	if offset != AdjPlusOne && offset != AdjPlusTwo {
		return nil
	}
	return m.toStations(m.lookup(offset, s, c))
}

// Stations returns every station mentioned by some relation, ascending.
func (m *Model) Stations() []packing.Station {
	return slices.Clone(m.stations)
}

func (m *Model) Relations() int {
	return m.relations
}

func (m *Model) Neighbors(s packing.Station) []packing.Station {
	idx, ok := m.index[s]
	if !ok {
		return nil
	}
	return m.toStations(m.neighbors[idx])
}

// Edges yields every relation incident to s, in both directions.
func (m *Model) Edges(s packing.Station) iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		idx, ok := m.index[s]
		if !ok {
			return
		}
		for k := range numOffsets {
			off := packing.Channel(k)
			for c, targets := range m.fwd[k][idx] {
				for _, t := range targets {
					if !yield(Edge{Neighbor: m.stations[t], Own: c, Other: c + off}) {
						return
					}
				}
			}
			for c, subjects := range m.bwd[k][idx] {
				for _, sub := range subjects {
					if !yield(Edge{Neighbor: m.stations[sub], Own: c, Other: c - off}) {
						return
					}
				}
			}
		}
	}
}

// CanAssign reports whether placing s on c conflicts with nothing already
// placed in w.
func (m *Model) CanAssign(w packing.Witness, s packing.Station, c packing.Channel) bool {
	idx, ok := m.index[s]
	if !ok {
		return true
	}
	for k := range numOffsets {
		off := packing.Channel(k)
		for _, t := range m.fwd[k][idx][c] {
			if tc, ok := w[m.stations[t]]; ok && tc == c+off {
				return false
			}
		}
		for _, sub := range m.bwd[k][idx][c] {
			if sc, ok := w[m.stations[sub]]; ok && sc == c-off {
				return false
			}
		}
	}
	return true
}

func (m *Model) IsSatisfying(a packing.Assignment) bool {
	return m.Verify(a) == nil
}

// Verify checks a whole assignment. A station listed under two channels is a
// violation on its own.
func (m *Model) Verify(a packing.Assignment) error {
	placed := map[packing.Station]packing.Channel{}
	channels := a.Channels()
	for _, c := range channels {
		for _, s := range a[c] {
			if prev, ok := placed[s]; ok {
				return errors.Wrapf(ErrViolation, "station %d assigned to both %d and %d", s, prev, c)
			}
			placed[s] = c
		}
	}
	for _, c := range channels {
		for _, s := range a[c] {
			for k := range numOffsets {
				tc := c + packing.Channel(k)
				for _, t := range m.lookup(Offset(k), s, c) {
					if pc, ok := placed[m.stations[t]]; ok && pc == tc {
						r := Interference{Subject: s, Target: m.stations[t], Channel: c, Offset: Offset(k)}
						return errors.Wrapf(ErrViolation, "%s", r)
					}
				}
			}
		}
	}
	return nil
}

// RelevantConstraints yields the relations whose two endpoints are both in
// domains with the implicated channel inside their domain, ordered by
// subject, channel, offset and target.
func (m *Model) RelevantConstraints(domains packing.Domains) iter.Seq[Interference] {
	return func(yield func(Interference) bool) {
		for _, s := range domains.Stations() {
			idx, ok := m.index[s]
			if !ok {
				continue
			}
			for _, c := range domains[s] {
				for k := range numOffsets {
					tc := c + packing.Channel(k)
					for _, t := range m.fwd[k][idx][c] {
						target := m.stations[t]
						if !domains.Allows(target, tc) {
							continue
						}
						if !yield(Interference{Subject: s, Target: target, Channel: c, Offset: Offset(k)}) {
							return
						}
					}
				}
			}
		}
	}
}
