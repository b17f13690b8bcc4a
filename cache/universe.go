package cache

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"stationpacking/packing"
)

// ErrUnknownStation is returned for stations outside the universe. Queries
// treat it as a miss.
var ErrUnknownStation = errors.New("station outside cache universe")

// Universe is the fixed station set bit vectors are indexed over.
type Universe struct {
	index    map[packing.Station]uint
	stations []packing.Station
}

func NewUniverse(stations []packing.Station) *Universe {
	sorted := slices.Clone(stations)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	u := &Universe{index: make(map[packing.Station]uint, len(sorted)), stations: sorted}
	for i, s := range sorted {
		u.index[s] = uint(i)
	}
	return u
}

func (u *Universe) Size() int {
	return len(u.stations)
}

func (u *Universe) Has(s packing.Station) bool {
	_, ok := u.index[s]
	return ok
}

func (u *Universe) Vector(stations []packing.Station) (BitVector, error) {
	bits := bitset.New(uint(len(u.stations)))
	for _, s := range stations {
		i, ok := u.index[s]
		if !ok {
			return BitVector{}, errors.Wrapf(ErrUnknownStation, "station %d", s)
		}
		bits.Set(i)
	}
	return BitVector{bits: bits}, nil
}

func (u *Universe) Stations(v BitVector) []packing.Station {
	var out []packing.Station
	for i, ok := v.bits.NextSet(0); ok; i, ok = v.bits.NextSet(i + 1) {
		out = append(out, u.stations[i])
	}
	return out
}

// BitVector is a station set over a Universe.
type BitVector struct {
	bits *bitset.BitSet
}

// Contains reports whether every station of o is in v.
func (v BitVector) Contains(o BitVector) bool {
	return v.bits.IsSuperSet(o.bits)
}

func (v BitVector) Equal(o BitVector) bool {
	return v.bits.Equal(o.bits)
}

func (v BitVector) Count() int {
	return int(v.bits.Count())
}

func (v BitVector) String() string {
	return v.bits.String()
}
