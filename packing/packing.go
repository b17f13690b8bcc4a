// Package packing holds the data model shared by the station packing pipeline.
package packing

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	// ErrMalformed marks input that can never be solved as given: empty
	// domains, self-interference, unknown offsets.
	ErrMalformed = errors.New("malformed input")

	// ErrInconsistent marks an internal invariant failure. A pipeline that
	// returns it has a bug; the result must not be trusted.
	ErrInconsistent = errors.New("internal inconsistency")
)

type Station int

type Channel int

// Domains maps each station to the sorted, duplicate-free channels it may use.
type Domains map[Station][]Channel

func NewDomains(m map[Station][]Channel) Domains {
	d := make(Domains, len(m))
	for s, chans := range m {
		d[s] = normalizeChannels(chans)
	}
	return d
}

func normalizeChannels(chans []Channel) []Channel {
	out := slices.Clone(chans)
	slices.Sort(out)
	return slices.Compact(out)
}

func (d Domains) Validate() error {
	if len(d) == 0 {
		return errors.Wrap(ErrMalformed, "no stations")
	}
	for _, s := range d.Stations() {
		if len(d[s]) == 0 {
			return errors.Wrapf(ErrMalformed, "station %d has an empty domain", s)
		}
	}
	return nil
}

// Stations returns the domain keys in ascending order.
func (d Domains) Stations() []Station {
	stations := lo.Keys(d)
	slices.Sort(stations)
	return stations
}

func (d Domains) Allows(s Station, c Channel) bool {
	_, ok := slices.BinarySearch(d[s], c)
	return ok
}

// Restrict returns the domains of the listed stations only.
func (d Domains) Restrict(stations []Station) Domains {
	out := make(Domains, len(stations))
	for _, s := range stations {
		if chans, ok := d[s]; ok {
			out[s] = chans
		}
	}
	return out
}

func (d Domains) Without(removed []Station) Domains {
	out := maps.Clone(d)
	for _, s := range removed {
		delete(out, s)
	}
	return out
}

// Covers reports whether every channel of o[s] is also in d[s].
func (d Domains) Covers(s Station, o []Channel) bool {
	for _, c := range o {
		if !d.Allows(s, c) {
			return false
		}
	}
	return true
}

// Assignment lists the stations placed on each channel.
type Assignment map[Channel][]Station

// Witness is the station to channel form of an assignment.
type Witness map[Station]Channel

// Witness inverts the assignment. A station listed under two channels is an
// error.
func (a Assignment) Witness() (Witness, error) {
	w := Witness{}
	for _, c := range a.Channels() {
		for _, s := range a[c] {
			if prev, ok := w[s]; ok {
				return nil, errors.Errorf("station %d assigned to both %d and %d", s, prev, c)
			}
			w[s] = c
		}
	}
	return w, nil
}

func (a Assignment) Channels() []Channel {
	chans := lo.Keys(a)
	slices.Sort(chans)
	return chans
}

func (w Witness) Assignment() Assignment {
	a := Assignment{}
	for s, c := range w {
		a[c] = append(a[c], s)
	}
	for _, stations := range a {
		slices.Sort(stations)
	}
	return a
}

func (w Witness) Stations() []Station {
	stations := lo.Keys(w)
	slices.Sort(stations)
	return stations
}

func (w Witness) Restrict(stations []Station) Witness {
	out := make(Witness, len(stations))
	for _, s := range stations {
		if c, ok := w[s]; ok {
			out[s] = c
		}
	}
	return out
}

// Merge copies o into w. The key sets must be disjoint.
func (w Witness) Merge(o Witness) error {
	for s, c := range o {
		if prev, ok := w[s]; ok {
			return errors.Wrapf(ErrInconsistent, "station %d merged twice (%d, %d)", s, prev, c)
		}
		w[s] = c
	}
	return nil
}

// Fits reports whether w assigns exactly the stations of d, each inside its domain.
func (w Witness) Fits(d Domains) bool {
	if len(w) != len(d) {
		return false
	}
	for s, c := range w {
		if !d.Allows(s, c) {
			return false
		}
	}
	return true
}

type Result int

const (
	Unknown Result = iota
	SAT
	UNSAT
	Timeout
	Crashed
)

func (r Result) String() string {
	switch r {
	case SAT:
		return "SAT"
	case UNSAT:
		return "UNSAT"
	case Timeout:
		return "TIMEOUT"
	case Crashed:
		return "CRASHED"
	}
	return "UNKNOWN"
}

// Conclusive reports whether r is a proof either way and may be cached.
func (r Result) Conclusive() bool {
	return r == SAT || r == UNSAT
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
