// Package cache stores proven SAT and UNSAT sub-problems and answers
// superset/subset containment queries against them.
//
// Every entry is keyed by the bit vector of its station set. For each of K
// fixed permutations the entries are kept sorted under the order that
// permutation induces on bit vectors. A superset of a query ranks at or above
// the query under every such order, so a binary search per permutation bounds
// the candidates from below without ever dropping a true superset; the
// permutation leaving the fewest candidates is scanned exactly. Subset
// queries mirror this.
//
// Writers publish a fresh sorted snapshot; readers never lock.
package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stationpacking/constraint"
	"stationpacking/packing"
)

// SATEntry records a witness. Its station set is the witness key set.
type SATEntry struct {
	ID      string
	Witness packing.Witness
	key     BitVector
}

// UNSATEntry records the domains under which its stations were proven
// infeasible. Its station set is the domain key set.
type UNSATEntry struct {
	ID      string
	Domains packing.Domains
	key     BitVector
}

type snapshot struct {
	sat   [][]*SATEntry
	unsat [][]*UNSATEntry
}

type Cache struct {
	model    *constraint.Model
	universe *Universe
	perms    *Permutations
	store    Store
	log      logrus.FieldLogger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type Option func(c *Cache)

// WithStore persists every added entry to s.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New builds a cache over the given entries. Entries that break their
// invariants are skipped and logged.
func New(m *constraint.Model, u *Universe, p *Permutations, sat []*SATEntry, unsat []*UNSATEntry, options ...Option) (*Cache, error) {
	if p.Size() != u.Size() {
		return nil, errors.Errorf("permutations span %d positions, universe has %d stations", p.Size(), u.Size())
	}
	c := &Cache{model: m, universe: u, perms: p, log: logrus.StandardLogger()}
	for _, o := range options {
		o(c)
	}
	c.log = c.log.WithField("component", "cache")

	var goodSAT []*SATEntry
	for _, e := range sat {
		if err := c.prepareSAT(e); err != nil {
			c.log.WithError(err).WithField("id", e.ID).Warn("skipping invalid SAT entry")
			continue
		}
		goodSAT = append(goodSAT, e)
	}
	var goodUNSAT []*UNSATEntry
	for _, e := range unsat {
		if err := c.prepareUNSAT(e); err != nil {
			c.log.WithError(err).WithField("id", e.ID).Warn("skipping invalid UNSAT entry")
			continue
		}
		goodUNSAT = append(goodUNSAT, e)
	}

	snap := &snapshot{
		sat:   make([][]*SATEntry, p.Len()),
		unsat: make([][]*UNSATEntry, p.Len()),
	}
	for k := range p.Len() {
		snap.sat[k] = slices.Clone(goodSAT)
		slices.SortStableFunc(snap.sat[k], func(a, b *SATEntry) int { return p.compare(k, a.key, b.key) })
		snap.unsat[k] = slices.Clone(goodUNSAT)
		slices.SortStableFunc(snap.unsat[k], func(a, b *UNSATEntry) int { return p.compare(k, a.key, b.key) })
	}
	c.snap.Store(snap)
	return c, nil
}

// Open loads the entries of store. An unreachable store yields an empty cache
// that still writes through to it.
func Open(ctx context.Context, m *constraint.Model, u *Universe, p *Permutations, store Store, options ...Option) (*Cache, error) {
	options = append([]Option{WithStore(store)}, options...)
	sat, unsat, err := store.Load(ctx)
	if err != nil {
		c, nerr := New(m, u, p, nil, nil, options...)
		if nerr != nil {
			return nil, nerr
		}
		c.log.WithError(err).Warn("cache store unavailable, starting empty")
		return c, nil
	}
	return New(m, u, p, sat, unsat, options...)
}

// prepareSAT drops witness stations outside the universe; what remains is
// still a valid witness.
func (c *Cache) prepareSAT(e *SATEntry) error {
	if err := c.model.Verify(e.Witness.Assignment()); err != nil {
		return err
	}
	known, _ := c.split(e.Witness.Stations())
	e.Witness = e.Witness.Restrict(known)
	if len(e.Witness) == 0 {
		return errors.Wrap(ErrUnknownStation, "no witness station inside the universe")
	}
	key, err := c.universe.Vector(known)
	if err != nil {
		return err
	}
	e.key = key
	return nil
}

// prepareUNSAT drops unconstrained stations outside the universe. Any other
// station outside it makes the entry unstorable.
func (c *Cache) prepareUNSAT(e *UNSATEntry) error {
	if err := e.Domains.Validate(); err != nil {
		return err
	}
	known, outside := c.split(e.Domains.Stations())
	for _, s := range outside {
		if len(c.model.Neighbors(s)) > 0 {
			return errors.Wrapf(ErrUnknownStation, "station %d", s)
		}
	}
	e.Domains = e.Domains.Restrict(known)
	if len(e.Domains) == 0 {
		return errors.Wrap(ErrUnknownStation, "no station inside the universe")
	}
	key, err := c.universe.Vector(known)
	if err != nil {
		return err
	}
	e.key = key
	return nil
}

// split partitions stations into those inside the universe and those outside.
func (c *Cache) split(stations []packing.Station) (known, outside []packing.Station) {
	for _, s := range stations {
		if c.universe.Has(s) {
			known = append(known, s)
		} else {
			outside = append(outside, s)
		}
	}
	return known, outside
}

func (e *SATEntry) Stations() []packing.Station { return e.Witness.Stations() }

func (e *UNSATEntry) Stations() []packing.Station { return e.Domains.Stations() }

// ProveSATBySuperset looks for a cached witness over a superset of the
// query's stations that places every query station inside its query domain.
// The witness restricted to the query is returned. Query stations outside the
// universe that no relation mentions take their lowest channel.
func (c *Cache) ProveSATBySuperset(domains packing.Domains) (packing.Witness, bool) {
	stations, outside := c.split(domains.Stations())
	if len(stations) == 0 {
		return nil, false
	}
	for _, s := range outside {
		if len(c.model.Neighbors(s)) > 0 {
			return nil, false
		}
	}
	w, ok := c.findSAT(stations, domains)
	if !ok {
		return nil, false
	}
	for _, s := range outside {
		w[s] = slices.Min(domains[s])
	}
	return w, true
}

func (c *Cache) findSAT(stations []packing.Station, domains packing.Domains) (packing.Witness, bool) {
	key, err := c.universe.Vector(stations)
	if err != nil {
		return nil, false
	}
	snap := c.snap.Load()

	best, start := 0, -1
	for k, list := range snap.sat {
		i, found := slices.BinarySearchFunc(list, key, func(e *SATEntry, q BitVector) int { return c.perms.compare(k, e.key, q) })
		if found {
			for j := i; j < len(list) && list[j].key.Equal(key); j++ {
				if w, ok := satMatch(list[j], stations, domains); ok {
					return w, true
				}
			}
		}
		if i > start {
			best, start = k, i
		}
	}
	list := snap.sat[best]
	for i := len(list) - 1; i >= start; i-- {
		e := list[i]
		if !e.key.Contains(key) {
			continue
		}
		if w, ok := satMatch(e, stations, domains); ok {
			return w, true
		}
	}
	return nil, false
}

func satMatch(e *SATEntry, stations []packing.Station, domains packing.Domains) (packing.Witness, bool) {
	for _, s := range stations {
		c, ok := e.Witness[s]
		if !ok || !domains.Allows(s, c) {
			return nil, false
		}
	}
	return e.Witness.Restrict(stations), true
}

// ProveUNSATBySubset looks for a cached infeasible sub-problem over a subset
// of the query's stations whose recorded domains are at least as permissive
// as the query's. Query stations outside the universe are ignored.
func (c *Cache) ProveUNSATBySubset(domains packing.Domains) (*UNSATEntry, bool) {
	known, _ := c.split(domains.Stations())
	key, err := c.universe.Vector(known)
	if err != nil {
		return nil, false
	}
	snap := c.snap.Load()

	best, end := 0, -1
	for k, list := range snap.unsat {
		i, found := slices.BinarySearchFunc(list, key, func(e *UNSATEntry, q BitVector) int { return c.perms.compare(k, e.key, q) })
		for ; found && i < len(list) && list[i].key.Equal(key); i++ {
			if unsatMatch(list[i], domains) {
				return list[i], true
			}
		}
		if end < 0 || i < end {
			best, end = k, i
		}
	}
	list := snap.unsat[best]
	for i := 0; i < end; i++ {
		e := list[i]
		if key.Contains(e.key) && unsatMatch(e, domains) {
			return e, true
		}
	}
	return nil, false
}

func unsatMatch(e *UNSATEntry, domains packing.Domains) bool {
	for s := range e.Domains {
		if !e.Domains.Covers(s, domains[s]) {
			return false
		}
	}
	return true
}

// AddSAT records w. Store failures are logged; the entry is still served
// from memory.
func (c *Cache) AddSAT(ctx context.Context, w packing.Witness) (*SATEntry, error) {
	e := &SATEntry{ID: uuid.NewString(), Witness: maps.Clone(w)}
	if err := c.prepareSAT(e); err != nil {
		return nil, errors.Wrap(err, "invalid SAT entry")
	}
	if c.store != nil {
		if err := c.store.AppendSAT(ctx, e); err != nil {
			c.log.WithError(err).WithField("id", e.ID).Warn("failed to persist SAT entry")
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.snap.Load()
	next := &snapshot{sat: make([][]*SATEntry, len(old.sat)), unsat: old.unsat}
	for k, list := range old.sat {
		next.sat[k] = insertSorted(list, e, func(a *SATEntry) int { return c.perms.compare(k, a.key, e.key) })
	}
	c.snap.Store(next)
	return e, nil
}

func (c *Cache) AddUNSAT(ctx context.Context, domains packing.Domains) (*UNSATEntry, error) {
	e := &UNSATEntry{ID: uuid.NewString(), Domains: maps.Clone(domains)}
	if err := c.prepareUNSAT(e); err != nil {
		return nil, errors.Wrap(err, "invalid UNSAT entry")
	}
	if c.store != nil {
		if err := c.store.AppendUNSAT(ctx, e); err != nil {
			c.log.WithError(err).WithField("id", e.ID).Warn("failed to persist UNSAT entry")
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.snap.Load()
	next := &snapshot{sat: old.sat, unsat: make([][]*UNSATEntry, len(old.unsat))}
	for k, list := range old.unsat {
		next.unsat[k] = insertSorted(list, e, func(a *UNSATEntry) int { return c.perms.compare(k, a.key, e.key) })
	}
	c.snap.Store(next)
	return e, nil
}

// insertSorted returns a new slice with e placed after every element that
// does not compare greater than it.
func insertSorted[E any](list []E, e E, cmp func(E) int) []E {
	pos, _ := slices.BinarySearchFunc(list, e, func(a E, _ E) int {
		if cmp(a) > 0 {
			return 1
		}
		return -1
	})
	out := make([]E, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, e)
	return append(out, list[pos:]...)
}

type Stats struct {
	SAT   int `json:"sat"`
	UNSAT int `json:"unsat"`
}

func (c *Cache) Stats() Stats {
	snap := c.snap.Load()
	return Stats{SAT: len(snap.sat[0]), UNSAT: len(snap.unsat[0])}
}
