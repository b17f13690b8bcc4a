// Package solver composes the packing pipeline: cache lookups, decomposition
// into interference components, underconstrained-station reduction and the
// SAT oracle, followed by verification and cache write-back.
package solver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stationpacking/cache"
	"stationpacking/constraint"
	"stationpacking/grouping"
	"stationpacking/oracle"
	"stationpacking/packing"
	"stationpacking/underconstrained"
)

type Config struct {
	// Oracle is "gini" or "gophersat".
	Oracle string
	// Bound is the extra underconstrained test: "none", "relaxed" or "exact".
	Bound        string
	ExactMaxVars int
	// DefaultBudget applies to requests that carry none.
	DefaultBudget time.Duration
}

var DefaultConfig = Config{
	Oracle:        "gini",
	Bound:         "relaxed",
	ExactMaxVars:  underconstrained.DefaultExactMaxVars,
	DefaultBudget: time.Minute,
}

func (c Config) bounds() ([]underconstrained.Bound, error) {
	switch c.Bound {
	case "", "none":
		return nil, nil
	case "relaxed":
		return []underconstrained.Bound{underconstrained.Relaxed{}}, nil
	case "exact":
		return []underconstrained.Bound{underconstrained.Relaxed{}, underconstrained.Exact{MaxVars: c.ExactMaxVars}}, nil
	}
	return nil, errors.Errorf("unknown bound %q", c.Bound)
}

type Request struct {
	Domains packing.Domains
	// Previous is a hint only. It never enters a cache key.
	Previous packing.Witness
	Budget   time.Duration
	Seed     int64
}

// Outcome is the answer to a request or to one component. Witness and
// Assignment are set only for SAT. Stage names whatever decided it.
type Outcome struct {
	Result     packing.Result
	Assignment packing.Assignment
	Witness    packing.Witness
	Runtime    time.Duration
	Stage      string

	// core is the residual problem a reducing stage proved infeasible
	core packing.Domains
}

// Observer is told about cache lookups and solved components.
type Observer interface {
	CacheLookup(kind string, hit bool)
	ComponentSolved(size int, result packing.Result, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(string, bool) {}

func (nopObserver) ComponentSolved(int, packing.Result, time.Duration) {}

type Solver struct {
	model    *constraint.Model
	cache    *cache.Cache
	oracle   oracle.Oracle
	observer Observer
	log      logrus.FieldLogger
	cfg      Config

	whole     []Stage
	component []Stage
}

type Option func(s *Solver)

func WithCache(c *cache.Cache) Option {
	return func(s *Solver) {
		s.cache = c
	}
}

// WithOracle overrides the oracle named in the config.
func WithOracle(o oracle.Oracle) Option {
	return func(s *Solver) {
		s.oracle = o
	}
}

func WithObserver(o Observer) Option {
	return func(s *Solver) {
		s.observer = o
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Solver) {
		s.log = log
	}
}

func New(m *constraint.Model, cfg Config, options ...Option) (*Solver, error) {
	s := &Solver{model: m, cfg: cfg, observer: nopObserver{}, log: logrus.StandardLogger()}
	for _, o := range options {
		o(s)
	}
	bounds, err := cfg.bounds()
	if err != nil {
		return nil, err
	}
	if s.oracle == nil {
		if s.oracle, err = oracle.ByName(cfg.Oracle, m, s.log); err != nil {
			return nil, err
		}
	}
	if cfg.DefaultBudget <= 0 {
		s.cfg.DefaultBudget = DefaultConfig.DefaultBudget
	}

	if s.cache != nil {
		s.whole = []Stage{
			&cacheSATStage{cache: s.cache, observer: s.observer},
			&cacheUNSATStage{cache: s.cache, observer: s.observer},
		}
	}
	// component stages start with the whole-instance ones
	s.component = append(s.component, s.whole...)
	s.component = append(s.component,
		&previousStage{model: m},
		&reducingStage{
			model:  m,
			finder: underconstrained.NewFinder(m, s.log, bounds...),
			oracle: s.oracle,
			log:    s.log.WithField("stage", "reduce"),
		},
	)
	return s, nil
}

// Solve decides one request. Errors are returned only for malformed input
// and internal inconsistencies; budget overruns and solver failures are
// reported through Outcome.Result.
func (s *Solver) Solve(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	if err := req.Domains.Validate(); err != nil {
		return Outcome{}, err
	}
	domains := packing.NewDomains(req.Domains)
	budget := req.Budget
	if budget <= 0 {
		budget = s.cfg.DefaultBudget
	}
	deadline := start.Add(budget)
	log := s.log.WithFields(logrus.Fields{"stations": len(domains), "budget": budget})

	inst := &Instance{Domains: domains, Previous: req.Previous, Seed: req.Seed}
	for _, st := range s.whole {
		out, err := st.Apply(ctx, inst, time.Until(deadline))
		if err != nil {
			return Outcome{}, err
		}
		if out.Result != packing.Unknown {
			out.Stage = st.Name()
			return s.finish(log, out, start), nil
		}
	}

	components := grouping.BySize(grouping.Components(s.model, domains))
	parts := grouping.Split(domains, components)
	stages := s.component
	if len(parts) == 1 {
		stages = stages[len(s.whole):]
	}
	log.WithField("components", len(parts)).Debug("decomposed")

	merged := packing.Witness{}
	deciding := ""
	for _, part := range parts {
		if ctx.Err() != nil || time.Until(deadline) <= 0 {
			return s.finish(log, Outcome{Result: packing.Timeout, Stage: "decomposition"}, start), nil
		}
		comp := &Instance{Domains: part, Previous: req.Previous.Restrict(part.Stations()), Seed: req.Seed}
		compStart := time.Now()
		out, err := s.solveComponent(ctx, stages, comp, deadline)
		if err != nil {
			log.WithError(err).Error("component failed")
			return Outcome{}, err
		}
		s.observer.ComponentSolved(len(part), out.Result, time.Since(compStart))
		if out.Result != packing.SAT {
			if out.Result == packing.UNSAT && out.core != nil {
				s.remember(ctx, log, out)
			}
			return s.finish(log, out, start), nil
		}
		if err := merged.Merge(out.Witness); err != nil {
			return Outcome{}, err
		}
		deciding = out.Stage
	}

	if !merged.Fits(domains) {
		err := errors.Wrap(packing.ErrInconsistent, "merged witness does not cover the instance")
		log.WithError(err).Error("verification failed")
		return Outcome{}, err
	}
	if err := s.model.Verify(merged.Assignment()); err != nil {
		err = errors.Wrapf(packing.ErrInconsistent, "merged witness: %v", err)
		log.WithError(err).Error("verification failed")
		return Outcome{}, err
	}
	if len(parts) > 1 {
		deciding = "decomposition"
	}
	out := Outcome{Result: packing.SAT, Witness: merged, Stage: deciding}
	s.remember(ctx, log, out)
	return s.finish(log, out, start), nil
}

func (s *Solver) solveComponent(ctx context.Context, stages []Stage, inst *Instance, deadline time.Time) (Outcome, error) {
	for _, st := range stages {
		out, err := st.Apply(ctx, inst, time.Until(deadline))
		if err != nil {
			return Outcome{}, errors.Wrapf(err, "stage %s", st.Name())
		}
		if out.Result != packing.Unknown {
			out.Stage = st.Name()
			return out, nil
		}
	}
	return Outcome{Result: packing.Crashed, Stage: "none"}, nil
}

// remember writes a conclusive outcome back to the cache. Write failures are
// logged only.
func (s *Solver) remember(ctx context.Context, log logrus.FieldLogger, out Outcome) {
	if s.cache == nil {
		return
	}
	var err error
	switch out.Result {
	case packing.SAT:
		_, err = s.cache.AddSAT(ctx, out.Witness)
	case packing.UNSAT:
		_, err = s.cache.AddUNSAT(ctx, out.core)
	default:
		return
	}
	if err != nil {
		log.WithError(err).WithField("result", out.Result).Warn("cache write-back skipped")
	}
}

func (s *Solver) finish(log logrus.FieldLogger, out Outcome, start time.Time) Outcome {
	out.Runtime = time.Since(start)
	if out.Result == packing.SAT {
		out.Assignment = out.Witness.Assignment()
	} else {
		out.Witness = nil
	}
	out.core = nil
	log.WithFields(logrus.Fields{
		"result":  out.Result,
		"stage":   out.Stage,
		"elapsed": out.Runtime,
	}).Info("solved")
	return out
}
