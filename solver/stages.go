package solver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stationpacking/cache"
	"stationpacking/constraint"
	"stationpacking/oracle"
	"stationpacking/packing"
	"stationpacking/underconstrained"
)

// Instance is the problem a stage is asked about: the whole request or one
// component of it.
type Instance struct {
	Domains  packing.Domains
	Previous packing.Witness
	Seed     int64
}

// Stage is one step of the pipeline. An Unknown result passes the instance
// on to the next stage; an error aborts the request.
type Stage interface {
	Name() string
	Apply(ctx context.Context, inst *Instance, remaining time.Duration) (Outcome, error)
}

type cacheSATStage struct {
	cache    *cache.Cache
	observer Observer
}

func (*cacheSATStage) Name() string { return "cache-sat" }

func (st *cacheSATStage) Apply(ctx context.Context, inst *Instance, remaining time.Duration) (Outcome, error) {
	w, ok := st.cache.ProveSATBySuperset(inst.Domains)
	st.observer.CacheLookup("sat", ok)
	if !ok {
		return Outcome{}, nil
	}
	return Outcome{Result: packing.SAT, Witness: w}, nil
}

type cacheUNSATStage struct {
	cache    *cache.Cache
	observer Observer
}

func (*cacheUNSATStage) Name() string { return "cache-unsat" }

func (st *cacheUNSATStage) Apply(ctx context.Context, inst *Instance, remaining time.Duration) (Outcome, error) {
	_, ok := st.cache.ProveUNSATBySubset(inst.Domains)
	st.observer.CacheLookup("unsat", ok)
	if !ok {
		return Outcome{}, nil
	}
	return Outcome{Result: packing.UNSAT}, nil
}

// previousStage accepts the previous assignment when it already solves the
// instance.
type previousStage struct {
	model *constraint.Model
}

func (*previousStage) Name() string { return "previous" }

func (st *previousStage) Apply(ctx context.Context, inst *Instance, remaining time.Duration) (Outcome, error) {
	if len(inst.Previous) == 0 {
		return Outcome{}, nil
	}
	w := inst.Previous.Restrict(inst.Domains.Stations())
	if !w.Fits(inst.Domains) || st.model.Verify(w.Assignment()) != nil {
		return Outcome{}, nil
	}
	return Outcome{Result: packing.SAT, Witness: w}, nil
}

// reducingStage strips underconstrained stations, hands the residual core to
// the oracle and reinserts the stripped stations into its witness. It always
// decides.
type reducingStage struct {
	model  *constraint.Model
	finder *underconstrained.Finder
	oracle oracle.Oracle
	log    logrus.FieldLogger
}

func (*reducingStage) Name() string { return "reduce" }

func (st *reducingStage) Apply(ctx context.Context, inst *Instance, remaining time.Duration) (Outcome, error) {
	removed, err := st.finder.Find(ctx, inst.Domains)
	if err != nil {
		return Outcome{Result: packing.Timeout}, nil
	}
	core := inst.Domains.Without(removed)

	w := packing.Witness{}
	if len(core) > 0 {
		resp := st.oracle.Solve(ctx, oracle.Request{
			Domains:  core,
			Previous: inst.Previous,
			Budget:   remaining,
			Seed:     inst.Seed,
		})
		st.log.WithFields(logrus.Fields{
			"core":    len(core),
			"removed": len(removed),
			"oracle":  st.oracle.Name(),
			"result":  resp.Result,
			"elapsed": resp.Runtime,
		}).Debug("core solved")
		switch resp.Result {
		case packing.SAT:
			w = resp.Witness
		case packing.UNSAT:
			return Outcome{Result: packing.UNSAT, core: core}, nil
		default:
			return Outcome{Result: resp.Result}, nil
		}
	}
	if err := underconstrained.Reinsert(st.model, w, removed, inst.Domains); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: packing.SAT, Witness: w}, nil
}
