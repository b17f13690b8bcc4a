package oracle

import (
	"context"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"
	"github.com/sirupsen/logrus"

	"stationpacking/constraint"
	"stationpacking/packing"
)

// Gini runs go-air/gini. The previous assignment is assumed on a first
// attempt; if that does not produce a model the formula is solved again
// without assumptions.
type Gini struct {
	model *constraint.Model
	log   logrus.FieldLogger
}

func NewGini(m *constraint.Model, log logrus.FieldLogger) *Gini {
	return &Gini{model: m, log: log.WithField("oracle", "gini")}
}

func (o *Gini) Name() string { return "gini" }

func (o *Gini) Solve(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", r).Error("solver crashed")
			resp = Response{Result: packing.Crashed, Runtime: time.Since(start)}
		}
	}()
	if req.Budget <= 0 {
		return Response{Result: packing.Timeout}
	}

	f := Encode(o.model, req.Domains, req.Seed)
	g := gini.New()
	for _, clause := range f.Clauses {
		for _, l := range clause {
			g.Add(z.Dimacs2Lit(l))
		}
		g.Add(z.LitNull)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Budget)
	defer cancel()

	result := 0
	if hint := f.Hint(req.Previous); len(hint) > 0 {
		for _, l := range hint {
			g.Assume(z.Dimacs2Lit(l))
		}
		result = waitForSolution(ctx, g.GoSolve())
		if result != satisfiable && ctx.Err() == nil {
			o.log.WithField("hinted", len(hint)).Debug("previous assignment does not extend, solving without it")
			result = 0
		}
	}
	if result == 0 && ctx.Err() == nil {
		result = waitForSolution(ctx, g.GoSolve())
	}

	switch result {
	case satisfiable:
		return finish(o.log, o.model, f, func(v int) bool { return g.Value(z.Dimacs2Lit(v)) }, start)
	case unsatisfiable:
		return Response{Result: packing.UNSAT, Runtime: time.Since(start)}
	}
	return Response{Result: packing.Timeout, Runtime: time.Since(start)}
}

func waitForSolution(ctx context.Context, gs inter.Solve) int {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()

	for {
		if result, ok := gs.Test(); ok {
			return result
		}
		select {
		case <-ctx.Done():
			return gs.Stop()
		case <-t.C:
		}
	}
}
