package oracle

import (
	"context"
	"time"

	"github.com/crillab/gophersat/solver"
	"github.com/sirupsen/logrus"

	"stationpacking/constraint"
	"stationpacking/packing"
)

// Gophersat runs the crillab/gophersat CDCL solver. The solver cannot be
// interrupted, so on a budget overrun its goroutine is left to finish on its
// own and the result is discarded. It ignores the previous assignment.
type Gophersat struct {
	model *constraint.Model
	log   logrus.FieldLogger
}

func NewGophersat(m *constraint.Model, log logrus.FieldLogger) *Gophersat {
	return &Gophersat{model: m, log: log.WithField("oracle", "gophersat")}
}

func (o *Gophersat) Name() string { return "gophersat" }

type gophersatResult struct {
	status solver.Status
	model  []bool
	panic  any
}

func (o *Gophersat) Solve(ctx context.Context, req Request) Response {
	start := time.Now()
	if req.Budget <= 0 {
		return Response{Result: packing.Timeout}
	}

	done := make(chan gophersatResult, 1)
	var f *CNF
	go func() {
		var res gophersatResult
		defer func() {
			if r := recover(); r != nil {
				res.panic = r
			}
			done <- res
		}()
		f = Encode(o.model, req.Domains, req.Seed)
		s := solver.New(solver.ParseSlice(f.Clauses))
		res.status = s.Solve()
		if res.status == solver.Sat {
			res.model = s.Model()
		}
	}()

	timer := time.NewTimer(req.Budget)
	defer timer.Stop()
	select {
	case res := <-done:
		switch {
		case res.panic != nil:
			o.log.WithField("panic", res.panic).Error("solver crashed")
			return Response{Result: packing.Crashed, Runtime: time.Since(start)}
		case res.status == solver.Sat:
			return finish(o.log, o.model, f, func(v int) bool { return v-1 < len(res.model) && res.model[v-1] }, start)
		case res.status == solver.Unsat:
			return Response{Result: packing.UNSAT, Runtime: time.Since(start)}
		}
		return Response{Result: packing.Crashed, Runtime: time.Since(start)}
	case <-timer.C:
	case <-ctx.Done():
	}
	return Response{Result: packing.Timeout, Runtime: time.Since(start)}
}
