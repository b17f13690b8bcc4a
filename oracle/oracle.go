// Package oracle decides small packing instances with an off-the-shelf SAT
// solver under a wall-clock budget.
package oracle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stationpacking/constraint"
	"stationpacking/packing"
)

type Request struct {
	Domains packing.Domains
	// Previous is tried first where the solver supports it. It never
	// changes the answer, only how fast it is found.
	Previous packing.Witness
	Budget   time.Duration
	Seed     int64
}

// Response carries a witness only when Result is SAT.
type Response struct {
	Result  packing.Result
	Witness packing.Witness
	Runtime time.Duration
}

// Oracle decides a residual core. Oracles never return an error: a budget
// overrun is Timeout and a solver failure is Crashed.
type Oracle interface {
	Name() string
	Solve(ctx context.Context, req Request) Response
}

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// ByName builds one of the bundled oracles.
func ByName(name string, m *constraint.Model, log logrus.FieldLogger) (Oracle, error) {
	switch name {
	case "gini":
		return NewGini(m, log), nil
	case "gophersat":
		return NewGophersat(m, log), nil
	}
	return nil, errors.Errorf("unknown oracle %q", name)
}

// finish checks a decoded witness against the model. A solver that reports
// SAT with a bad model is treated as crashed.
func finish(log logrus.FieldLogger, m *constraint.Model, f *CNF, value func(int) bool, start time.Time) Response {
	w, err := f.Decode(value)
	if err == nil {
		err = m.Verify(w.Assignment())
	}
	if err != nil {
		log.WithError(err).Error("solver returned an invalid model")
		return Response{Result: packing.Crashed, Runtime: time.Since(start)}
	}
	return Response{Result: packing.SAT, Witness: w, Runtime: time.Since(start)}
}
