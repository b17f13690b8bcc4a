package underconstrained

import (
	"fmt"

	"github.com/crillab/gophersat/maxsat"

	"stationpacking/packing"
)

// Relaxed bounds joint blocking by letting every neighbour block its single
// worst channel set independently.
type Relaxed struct{}

func (Relaxed) Name() string { return "relaxed" }

func (Relaxed) Underconstrained(domain []packing.Channel, blockers []Blocker) bool {
	total := 0
	for _, b := range blockers {
		worst := 0
		for _, own := range b.Blocks {
			worst = max(worst, len(own))
		}
		total += worst
		if total >= len(domain) {
			return false
		}
	}
	return total < len(domain)
}

// DefaultExactMaxVars caps the MaxSAT formulation size.
const DefaultExactMaxVars = 400

// Exact computes the largest number of channels the neighbours can block
// together, one channel per neighbour, as a weighted partial MaxSAT problem.
// Interference among the neighbours themselves is ignored, so the optimum is
// an upper bound on what a real placement can block.
type Exact struct {
	// MaxVars skips instances needing more variables. Zero means
	// DefaultExactMaxVars.
	MaxVars int
}

func (Exact) Name() string { return "exact" }

func (e Exact) Underconstrained(domain []packing.Channel, blockers []Blocker) bool {
	limit := e.MaxVars
	if limit == 0 {
		limit = DefaultExactMaxVars
	}

	covers := map[packing.Channel][]maxsat.Lit{}
	var constrs []maxsat.Constr
	nvars := len(domain)
	for _, b := range blockers {
		var placements []maxsat.Lit
		for c, own := range b.Blocks {
			x := maxsat.Var(fmt.Sprintf("x%d@%d", b.Neighbor, c))
			placements = append(placements, x)
			for _, d := range own {
				covers[d] = append(covers[d], x)
			}
		}
		nvars += len(placements)
		if nvars > limit {
			return false
		}
		for i := range placements {
			for j := i + 1; j < len(placements); j++ {
				constrs = append(constrs, maxsat.HardClause(placements[i].Negation(), placements[j].Negation()))
			}
		}
	}
	for _, d := range domain {
		if len(covers[d]) == 0 {
			return true
		}
		blocked := maxsat.Var(fmt.Sprintf("b%d", d))
		constrs = append(constrs, maxsat.HardClause(append([]maxsat.Lit{blocked.Negation()}, covers[d]...)...))
		constrs = append(constrs, maxsat.SoftClause(blocked))
	}

	model, cost := maxsat.New(constrs...).Solve()
	if model == nil {
		return false
	}
	// cost counts the channels left unblocked by the best adversarial placement
	return cost > 0
}
