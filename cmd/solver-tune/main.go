package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stationpacking/cache"
	"stationpacking/constraint"
	"stationpacking/internal/packingtest"
	"stationpacking/loader"
	"stationpacking/packing"
	"stationpacking/solver"
)

func main() {
	root := &cobra.Command{
		Use:          "solver-tune",
		Short:        "Benchmark station packing configurations",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newGenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type runOptions struct {
	interference string
	runs         int
	oracles      []string
	bounds       []string
	budget       time.Duration
	parallel     int
	shareCache   bool
	debug        bool
}

func newRunCmd() *cobra.Command {
	o := runOptions{}
	cmd := &cobra.Command{
		Use:   "run [instance files...]",
		Short: "Solve instances repeatedly under every oracle and bound combination",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), o, args)
		},
	}
	cmd.Flags().StringVar(&o.interference, "interference", "", "interference file (.csv, .json or .yaml)")
	cmd.Flags().IntVar(&o.runs, "runs", 5, "number of runs per instance and configuration")
	cmd.Flags().StringSliceVar(&o.oracles, "oracle", []string{"gini", "gophersat"}, "oracles to compare")
	cmd.Flags().StringSliceVar(&o.bounds, "bound", []string{"none", "relaxed", "exact"}, "underconstrained bounds to compare")
	cmd.Flags().DurationVar(&o.budget, "budget", 10*time.Second, "budget per solve")
	cmd.Flags().IntVar(&o.parallel, "parallel", 4, "concurrent solves")
	cmd.Flags().BoolVar(&o.shareCache, "cache", false, "share one containment cache across the runs of a configuration")
	cmd.Flags().BoolVar(&o.debug, "debug", false, "debug logging")
	cmd.MarkFlagRequired("interference")
	return cmd
}

type runResult struct {
	instance string
	result   packing.Result
	stage    string
	elapsed  time.Duration
}

func run(ctx context.Context, out io.Writer, o runOptions, paths []string) error {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if o.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	relations, err := loader.LoadInterference(o.interference)
	if err != nil {
		return err
	}
	model, err := constraint.New(relations)
	if err != nil {
		return err
	}
	var instances []loader.Instance
	for _, p := range paths {
		inst, err := loader.LoadInstance(p)
		if err != nil {
			return err
		}
		instances = append(instances, inst)
	}

	fmt.Fprintf(out, "Stations: %d, Relations: %d, Instances: %d\n", len(model.Stations()), model.Relations(), len(instances))
	fmt.Fprintf(out, "Runs per config: %d, Budget: %v\n\n", o.runs, o.budget)

	// instance name -> configuration label -> conclusive results seen
	seen := map[string]map[string]packing.Result{}
	for _, oracleName := range o.oracles {
		for _, bound := range o.bounds {
			label := fmt.Sprintf("oracle=%s bound=%s cache=%t", oracleName, bound, o.shareCache)
			results, err := runConfig(ctx, log, model, oracleName, bound, instances, o)
			if err != nil {
				return errors.Wrap(err, label)
			}
			printStats(out, label, results, o.runs*len(instances))
			for _, r := range results {
				if !r.result.Conclusive() {
					continue
				}
				if seen[r.instance] == nil {
					seen[r.instance] = map[string]packing.Result{}
				}
				seen[r.instance][label] = r.result
			}
		}
	}

	disagreements := 0
	for name, byLabel := range seen {
		results := map[packing.Result]bool{}
		for _, r := range byLabel {
			results[r] = true
		}
		if len(results) > 1 {
			disagreements++
			fmt.Fprintf(out, "DISAGREEMENT on %s: %v\n", name, byLabel)
		}
	}
	if disagreements > 0 {
		return errors.Errorf("%d instances got conflicting answers", disagreements)
	}
	return nil
}

func runConfig(ctx context.Context, log logrus.FieldLogger, model *constraint.Model, oracleName, bound string, instances []loader.Instance, o runOptions) ([]runResult, error) {
	cfg := solver.DefaultConfig
	cfg.Oracle = oracleName
	cfg.Bound = bound
	options := []solver.Option{solver.WithLogger(log)}
	if o.shareCache {
		u := cache.NewUniverse(model.Stations())
		c, err := cache.New(model, u, cache.RandomPermutations(u.Size(), 4, 1), nil, nil, cache.WithLogger(log))
		if err != nil {
			return nil, err
		}
		options = append(options, solver.WithCache(c))
	}
	s, err := solver.New(model, cfg, options...)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var results []runResult
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)
	for _, inst := range instances {
		for range o.runs {
			g.Go(func() error {
				budget := o.budget
				if inst.Budget() > 0 {
					budget = inst.Budget()
				}
				out, err := s.Solve(ctx, solver.Request{
					Domains:  inst.Domains,
					Previous: inst.Previous,
					Budget:   budget,
					Seed:     inst.Seed,
				})
				if err != nil {
					return errors.Wrap(err, inst.Name)
				}
				mu.Lock()
				defer mu.Unlock()
				results = append(results, runResult{instance: inst.Name, result: out.Result, stage: out.Stage, elapsed: out.Runtime})
				return nil
			})
		}
	}
	return results, g.Wait()
}

func printStats(out io.Writer, label string, results []runResult, runs int) {
	byResult := map[packing.Result]int{}
	byStage := map[string]int{}
	var totalTime, maxTime time.Duration
	for _, r := range results {
		totalTime += r.elapsed
		maxTime = max(maxTime, r.elapsed)
		byResult[r.result]++
		byStage[r.stage]++
	}

	fmt.Fprintf(out, "--- %s ---\n", label)
	if runs == 0 {
		fmt.Fprintf(out, "  no runs\n\n")
		return
	}
	fmt.Fprintf(out, "  avg time: %v, max time: %v\n", totalTime/time.Duration(runs), maxTime)

	fmt.Fprintf(out, "  result distribution:\n")
	for _, r := range []packing.Result{packing.SAT, packing.UNSAT, packing.Timeout, packing.Crashed} {
		if c := byResult[r]; c > 0 {
			fmt.Fprintf(out, "    %s: %d/%d runs (%.0f%%)\n", r, c, runs, float64(c)/float64(runs)*100)
		}
	}

	stages := make([]string, 0, len(byStage))
	for st := range byStage {
		stages = append(stages, st)
	}
	sort.Slice(stages, func(i, j int) bool {
		if byStage[stages[i]] != byStage[stages[j]] {
			return byStage[stages[i]] > byStage[stages[j]]
		}
		return stages[i] < stages[j]
	})
	fmt.Fprintf(out, "  decided by: ")
	for i, st := range stages {
		if i > 0 {
			fmt.Fprint(out, ", ")
		}
		fmt.Fprintf(out, "%s %d", st, byStage[st])
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)
}

type genOptions struct {
	dir       string
	stations  int
	width     int
	relations int
	count     int
	seed      int64
}

func newGenCmd() *cobra.Command {
	o := genOptions{}
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a random interference file and instances over it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gen(cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.dir, "dir", "tmp", "output directory")
	cmd.Flags().IntVar(&o.stations, "stations", 40, "stations per instance")
	cmd.Flags().IntVar(&o.width, "width", 6, "channels per domain before random removal")
	cmd.Flags().IntVar(&o.relations, "relations", 120, "random relations")
	cmd.Flags().IntVar(&o.count, "count", 10, "number of instances")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "random seed")
	return cmd
}

// gen draws one interference file and count domain maps over it. The first
// draw fixes the relations; later draws contribute only their domains.
func gen(out io.Writer, o genOptions) error {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	rng := rand.New(rand.NewSource(o.seed))
	base := packingtest.Random(rng, o.stations, o.width, o.relations)

	relPath := filepath.Join(o.dir, "interference.json")
	if err := writeFile(relPath, func(w io.Writer) error { return loader.EncodeInterferenceJSON(w, base.Relations) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d relations)\n", relPath, len(base.Relations))

	for i := range o.count {
		domains := base.Domains
		if i > 0 {
			domains = packingtest.Random(rng, o.stations, o.width, 0).Domains
		}
		inst := loader.Instance{Name: fmt.Sprintf("instance-%03d", i), Domains: domains, Seed: rng.Int63()}
		path := filepath.Join(o.dir, inst.Name+".json")
		if err := writeFile(path, func(w io.Writer) error { return loader.EncodeInstance(w, inst) }); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "wrote %d instances to %s\n", o.count, o.dir)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
