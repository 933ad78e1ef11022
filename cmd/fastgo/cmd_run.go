package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fastgo/internal/discover"
	"fastgo/internal/exec"
	"fastgo/internal/fixture"
	"fastgo/internal/hooks"
	"fastgo/internal/result"
	"fastgo/internal/strategy"
	"fastgo/internal/vm"
	"fastgo/internal/workerpool"
)

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "discover and execute tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := args
		if len(roots) == 0 {
			roots = cfg.Discovery.Roots
		}

		engine := discover.NewEngine(cfg.Discovery)
		discovered := engine.Discover(roots)
		for _, derr := range discovered.Errors {
			logger.Sugar().Warnw("discovery error", "err", derr)
		}

		res := strategy.DetectResources()
		chosen := strategy.Select(discovered.Items, cfg.Execution, res)
		logger.Sugar().Infow("strategy selected", "strategy", chosen.String(), "items", len(discovered.Items), "cores", res.NumCores)

		interp, err := vm.New()
		if err != nil {
			return fmt.Errorf("start embedded interpreter: %w", err)
		}
		for _, root := range roots {
			if err := interp.AddSearchPath(root); err != nil {
				logger.Sugar().Warnw("add search path failed", "root", root, "err", err)
			}
		}
		loadModules(discovered, interp)

		reg := fixture.NewRegistry()
		for _, f := range discovered.Fixtures {
			reg.Register(f)
		}
		cache := fixture.NewCache(cfg.Fixtures.MaxCacheSize)
		hk := hooks.New()
		agg := result.NewAggregator()
		executor := exec.New(reg, cache, interp, hk, agg)

		// WorkStealing/MassiveParallel are the two strategies §4.9
		// reserves for process-isolated execution; give the selection an
		// actual effect by routing fixture creation through the worker
		// daemon pool instead of the in-process VM.
		needsWorkerPool := chosen == strategy.WorkStealing || chosen == strategy.MassiveParallel
		if needsWorkerPool && cfg.WorkerPool.Command != "" {
			pool, err := workerpool.New(cfg.WorkerPool)
			if err != nil {
				logger.Sugar().Warnw("worker pool unavailable, falling back to in-process execution", "strategy", chosen.String(), "err", err)
			} else {
				defer pool.Close()
				executor.WorkerPool = pool
			}
		}

		if err := executor.RunBatch(context.Background(), discovered.Items); err != nil {
			return fmt.Errorf("run batch: %w", err)
		}

		printSummary(agg)
		os.Exit(agg.ExitStatus())
		return nil
	},
}

// loadModules reads every file touched by discovery exactly once and
// evaluates it into the shared interpreter namespace, continuing past
// individual load failures since a broken module should fail only the
// tests it defines, not the whole run.
func loadModules(discovered discover.Result, interp *vm.Interpreter) {
	seen := make(map[string]bool)
	load := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Sugar().Warnw("read module failed", "path", path, "err", err)
			return
		}
		if err := interp.LoadModule(path, string(content)); err != nil {
			logger.Sugar().Warnw("load module failed", "path", path, "err", err)
		}
	}
	for _, item := range discovered.Items {
		load(item.Path)
	}
	for _, f := range discovered.Fixtures {
		load(f.ModulePath)
	}
}

func printSummary(agg *result.Aggregator) {
	counts := agg.CountsByOutcome()
	fmt.Printf(
		"passed=%d failed=%d skipped=%d xfailed=%d xpassed=%d in %s\n",
		counts[result.Passed], counts[result.Failed], counts[result.Skipped],
		counts[result.XFailed], counts[result.XPassed], agg.WallClockTotal(),
	)
	for _, r := range agg.Results() {
		if r.Outcome == result.Failed {
			fmt.Printf("FAILED %s: %v\n", r.TestID, r.Error)
		}
	}
}
