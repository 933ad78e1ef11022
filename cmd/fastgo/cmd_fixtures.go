package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fastgo/internal/discover"
	"fastgo/internal/fixture"
)

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "inspect the fixture registry",
}

var fixturesGraphCmd = &cobra.Command{
	Use:   "graph [paths...]",
	Short: "dump the resolved fixture dependency graph, level by level",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := args
		if len(roots) == 0 {
			roots = cfg.Discovery.Roots
		}

		engine := discover.NewEngine(cfg.Discovery)
		result := engine.Discover(roots)

		reg := fixture.NewRegistry()
		names := make([]string, 0, len(result.Fixtures))
		for _, f := range result.Fixtures {
			reg.Register(f)
			names = append(names, f.Name)
		}

		plan, err := reg.Resolve(names)
		if err != nil {
			return fmt.Errorf("resolve fixture graph: %w", err)
		}

		for level, levelNames := range plan.Levels {
			fmt.Printf("level %d:\n", level)
			for _, name := range levelNames {
				f, _ := reg.Get(name)
				fmt.Printf("  %s (scope=%s, autouse=%t, deps=%v)\n", name, f.Scope, f.Autouse, f.Dependencies)
			}
		}
		return nil
	},
}

func init() {
	fixturesCmd.AddCommand(fixturesGraphCmd)
}
