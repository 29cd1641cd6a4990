package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/semsql/pkg/tracker"
)

func init() {
	trackerCmd.AddCommand(trackerCostsCmd)
	trackerCmd.AddCommand(trackerFingerprintCmd)
	rootCmd.AddCommand(trackerCmd)
}

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Inspect the query lifecycle tracker",
}

var trackerCostsCmd = &cobra.Command{
	Use:   "costs [caller-id]",
	Short: "Print a caller's rolled-up cost/token/llm-call totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openTrackerStore()
		defer store.Close()

		summary, err := store.AggregateCosts(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("aggregate costs: %w", err)
		}
		fmt.Printf("caller:       %s\n", args[0])
		fmt.Printf("total_cost:   %.6f\n", summary.TotalCost)
		fmt.Printf("tokens_in:    %d\n", summary.TotalTokensIn)
		fmt.Printf("tokens_out:   %d\n", summary.TotalTokensOut)
		fmt.Printf("llm_calls:    %d\n", summary.LLMCallsCount)
		return nil
	},
}

var trackerFingerprintCmd = &cobra.Command{
	Use:   "fingerprint [sql]",
	Short: "Print a query's fingerprint, template, classification, and harvested UDF types",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fp, template, udfTypes := tracker.Fingerprint(args[0])
		queryType := tracker.ClassifyQueryType(udfTypes, args[0])
		fmt.Printf("fingerprint: %s\n", fp)
		fmt.Printf("template:    %s\n", template)
		fmt.Printf("query_type:  %s\n", queryType)
		fmt.Printf("udf_types:   %v\n", udfTypes)
	},
}

// openTrackerStore wires a Store from the resolved engine config's tracker
// backend setting.
func openTrackerStore() tracker.Store {
	cfg := loadConfig()
	if cfg.Tracker.Backend == "clickhouse" {
		return tracker.NewClickHouseStore(cfg.Tracker.ClickHouseDSN, "", "")
	}
	return tracker.NewMemoryStore()
}
