package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/semsql/pkg/cache"
)

var (
	cacheClearFunction string
	cacheClearOlder    int
	cacheBrowseFunc    string
	cacheBrowseLimit   int
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheBrowseCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)

	cacheClearCmd.Flags().StringVar(&cacheClearFunction, "function", "", "only clear entries for this function")
	cacheClearCmd.Flags().IntVar(&cacheClearOlder, "older-than-days", 0, "only clear entries older than N days")

	cacheBrowseCmd.Flags().StringVar(&cacheBrowseFunc, "function", "", "filter to this function")
	cacheBrowseCmd.Flags().IntVar(&cacheBrowseLimit, "limit", 50, "max rows to print")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the two-tier semantic result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print L1/L2 occupancy and per-function hit counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openCache()
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := c.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		fmt.Printf("L1: %d/%d entries\n", stats.L1Entries, stats.L1MaxSize)
		fmt.Printf("L2: %d entries, %d hits, %d bytes\n", stats.L2Entries, stats.L2TotalHits, stats.L2TotalBytes)
		for _, fs := range stats.ByFunction {
			fmt.Printf("  %-30s entries=%-6d hits=%-6d bytes=%d\n", fs.FunctionName, fs.Entries, fs.TotalHits, fs.TotalBytes)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict cache entries matching the given filter (all entries if none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openCache()
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := c.Clear(context.Background(), cache.ClearFilter{
			FunctionName:  cacheClearFunction,
			OlderThanDays: cacheClearOlder,
		})
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		fmt.Printf("cleared %d entries\n", n)
		return nil
	},
}

var cacheBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List cached entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openCache()
		if err != nil {
			return err
		}
		defer closeFn()

		rows, err := c.Browse(context.Background(), cache.ListOptions{
			FunctionName: cacheBrowseFunc,
			Limit:        cacheBrowseLimit,
		})
		if err != nil {
			return fmt.Errorf("browse: %w", err)
		}
		for _, r := range rows {
			fmt.Printf("%s  %-30s hits=%-6d created=%s\n", r.CacheKey, r.FunctionName, r.HitCount, r.CreatedAt.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one pass of expired-entry pruning (L1 immediately, L2 asks the store to compact)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openCache()
		if err != nil {
			return err
		}
		defer closeFn()

		n := c.PruneExpired(context.Background())
		fmt.Printf("pruned %d expired L1 entries\n", n)
		return nil
	},
}

// openCache wires a Cache from the resolved engine config's L2 backend
// setting, returning a no-op close func for backends that need no teardown.
func openCache() (*cache.Cache, func(), error) {
	cfg := loadConfig()

	var l2 cache.L2Store
	switch cfg.Cache.L2Backend {
	case "clickhouse":
		l2 = cache.NewClickHouseL2(cfg.Cache.ClickHouseDSN, "", "")
	case "sqlite", "":
		path := cfg.Cache.SQLitePath
		if path == "" {
			path = "semsql_cache.db"
		}
		s, err := cache.NewSQLiteL2(path, "")
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		l2 = s
	case "none":
		l2 = nil
	default:
		return nil, nil, fmt.Errorf("unknown cache.l2_backend %q", cfg.Cache.L2Backend)
	}

	c := cache.New(cache.Options{L1MaxSize: cfg.Cache.L1MaxSize, L2: l2})
	closeFn := func() {
		if closer, ok := l2.(interface{ Close() error }); ok && closer != nil {
			closer.Close()
		}
	}
	return c, closeFn, nil
}
