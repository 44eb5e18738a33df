package main

import (
	"github.com/spf13/cobra"

	"github.com/kasdex/kasdex/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "kasdex",
	Short: "Kaspa DAG indexer: block pipeline, virtual-chain processor, and health/metrics surface",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("rpc-url", "", "Kaspa node websocket RPC address")
	flags.String("network", "", "network name (mainnet, testnet-10, ...)")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.Float64("batch-scale", 0, "scales queue capacities and batch thresholds (0.1-10)")
	flags.Duration("cache-ttl", 0, "dedup cache entry lifetime")
	flags.String("ignore-checkpoint", "", `"p" (pruning point), "v" (virtual parent), an explicit hash, or empty`)
	flags.StringSlice("disable", nil, "feature or table names to disable")
	flags.StringSlice("exclude-fields", nil, "optional block fields to omit from storage")
	flags.String("filter-config", "", "path to the filter configuration YAML file")
	flags.String("http-listen", "", "address the health/metrics server listens on")
	flags.Bool("enable-seqcom", false, "persist sequencing commitment rows")
	flags.Bool("vcp-wait-for-sync", true, "gate the virtual-chain processor on block pipeline progress")
	flags.String("log-path", "", "rotating log file path")

	if err := config.Initialize(flags); err != nil {
		cobra.CheckErr(err)
	}
}
