package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kasdex/kasdex/internal/batchwriter"
	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/config"
	"github.com/kasdex/kasdex/internal/dedup"
	"github.com/kasdex/kasdex/internal/filter"
	"github.com/kasdex/kasdex/internal/health"
	"github.com/kasdex/kasdex/internal/logging"
	"github.com/kasdex/kasdex/internal/mapping"
	"github.com/kasdex/kasdex/internal/nodeclient"
	"github.com/kasdex/kasdex/internal/pipeline"
	"github.com/kasdex/kasdex/internal/singleton"
	"github.com/kasdex/kasdex/internal/storage/postgres"
	"github.com/kasdex/kasdex/internal/vcp"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the block pipeline and virtual-chain processor",
	RunE:  runIndexer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	guard, err := singleton.Acquire(checkpointDir(cfg.FilterConfig))
	if err != nil {
		return fmt.Errorf("acquire singleton lock: %w", err)
	}
	defer guard.Release() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := postgres.Open(ctx, cfg.DatabaseURL, log.Named("postgres"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	cp := checkpoint.New(store)

	if cfg.InitializeDB || cfg.UpgradeDB {
		if err := store.Migrate(ctx, cfg.InitializeDB, cfg.UpgradeDB); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		if err := cp.SetSchemaVersion(ctx, checkpoint.CurrentSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	} else {
		if err := store.Migrate(ctx, false, false); err != nil {
			return fmt.Errorf("schema check: %w", err)
		}
		if err := cp.CheckSchemaVersion(ctx, checkpoint.CurrentSchemaVersion); err != nil {
			return fmt.Errorf("schema version check: %w", err)
		}
	}

	fc, err := filter.LoadFile(cfg.FilterConfig)
	if err != nil {
		return fmt.Errorf("load filter config: %w", err)
	}

	registry := filter.NewRegistry(log.Named("filter"))
	if err := registry.Bootstrap(ctx, store, fc); err != nil {
		return fmt.Errorf("bootstrap tag registry: %w", err)
	}

	engine, err := filter.Compile(fc)
	if err != nil {
		return fmt.Errorf("compile filter config: %w", err)
	}

	classifier := filter.NewClassifier(engine, registry)

	watcher := filter.NewWatcher(cfg.FilterConfig, log.Named("filter"), func(newFC *filter.FileConfig, newEngine *filter.Engine) {
		if err := registry.Bootstrap(ctx, store, newFC); err != nil {
			log.Warn("failed to re-bootstrap tag registry after filter reload", zap.Error(err))
			return
		}
		classifier.SetEngine(newEngine)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn("filter config watcher stopped", zap.Error(err))
		}
	}()

	mapper := mapping.New(classifier, cfg, cfg.EnableSeqCom)

	promReg := prometheus.NewRegistry()
	metrics := health.New(promReg)

	writerOpts := batchwriter.DefaultOptions()
	writers := batchwriter.New(store, writerOpts, log.Named("batchwriter"), skipCounter{metrics})
	writers.Start(ctx)
	defer writers.Close()

	clientOpts := nodeclient.DefaultOptions()
	clientOpts.IncludeSeqCom = cfg.EnableSeqCom
	client, err := nodeclient.Dial(ctx, cfg.RPCURL, clientOpts)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer client.Close()

	pipelineOpts := pipeline.DefaultOptions()
	pipelineOpts.BatchScale = cfg.BatchScale
	pipelineOpts.IgnoreCheckpoint = cfg.IgnoreCheckpoint
	pl := pipeline.New(client, dedup.New(cfg.CacheTTL), mapper, writers, cp, pipelineOpts, log.Named("pipeline"), metrics)

	var vcpProcessor *vcp.Processor
	if !cfg.Disabled("vcp") {
		vcpOpts := vcp.DefaultOptions()
		vcpOpts.IncludeTxAcceptance = !cfg.Disabled("transaction_processing")
		vcpOpts.WaitForSync = cfg.VCPWaitForSync
		vcpProcessor = vcp.New(client, store, cp, pl, vcpOpts, log.Named("vcp"), metrics)
	}

	healthServer := health.NewServer(cfg.HTTPListen, metrics, 2*time.Minute, promReg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthServer.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pl.Run(ctx); err != nil {
			errCh <- fmt.Errorf("pipeline: %w", err)
		}
	}()

	if vcpProcessor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := vcpProcessor.Run(ctx); err != nil {
				errCh <- fmt.Errorf("vcp: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal, draining", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		log.Error("component failed, shutting down", zap.Error(err))
		cancel()
		runErr = err
	case <-ctx.Done():
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		log.Warn("shutdown grace period elapsed before all stages drained")
	}

	return runErr
}

// checkpointDir derives the directory the single-instance lock guards: the
// directory containing the filter config, which every deployment already
// provisions and mounts alongside the rest of this process's state.
func checkpointDir(filterConfigPath string) string {
	return filepath.Dir(filterConfigPath)
}

// skipCounter adapts health.Metrics to batchwriter.SkipLogger.
type skipCounter struct {
	metrics *health.Metrics
}

func (s skipCounter) SkippedBlock(blockHash string, err error) {
	if s.metrics != nil {
		s.metrics.RowsSkipped.Inc()
	}
}
