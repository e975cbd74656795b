// Command syncd runs the FieldOps sync daemon: it owns the durable
// operation queue and drains it to the remote API whenever the device
// is online. It also ships small operator commands for inspecting and
// reviving queued work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opsquill/fieldops/backend/internal/api"
	"github.com/opsquill/fieldops/backend/internal/config"
	"github.com/opsquill/fieldops/backend/internal/db"
	"github.com/opsquill/fieldops/backend/internal/logging"
	"github.com/opsquill/fieldops/backend/internal/models"
	syncer "github.com/opsquill/fieldops/backend/internal/sync"
	"github.com/opsquill/fieldops/backend/internal/sync/connectivity"
	"github.com/opsquill/fieldops/backend/internal/sync/events"
	"github.com/opsquill/fieldops/backend/internal/sync/processor"
	"github.com/opsquill/fieldops/backend/internal/sync/queue"
	"github.com/opsquill/fieldops/backend/internal/sync/trigger"
)

// Version is set at build time.
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "syncd",
	Short:   "FieldOps offline sync daemon",
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)

		env, err := openEnv(cfg)
		if err != nil {
			return err
		}
		defer env.close()

		wake := trigger.NewWakeListener(cfg.Sync.WakeChannelURL)

		orch := syncer.New(syncer.Options{
			Queue:         env.manager,
			Processor:     processor.New(api.NewClient(cfg.API)),
			Connectivity:  env.conn,
			Wake:          wake,
			Bus:           env.bus,
			PollInterval:  cfg.Sync.PollInterval,
			DebounceDelay: cfg.Sync.DebounceDelay,
		})

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := orch.Start(ctx); err != nil {
			return err
		}

		logging.Info("Sync daemon running", map[string]interface{}{
			"data_dir": cfg.DataDir,
			"api_base": cfg.API.BaseURL,
			"version":  Version,
		})

		<-ctx.Done()
		orch.Stop()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and any items awaiting retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		env, err := openEnv(cfg)
		if err != nil {
			return err
		}
		defer env.close()

		counts, err := env.manager.Counts()
		if err != nil {
			return err
		}
		fmt.Printf("pending: %d\nfailed:  %d\ndead:    %d\n",
			counts.Pending, counts.Failed, counts.Dead)

		items, err := env.manager.List()
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Status == models.StatusPending && it.LastError == "" {
				continue
			}
			fmt.Printf("  %s  %-16s %-8s retries=%d  %s\n",
				it.ID, it.Kind, it.Status, it.RetryCount, it.LastError)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)

		env, err := openEnv(cfg)
		if err != nil {
			return err
		}
		defer env.close()

		orch := syncer.New(syncer.Options{
			Queue:        env.manager,
			Processor:    processor.New(api.NewClient(cfg.API)),
			Connectivity: env.conn,
			Bus:          env.bus,
		})

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := orch.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("synced: %d, failed: %d\n", res.Synced, res.Failed)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Reset a failed or dead item so the next pass retries it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		env, err := openEnv(cfg)
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.manager.ResetItem(args[0]); err != nil {
			return err
		}
		fmt.Printf("item %s reset to pending\n", args[0])
		return nil
	},
}

// daemonEnv bundles the storage-backed pieces every command needs.
type daemonEnv struct {
	database *db.DB
	manager  *queue.Manager
	bus      *events.Bus
	conn     *connectivity.Monitor
}

func openEnv(cfg *config.Config) (*daemonEnv, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	store := db.NewQueueStore(database)
	if err := store.InitSchema(); err != nil {
		database.Close()
		return nil, err
	}

	bus := events.NewBus()
	manager := queue.NewManager(store, bus,
		queue.WithMaxRetries(cfg.Sync.MaxRetries),
		queue.WithMaxSize(cfg.Sync.QueueCapacity))

	// The daemon has no platform connectivity callback to hook into, so
	// it starts online and relies on per-request failures plus retries.
	return &daemonEnv{
		database: database,
		manager:  manager,
		bus:      bus,
		conn:     connectivity.NewMonitor(true),
	}, nil
}

func (e *daemonEnv) close() {
	e.database.Close()
}

func initLogging(cfg *config.Config) {
	level := logging.LogLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		logging.InitFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, level)
		return
	}
	logging.Init(os.Stdout, level)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default: built-in defaults plus FIELDOPS_* env)")
	rootCmd.AddCommand(runCmd, statusCmd, syncCmd, retryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
