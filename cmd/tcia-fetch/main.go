package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medcohort/tcia-fetch/pkg/config"
	"github.com/medcohort/tcia-fetch/pkg/logging"
	"github.com/medcohort/tcia-fetch/pkg/scancache"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	// Global flags
	verbose   bool
	cfgPath   string
	redisAddr string

	cfg    config.Config
	logger zerolog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "tcia-fetch",
	Short: "Fetch and classify report-bearing imaging studies from TCIA",
	Long: `tcia-fetch builds local cohorts of report-bearing patients from
The Cancer Imaging Archive (TCIA).

It enumerates a collection's patient studies page by page into a durable
local cache, probes each patient's series inventory for report series
(SR modality or report-like descriptions), and gathers each qualifying
patient's most recent study until the requested quota is met.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if redisAddr != "" {
			cfg.RedisAddr = redisAddr
		}

		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.Setup(logging.Config{
			Level:  level,
			Pretty: true,
			Output: os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address for the scan cache (empty disables it)")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(collectionsCmd)
}

// newClient builds the TCIA API client from the loaded config.
func newClient() (*tcia.Client, error) {
	return tcia.New(tcia.Config{
		BaseURL:        cfg.APIBaseURL,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		BackoffStep:    cfg.BackoffStep,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openScanCache returns the Redis-backed scan cache, or nil when no
// Redis address is configured or the server is unreachable.
func openScanCache(cmd *cobra.Command) *scancache.Store {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(cmd.Context()).Err(); err != nil {
		logger.Warn().Err(err).Str("redis", cfg.RedisAddr).Msg("scan cache unreachable, continuing without it")
		client.Close()
		return nil
	}
	return scancache.NewStore(client, cfg.ScanCacheTTL)
}
