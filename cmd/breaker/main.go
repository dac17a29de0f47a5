package main

import (
	"context"
	"os"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/agentuity/go-resilience/mask"
	"github.com/agentuity/go-resilience/tui"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Operational companion for the resilience runtime",
	Long: `breaker drives and observes the resilience runtime: it runs simulated
operations through retries and circuit breakers, follows breaker state
changes and escalations published by running services, and inspects the
dead-letter stream.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
			return env.LoadEnvFile(envFile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", "", "load environment variables from this file first")
	rootCmd.PersistentFlags().String("redis-url", "", "redis connection url for failure telemetry")
	rootCmd.PersistentFlags().Bool("no-telemetry", false, "disable otlp telemetry export")
	rootCmd.PersistentFlags().String("otlp-url", "", "otlp collector url")
	rootCmd.PersistentFlags().String("otlp-shared-secret", "", "otlp bearer credential")
}

func newRedis(ctx context.Context, cmd *cobra.Command, log logger.Logger) (*redis.Client, error) {
	redisURL := env.FlagOrEnv(cmd, "redis-url", "RESILIENCE_REDIS_URL", "redis://localhost:6379")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}
	masked, _ := mask.URL(redisURL)
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", masked)
	}
	log.Debug("connected to redis at %s", masked)
	return client, nil
}

func newEventing(ctx context.Context, cmd *cobra.Command, log logger.Logger) (eventing.Client, *redis.Client, error) {
	rdb, err := newRedis(ctx, cmd, log)
	if err != nil {
		return nil, nil, err
	}
	client, err := eventing.NewRedisClient(ctx, log, rdb)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return client, rdb, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.ShowError("%s", err)
		os.Exit(1)
	}
}
