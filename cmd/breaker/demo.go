package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/agentuity/go-resilience/resilience"
	"github.com/agentuity/go-resilience/tui"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var demoOperations = []struct {
	name     string
	severity resilience.Severity
}{
	{"payment.charge", resilience.SeverityCritical},
	{"inventory.sync", resilience.SeverityHigh},
	{"email.send", resilience.SeverityMedium},
	{"search.index", resilience.SeverityLow},
	{"report.generate", resilience.SeverityLow},
}

var statusHeaders = []string{"OPERATION", "STATE", "STREAK", "FAILURES", "REQUESTS", "RETRY IN"}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run simulated flaky operations through full protection",
	Long: `demo drives a handful of simulated operations through retries and
circuit breakers. Failures are injected at the configured rate so you can
watch circuits trip, dead letters flow and escalations fire. With a redis
url configured the failure telemetry is published for other breaker
commands (watch, dlq, events) to observe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log, shutdown, err := env.NewTelemetry(ctx, cmd, "breaker-demo")
		if err != nil {
			return err
		}
		defer shutdown()

		count, _ := cmd.Flags().GetInt("operations")
		duration, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")
		failureRate, _ := cmd.Flags().GetFloat64("failure-rate")
		chaos, _ := cmd.Flags().GetBool("chaos")
		if count < 1 {
			return errors.New("operations must be at least 1")
		}
		if count > len(demoOperations) {
			count = len(demoOperations)
		}
		if failureRate < 0 || failureRate > 1 {
			return errors.New("failure-rate must be between 0 and 1")
		}

		config := resilience.ConfigFromEnv(log)
		if policyFile, _ := cmd.Flags().GetString("policies"); policyFile != "" {
			policies, err := resilience.LoadPolicies(policyFile)
			if err != nil {
				return err
			}
			log.Debug("loaded %d operation policies from %s", len(policies), policyFile)
			config.Policies = policies
		}
		opts := append([]resilience.Option{resilience.WithLogger(log)}, config.Options()...)
		var (
			evClient eventing.Client
			evRedis  *redis.Client
			evErr    error
		)
		tui.ShowSpinner("connecting to redis", func() {
			evClient, evRedis, evErr = newEventing(ctx, cmd, log)
		})
		if evErr != nil {
			log.Warn("running without redis telemetry: %s", evErr)
		} else {
			defer evRedis.Close()
			defer evClient.Close()
			opts = append(opts, resilience.WithEventing(evClient))
		}

		protector := resilience.New(opts...)
		if evErr == nil {
			ctrl, err := protector.ListenControl(ctx)
			if err != nil {
				log.Warn("operator control channel unavailable: %s", err)
			} else {
				defer ctrl.Close()
			}
		}
		runCtx, cancel := context.WithTimeout(ctx, duration)
		defer cancel()

		g, gctx := errgroup.WithContext(runCtx)
		for i := 0; i < count; i++ {
			op := demoOperations[i]
			g.Go(func() error {
				return runOperation(gctx, protector, op.name, op.severity, interval, failureRate)
			})
		}
		if tui.HasTTY {
			g.Go(func() error {
				return renderLoop(gctx, protector)
			})
		}
		if chaos {
			g.Go(func() error {
				return runChaos(gctx, protector, log, demoOperations[0].name, duration)
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return err
		}

		printSummary(protector)
		return nil
	},
}

func init() {
	demoCmd.Flags().Int("operations", 3, "number of simulated operations to run")
	demoCmd.Flags().Duration("duration", 30*time.Second, "how long to run the demo")
	demoCmd.Flags().Duration("interval", 250*time.Millisecond, "delay between calls per operation")
	demoCmd.Flags().Float64("failure-rate", 0.35, "probability that a single call fails")
	demoCmd.Flags().Bool("chaos", true, "force a circuit open partway through the run")
	demoCmd.Flags().String("policies", "", "per-operation policy file (yaml)")
	rootCmd.AddCommand(demoCmd)
}

func runOperation(ctx context.Context, protector *resilience.Protector, name string, severity resilience.Severity, interval time.Duration, failureRate float64) error {
	work := simulatedWork(failureRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		opctx := resilience.OperationContext{
			Operation: name,
			Severity:  severity,
			RequestID: uuid.New().String(),
			Metadata:  map[string]string{"source": "demo"},
		}
		// terminal failures are already recorded, logged and published by
		// the protector, so there is nothing left to handle here
		_ = protector.ExecuteWithFullProtection(ctx, opctx, work)
	}
}

// simulatedWork returns a function that fails at the given rate with a mix
// of transient and permanent errors, so retries, breakers and dead letters
// all get exercised.
func simulatedWork(failureRate float64) resilience.RetryableFunc {
	return func(ctx context.Context) error {
		delay := time.Duration(5+rand.Intn(20)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if rand.Float64() >= failureRate {
			return nil
		}
		switch rand.Intn(4) {
		case 0:
			return resilience.WithCode(errors.New("upstream gateway timed out"), resilience.CodeTimeout)
		case 1:
			return errors.New("connection reset by peer")
		case 2:
			return resilience.Transient(errors.New("shard is rebalancing"))
		default:
			return resilience.WithCode(errors.New("payload failed validation"), resilience.CodeValidationError)
		}
	}
}

func runChaos(ctx context.Context, protector *resilience.Protector, log logger.Logger, operation string, duration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration / 3):
	}
	log.Warn("chaos: forcing circuit open for %s", operation)
	protector.Registry().ForceOpen(operation)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration / 3):
	}
	log.Info("chaos: resetting circuit for %s", operation)
	protector.ResetCircuitBreaker(operation)
	return nil
}

func statusRows(status map[string]resilience.BreakerStatus, now time.Time) [][]string {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := status[name]
		retryIn := "-"
		if s.StateName == "OPEN" && s.NextAttempt.After(now) {
			retryIn = s.NextAttempt.Sub(now).Round(time.Second).String()
		}
		rows = append(rows, []string{
			name,
			tui.State(s.StateName),
			strconv.Itoa(s.Failures),
			strconv.FormatUint(s.TotalFailures, 10),
			strconv.FormatUint(s.Requests, 10),
			retryIn,
		})
	}
	return rows
}

func renderLoop(ctx context.Context, protector *resilience.Protector) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tui.ClearScreen()
			fmt.Println(tui.Title(" circuit breakers"))
			fmt.Println(tui.Table(statusHeaders, statusRows(protector.CircuitBreakerStatus(), time.Now())))
			fmt.Println(tui.Muted(" ctrl-c to stop"))
		}
	}
}

func printSummary(protector *resilience.Protector) {
	if tui.HasTTY {
		tui.ClearScreen()
	}
	fmt.Println(tui.Title(" demo complete"))
	fmt.Println(tui.Table(statusHeaders, statusRows(protector.CircuitBreakerStatus(), time.Now())))
	health := protector.HealthCheck()
	if health.Healthy {
		tui.ShowSuccess("all %d circuits closed", health.Total)
	} else {
		tui.ShowWarning("%d of %d circuits open: %s", health.Open, health.Total, strings.Join(health.OpenOperations, ", "))
	}
	fmt.Println(tui.Muted(fmt.Sprintf(" host memory %.1f%% used", health.Memory.UsedPercent)))
}
