package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/agentuity/go-resilience/resilience"
	"github.com/agentuity/go-resilience/tui"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter stream",
}

var dlqWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow dead-letter records, including any backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := env.NewLogger(cmd)
		client, rdb, err := newEventing(ctx, cmd, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		defer client.Close()

		group, _ := cmd.Flags().GetString("group")
		asJSON, _ := cmd.Flags().GetBool("json")
		sub, err := client.QueueSubscribe(ctx, resilience.SubjectDeadLetter, group, func(ctx context.Context, msg eventing.Message) {
			printDeadLetter(log, msg, asJSON)
		})
		if err != nil {
			return err
		}
		defer sub.Close()

		log.Info("watching %s as group %s, ctrl-c to stop", resilience.SubjectDeadLetter, group)
		<-ctx.Done()
		return nil
	},
}

var dlqDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Consume dead letters until the stream goes idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := env.NewLogger(cmd)
		group, _ := cmd.Flags().GetString("group")
		idle, _ := cmd.Flags().GetDuration("idle")
		asJSON, _ := cmd.Flags().GetBool("json")
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !tui.Ask(log, fmt.Sprintf("Consume and acknowledge dead letters for group %s?", group), false) {
			return nil
		}

		client, rdb, err := newEventing(ctx, cmd, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		defer client.Close()

		var count atomic.Int64
		var lastSeen atomic.Int64
		lastSeen.Store(time.Now().UnixNano())
		sub, err := client.QueueSubscribe(ctx, resilience.SubjectDeadLetter, group, func(ctx context.Context, msg eventing.Message) {
			count.Add(1)
			lastSeen.Store(time.Now().UnixNano())
			printDeadLetter(log, msg, asJSON)
		})
		if err != nil {
			return err
		}
		defer sub.Close()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if time.Since(time.Unix(0, lastSeen.Load())) > idle {
					tui.ShowSuccess("drained %d dead letters", count.Load())
					return nil
				}
			}
		}
	},
}

func init() {
	dlqCmd.PersistentFlags().String("group", "breaker-dlq", "consumer group name")
	dlqCmd.PersistentFlags().Bool("json", false, "print raw record json")
	dlqDrainCmd.Flags().Duration("idle", 5*time.Second, "stop after the stream is idle this long")
	dlqDrainCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	dlqCmd.AddCommand(dlqWatchCmd)
	dlqCmd.AddCommand(dlqDrainCmd)
	rootCmd.AddCommand(dlqCmd)
}

func printDeadLetter(log logger.Logger, msg eventing.Message, asJSON bool) {
	if asJSON {
		fmt.Println(string(msg.Data()))
		return
	}
	var record resilience.DeadLetterRecord
	if err := json.Unmarshal(msg.Data(), &record); err != nil {
		log.Error("failed to decode dead letter: %s", err)
		return
	}
	fmt.Printf("%s %s %s attempts=%d %s\n",
		tui.Muted(record.Timestamp.Local().Format(time.TimeOnly)),
		tui.SeverityText(record.Severity.String()),
		tui.Bold(record.Operation),
		record.Attempts,
		record.ErrorMessage)
	if record.ErrorCode != "" {
		fmt.Printf("  %s %s\n", tui.Muted("code"), record.ErrorCode)
	}
	fmt.Printf("  %s %s\n", tui.Muted("fingerprint"), record.Fingerprint)
	if record.RequestID != "" {
		fmt.Printf("  %s %s\n", tui.Muted("request"), record.RequestID)
	}
}
