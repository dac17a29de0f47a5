package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/resilience"
	"github.com/agentuity/go-resilience/tui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ask live processes for a circuit breaker snapshot",
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

		reply := "resilience.reply." + uuid.New().String()
		var mu sync.Mutex
		merged := make(map[string]resilience.BreakerStatus)

		sub, err := client.Subscribe(ctx, reply, func(ctx context.Context, msg eventing.Message) {
			var snapshot map[string]resilience.BreakerStatus
			if err := json.Unmarshal(msg.Data(), &snapshot); err != nil {
				log.Error("failed to decode status snapshot: %s", err)
				return
			}
			mu.Lock()
			for operation, status := range snapshot {
				merged[operation] = status
			}
			mu.Unlock()
		})
		if err != nil {
			return err
		}
		defer sub.Close()
		time.Sleep(50 * time.Millisecond)

		payload, err := json.Marshal(resilience.ControlCommand{Action: resilience.ControlStatus, Reply: reply, Timestamp: time.Now()})
		if err != nil {
			return err
		}
		if err := client.Publish(ctx, resilience.SubjectControl, payload); err != nil {
			return err
		}

		wait, _ := cmd.Flags().GetDuration("wait")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		mu.Lock()
		defer mu.Unlock()
		if len(merged) == 0 {
			tui.ShowWarning("no live processes answered within %s", wait)
			return nil
		}
		fmt.Println(tui.Title(" circuit breakers"))
		fmt.Println(tui.Table(statusHeaders, statusRows(merged, time.Now())))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <operation>",
	Short: "Reset an operation's circuit breaker in all listening processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControl(cmd, resilience.ControlReset, args[0],
			fmt.Sprintf("Reset the circuit for %s in all listening processes?", args[0]), true)
	},
}

var forceOpenCmd = &cobra.Command{
	Use:   "force-open <operation>",
	Short: "Force an operation's circuit breaker open in all listening processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControl(cmd, resilience.ControlForceOpen, args[0],
			fmt.Sprintf("Force the circuit for %s open? Calls will fail fast until it is reset.", args[0]), false)
	},
}

func sendControl(cmd *cobra.Command, action resilience.ControlAction, operation, prompt string, defaultYes bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := env.NewLogger(cmd)
	if yes, _ := cmd.Flags().GetBool("yes"); !yes && !tui.Ask(log, prompt, defaultYes) {
		return nil
	}

	client, rdb, err := newEventing(ctx, cmd, log)
	if err != nil {
		return err
	}
	defer rdb.Close()
	defer client.Close()

	payload, err := json.Marshal(resilience.ControlCommand{Action: action, Operation: operation, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, resilience.SubjectControl, payload,
		eventing.WithHeader("operation", operation)); err != nil {
		return err
	}
	tui.ShowSuccess("%s requested for %s", action, operation)
	return nil
}

func init() {
	statusCmd.Flags().Duration("wait", 2*time.Second, "how long to wait for snapshots")
	resetCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	forceOpenCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(forceOpenCmd)
}
