package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/resilience"
	"github.com/agentuity/go-resilience/tui"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow escalation notifications published over redis",
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

		sub, err := client.Subscribe(ctx, resilience.SubjectEscalations, func(ctx context.Context, msg eventing.Message) {
			var note resilience.EscalationNotification
			if err := json.Unmarshal(msg.Data(), &note); err != nil {
				log.Error("failed to decode escalation: %s", err)
				return
			}
			fmt.Printf("%s %s %s %s attempts=%d %s\n",
				tui.Muted(note.Timestamp.Local().Format(time.TimeOnly)),
				tui.SeverityText(note.Severity.String()),
				tui.Bold(note.Operation),
				tui.Warning(string(note.Reason)),
				note.Attempts,
				note.ErrorMessage)
		})
		if err != nil {
			return err
		}
		defer sub.Close()

		if all, _ := cmd.Flags().GetBool("all"); all {
			stateSub, err := client.Subscribe(ctx, resilience.SubjectCircuitState, func(ctx context.Context, msg eventing.Message) {
				var event struct {
					Operation string    `json:"operation"`
					From      string    `json:"from"`
					To        string    `json:"to"`
					Timestamp time.Time `json:"timestamp"`
				}
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					log.Error("failed to decode state change: %s", err)
					return
				}
				fmt.Printf("%s %s %s -> %s\n",
					tui.Muted(event.Timestamp.Local().Format(time.TimeOnly)),
					tui.Bold(event.Operation),
					tui.State(event.From),
					tui.State(event.To))
			})
			if err != nil {
				return err
			}
			defer stateSub.Close()
		}

		log.Info("watching %s, ctrl-c to stop", resilience.SubjectEscalations)
		<-ctx.Done()
		return nil
	},
}

func init() {
	eventsCmd.Flags().Bool("all", false, "also show circuit state changes")
	rootCmd.AddCommand(eventsCmd)
}
