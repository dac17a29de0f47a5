package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/agentuity/go-resilience/env"
	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/resilience"
	"github.com/agentuity/go-resilience/tui"
	"github.com/spf13/cobra"
)

type observedState struct {
	State string
	Since time.Time
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow circuit breaker state changes published over redis",
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

		var mu sync.Mutex
		states := make(map[string]observedState)

		sub, err := client.Subscribe(ctx, resilience.SubjectCircuitState, func(ctx context.Context, msg eventing.Message) {
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
			mu.Lock()
			states[event.Operation] = observedState{State: event.To, Since: event.Timestamp}
			mu.Unlock()
			if !tui.HasTTY {
				log.Info("%s %s -> %s", event.Operation, event.From, event.To)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Close()

		log.Info("watching %s, ctrl-c to stop", resilience.SubjectCircuitState)
		if !tui.HasTTY {
			<-ctx.Done()
			return nil
		}

		refresh, _ := cmd.Flags().GetDuration("refresh")
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				mu.Lock()
				rows := watchRows(states)
				mu.Unlock()
				tui.ClearScreen()
				fmt.Println(tui.Title(" circuit breakers (observed)"))
				if len(rows) == 0 {
					fmt.Println(tui.Muted(" no state changes seen yet"))
				} else {
					fmt.Println(tui.Table([]string{"OPERATION", "STATE", "SINCE"}, rows))
				}
				fmt.Println(tui.Muted(" ctrl-c to stop"))
			}
		}
	},
}

func init() {
	watchCmd.Flags().Duration("refresh", 2*time.Second, "how often to redraw the table")
	rootCmd.AddCommand(watchCmd)
}

func watchRows(states map[string]observedState) [][]string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := states[name]
		rows = append(rows, []string{
			name,
			tui.State(s.State),
			s.Since.Local().Format(time.TimeOnly),
		})
	}
	return rows
}
