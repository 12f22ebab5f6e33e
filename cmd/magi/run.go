package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magi-ai/magi/internal/telemetry"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/magi"
	"github.com/magi-ai/magi/pkg/message"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Send one prompt and stream the reply to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, _ := cmd.Flags().GetString("model")
			class, _ := cmd.Flags().GetString("class")
			system, _ := cmd.Flags().GetString("system")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			showCost, _ := cmd.Flags().GetBool("cost")
			otlp, _ := cmd.Flags().GetString("otlp-endpoint")

			logger := newLogger(cmd)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, "magi", otlp)
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			client, err := magi.New(magi.Options{
				Logger:  logger,
				Timeout: timeout,
			})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			var msgs []message.Message
			if system != "" {
				msgs = append(msgs, message.System(system))
			}
			msgs = append(msgs, message.User(strings.Join(args, " ")))

			var stream *magi.Stream
			if class != "" {
				stream, err = client.RunClass(ctx, class, msgs, magi.Params{})
			} else {
				stream, err = client.Run(ctx, modelID, msgs, magi.Params{})
			}
			if err != nil {
				return err
			}

			var failure error
			for ev := range stream.Events() {
				switch ev.Type {
				case event.TypeMessageDelta:
					fmt.Print(ev.Content)
				case event.TypeMessageComplete:
					fmt.Println()
				case event.TypeError:
					failure = ev.Err
				}
			}

			if showCost {
				snap := client.Cost()
				fmt.Fprintf(os.Stderr, "cost: $%.6f (last minute: $%.6f)\n",
					snap.Total, snap.LastMinute)
			}
			return failure
		},
	}
	cmd.Flags().StringP("model", "m", "gpt-4o", "model id or alias")
	cmd.Flags().StringP("class", "c", "", "capability class (overrides --model)")
	cmd.Flags().StringP("system", "s", "", "system instruction")
	cmd.Flags().Duration("timeout", 5*time.Minute, "request deadline")
	cmd.Flags().Bool("cost", false, "print accumulated cost to stderr")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace collector (host:port)")
	return cmd
}
